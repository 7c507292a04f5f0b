// Package metrics holds the Prometheus collectors for graph builds and the
// cache. They register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildsTotal counts graph builds by mode ("full" or "incremental").
	BuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notegraph_builds_total",
			Help: "Total number of graph builds",
		},
		[]string{"mode"},
	)

	// BuildDuration measures graph build time by mode.
	BuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notegraph_build_duration_seconds",
			Help:    "Duration of graph builds in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	// ParseFailures counts documents skipped because they could not be read.
	ParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notegraph_parse_failures_total",
			Help: "Total number of documents excluded from a build",
		},
	)

	// CacheLookups counts cache loads by result ("hit", "miss", "stale").
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notegraph_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheSaveFailures counts cache writes that were rolled back.
	CacheSaveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notegraph_cache_save_failures_total",
			Help: "Total number of failed cache saves",
		},
	)

	// GraphNodes tracks the node count of the most recently loaded graph.
	GraphNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notegraph_graph_nodes",
			Help: "Number of documents in the current graph",
		},
	)
)
