package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/starford/notegraph/internal/models"
)

const (
	// BetweennessCeiling is the node count at and above which betweenness
	// is reported as zero.
	BetweennessCeiling = 100
	// MinAnalyzedNodes is the smallest graph communities and bridges are
	// computed for.
	MinAnalyzedNodes = 3

	// SimilarityThreshold is the minimum Jaccard similarity of outgoing
	// targets for a structural match.
	SimilarityThreshold = 0.2
)

// Related-note scores and boosts.
const (
	scoreDirect       = 5.0
	scoreCluster      = 3.0
	weightSimilarity  = 2.0
	weightSharedTag   = 1.5
	boostHub          = 1.3
	boostHighDegree   = 1.2
	boostSameDir      = 1.1
	highDegreeCeiling = 5
)

// Category is the signal that surfaced a related document.
type Category string

// Related-note categories, in priority order.
const (
	CategoryDirect  Category = "direct"
	CategoryCluster Category = "cluster"
	CategorySimilar Category = "similar"
	CategoryTags    Category = "tags"
)

// Related is one related-document suggestion.
type Related struct {
	Path     string   `json:"path"`
	RelPath  string   `json:"rel_path"`
	Category Category `json:"category"`
	Reason   string   `json:"reason"`
	Score    float64  `json:"score"`
}

// Centrality holds the per-node centrality metrics.
type Centrality struct {
	Degree      float64 `json:"degree"`
	PageRank    float64 `json:"pagerank"`
	Betweenness float64 `json:"betweenness"`
}

// Stats is an aggregate summary of a graph.
type Stats struct {
	Nodes         int     `json:"nodes"`
	Edges         int     `json:"edges"`
	ResolvedEdges int     `json:"resolved_edges"`
	AvgDegree     float64 `json:"avg_degree"`
	Density       float64 `json:"density"`
	Clusters      int     `json:"clusters"`
	Hubs          int     `json:"hubs"`
	Orphans       int     `json:"orphans"`
	BrokenLinks   int     `json:"broken_links"`
	Tags          int     `json:"tags"`
	Words         int     `json:"words"`
}

// Analyzer answers read-only structural queries over a built graph.
type Analyzer struct {
	g      *models.KnowledgeGraph
	d      *Digraph
	logger *slog.Logger
}

// NewAnalyzer returns an analyzer over g. The graph must not be mutated
// while the analyzer is in use.
func NewAnalyzer(g *models.KnowledgeGraph, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{g: g, d: FromGraph(g), logger: logger}
}

// ShortestPaths returns up to max minimum-hop paths from src to dst along
// link direction.
func (a *Analyzer) ShortestPaths(src, dst string, max int) [][]string {
	return a.d.ShortestPaths(src, dst, max)
}

// Related returns documents related to path, best first. A limit of zero or
// less returns every candidate.
func (a *Analyzer) Related(path string, limit int) []Related {
	origin, ok := a.g.Nodes[path]
	if !ok {
		return nil
	}

	var out []Related
	seen := map[string]struct{}{path: {}}
	add := func(p string, c Category, reason string, score float64) {
		if _, dup := seen[p]; dup {
			return
		}
		if _, ok := a.g.Nodes[p]; !ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, Related{Path: p, Category: c, Reason: reason, Score: score})
	}

	for _, l := range origin.Doc.Links {
		if !l.Broken {
			add(l.Target, CategoryDirect, "linked from this note", scoreDirect)
		}
	}
	for _, l := range origin.Incoming {
		add(l.Source, CategoryDirect, "links to this note", scoreDirect)
	}

	if id := origin.ClusterID; id >= 0 && id < len(a.g.Clusters) {
		for _, p := range a.g.Clusters[id] {
			add(p, CategoryCluster, fmt.Sprintf("same cluster (#%d)", id), scoreCluster)
		}
	}

	others := sortedNodes(a.g)
	if targets := targetSet(origin); len(targets) > 0 {
		for _, n := range others {
			other := targetSet(n)
			if len(other) == 0 || n.Doc.Path == path {
				continue
			}
			shared := 0
			for t := range targets {
				if _, ok := other[t]; ok {
					shared++
				}
			}
			union := len(targets) + len(other) - shared
			sim := float64(shared) / float64(union)
			if shared > 0 && sim >= SimilarityThreshold {
				add(n.Doc.Path, CategorySimilar, fmt.Sprintf("%d shared links (similarity %.2f)", shared, sim), sim*weightSimilarity)
			}
		}
	}

	if len(origin.Doc.Tags) > 0 {
		for _, n := range others {
			var shared []string
			for _, t := range n.Doc.Tags {
				if origin.Doc.HasTag(t) {
					shared = append(shared, t)
				}
			}
			if len(shared) > 0 {
				add(n.Doc.Path, CategoryTags, "shared tags: "+strings.Join(shared, ", "), float64(len(shared))*weightSharedTag)
			}
		}
	}

	dir := origin.Doc.Dir()
	for i := range out {
		n := a.g.Nodes[out[i].Path]
		out[i].RelPath = n.Doc.RelPath
		if a.g.IsHub(n.Doc.Path) {
			out[i].Score *= boostHub
		}
		if n.Degree() > highDegreeCeiling {
			out[i].Score *= boostHighDegree
		}
		if n.Doc.Dir() == dir {
			out[i].Score *= boostSameDir
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func targetSet(n *models.GraphNode) map[string]struct{} {
	set := make(map[string]struct{}, len(n.Doc.Links))
	for _, l := range n.Doc.Links {
		if !l.Broken {
			set[l.Target] = struct{}{}
		}
	}
	return set
}

// Communities partitions the undirected projection by modularity, falling
// back to connected components if that fails. Singleton groups are dropped.
func (a *Analyzer) Communities() [][]string {
	if a.d.Len() < MinAnalyzedNodes {
		return nil
	}
	groups, err := a.modularity()
	if err != nil {
		a.logger.Debug("graph: modularity failed, using components", slog.String("error", err.Error()))
		groups = a.d.Components()
	}
	var out [][]string
	for _, grp := range groups {
		if len(grp) > 1 {
			sort.Strings(grp)
			out = append(out, grp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}

func (a *Analyzer) modularity() (groups [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("graph: modularity: %v", r)
		}
	}()

	ug := simple.NewUndirectedGraph()
	for i := range a.d.paths {
		ug.AddNode(simple.Node(int64(i)))
	}
	edges := 0
	for u, nb := range a.d.undirected() {
		for _, v := range nb {
			if v > u {
				ug.SetEdge(ug.NewEdge(simple.Node(int64(u)), simple.Node(int64(v))))
				edges++
			}
		}
	}
	if edges == 0 {
		return nil, nil
	}

	reduced := community.Modularize(ug, 1, nil)
	for _, comm := range reduced.Communities() {
		grp := make([]string, 0, len(comm))
		for _, n := range comm {
			grp = append(grp, a.d.paths[n.ID()])
		}
		groups = append(groups, grp)
	}
	return groups, nil
}

// Centralities returns degree, PageRank and betweenness per node. When
// PageRank does not converge or betweenness fails, PageRank is uniform and
// betweenness zero.
func (a *Analyzer) Centralities() map[string]Centrality {
	n := a.d.Len()
	out := make(map[string]Centrality, n)
	if n == 0 {
		return out
	}
	degree := a.d.DegreeCentrality()

	pr, ok := a.d.PageRank(DampingFactor, MaxIterations, Tolerance)
	var bt map[string]float64
	if ok {
		var err error
		if bt, err = a.betweenness(); err != nil {
			a.logger.Debug("graph: betweenness failed", slog.String("error", err.Error()))
			ok = false
		}
	}
	for p, deg := range degree {
		c := Centrality{Degree: deg}
		if ok {
			c.PageRank = pr[p]
			c.Betweenness = bt[p]
		} else {
			c.PageRank = 1 / float64(n)
		}
		out[p] = c
	}
	return out
}

// betweenness is normalized by 1/((n-1)(n-2)) for directed graphs. Graphs
// at or above BetweennessCeiling yield an empty map.
func (a *Analyzer) betweenness() (scores map[string]float64, err error) {
	n := a.d.Len()
	scores = make(map[string]float64, n)
	if n >= BetweennessCeiling || n < 3 {
		return scores, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("graph: betweenness: %v", r)
		}
	}()

	dg := simple.NewDirectedGraph()
	for i := range a.d.paths {
		dg.AddNode(simple.Node(int64(i)))
	}
	for u, vs := range a.d.out {
		for _, v := range vs {
			if u != v {
				dg.SetEdge(dg.NewEdge(simple.Node(int64(u)), simple.Node(int64(v))))
			}
		}
	}
	scale := 1 / float64((n-1)*(n-2))
	for id, b := range network.Betweenness(dg) {
		scores[a.d.paths[id]] = b * scale
	}
	return scores, nil
}

// Bridges returns the articulation points of the undirected projection.
func (a *Analyzer) Bridges() []string {
	if a.d.Len() < MinAnalyzedNodes {
		return nil
	}
	return a.d.ArticulationPoints()
}

// Stats summarizes the graph. Edges counts every outgoing link, broken or
// not; ResolvedEdges counts distinct resolved document pairs.
func (a *Analyzer) Stats() Stats {
	s := Stats{
		Nodes:         len(a.g.Nodes),
		ResolvedEdges: a.d.EdgeCount(),
		Clusters:      len(a.g.Clusters),
		Hubs:          len(a.g.Hubs),
		Orphans:       len(a.g.Orphans),
		BrokenLinks:   len(a.g.BrokenLinks),
	}
	tags := make(map[string]struct{})
	for _, n := range a.g.Nodes {
		s.Edges += len(n.Doc.Links)
		s.Words += n.Doc.WordCount
		for _, t := range n.Doc.Tags {
			tags[t] = struct{}{}
		}
	}
	s.Tags = len(tags)
	if s.Nodes > 0 {
		s.AvgDegree = float64(s.Edges) / float64(s.Nodes)
	}
	if s.Nodes > 1 {
		s.Density = float64(s.Edges) / float64(s.Nodes*(s.Nodes-1))
	}
	return s
}

// TopTags returns up to limit tags ordered by document count, then name.
func (a *Analyzer) TopTags(limit int) []TagCount {
	counts := make(map[string]int)
	for _, n := range a.g.Nodes {
		for _, t := range n.Doc.Tags {
			counts[t]++
		}
	}
	out := make([]TagCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, TagCount{Tag: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TagCount is a tag with the number of documents carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
