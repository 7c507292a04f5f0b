// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notegraph/internal/mcpserver"
	"github.com/starford/notegraph/internal/noteservice"
)

// NewLogger builds the structured JSON logger used by every command.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

func setup(opts []Option) (*application, error) {
	app := &application{logOut: os.Stderr, version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	app.logger = NewLogger(app.logOut, app.config.App.LogLevel)
	slog.SetDefault(app.logger)
	return app, nil
}

// OpenService configures logging and loads the graph for the configured
// root, from the cache when possible.
func OpenService(ctx context.Context, opts ...Option) (*noteservice.Service, error) {
	app, err := setup(opts)
	if err != nil {
		return nil, err
	}
	return app.open(ctx)
}

func (a *application) open(ctx context.Context) (*noteservice.Service, error) {
	cfg := a.config
	a.logger.Debug("Configuration loaded",
		slog.String("notes_root", cfg.Notes.Root),
		slog.Int("workers", cfg.Notes.Workers),
		slog.Bool("cache_enabled", cfg.Cache.Enabled),
		slog.String("cache_dir", cfg.Cache.Dir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	start := time.Now()
	svc, err := noteservice.Open(ctx, cfg.ServiceOptions(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("open notes: %w", err)
	}
	a.logger.Debug("Graph ready",
		slog.String("source", svc.Source()),
		slog.Int("nodes", len(svc.Graph().Nodes)),
		slog.Duration("elapsed", time.Since(start)))
	return svc, nil
}

// NewRouter serves Prometheus metrics and health checks for svc.
func NewRouter(svc *noteservice.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		g := svc.Graph()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"notes":    len(g.Nodes),
			"source":   svc.Source(),
			"built_at": g.BuiltAt,
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Run serves the note graph over MCP on stdin/stdout until the client
// disconnects or a shutdown signal arrives. When serve.metrics_address is
// set, metrics and health checks are served over HTTP alongside.
func Run(ctx context.Context, opts ...Option) error {
	app, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger

	svc, err := app.open(ctx)
	if err != nil {
		return err
	}
	srv := mcpserver.New(svc, app.version)

	var httpServer *http.Server
	if addr := cfg.Serve.MetricsAddress; addr != "" {
		httpServer = &http.Server{
			Addr:              addr,
			Handler:           NewRouter(svc),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		logger.Info("Starting MCP server on stdio", slog.String("notes_root", svc.Root()))
		if err := srv.ServeStdio(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	if httpServer != nil {
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		if httpServer == nil {
			return nil
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
