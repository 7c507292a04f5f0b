package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/notegraph/internal"
	"github.com/starford/notegraph/internal/cache"
	"github.com/starford/notegraph/internal/noteservice"
	"github.com/starford/notegraph/internal/storage"
	pkgconfig "github.com/starford/notegraph/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cmd.IsSet("notes-root") {
		cfg.Notes.Root = cmd.String("notes-root")
	}
	if cmd.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// query opens the service and prints what fn returns.
func query(nargs int, usage string, fn func(ctx context.Context, cmd *cli.Command, svc *noteservice.Service) (any, error)) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() < nargs {
			return fmt.Errorf("usage: %s %s", cmd.Name, usage)
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := internal.OpenService(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
		if err != nil {
			return err
		}
		out, err := fn(ctx, cmd, svc)
		if err != nil {
			return err
		}
		return printJSON(out)
	}
}

func openCache(cmd *cli.Command) (*cache.Manager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := internal.NewLogger(os.Stderr, cfg.App.LogLevel)
	store, err := storage.NewFS(cfg.Notes.Root, storage.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return cache.New(store, cfg.Cache.Dir, logger)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("metrics-address") {
		cfg.Serve.MetricsAddress = cmd.String("metrics-address")
		if err := cfg.Serve.Validate(); err != nil {
			return err
		}
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "overview",
			Usage: "Summarize notes, hubs, clusters and recent activity",
			Action: query(0, "", func(_ context.Context, _ *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.Overview(), nil
			}),
		},
		{
			Name:      "ls",
			Usage:     "List notes and folders inside a folder",
			ArgsUsage: "[folder]",
			Action: query(0, "[folder]", func(_ context.Context, cmd *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.List(cmd.Args().First()), nil
			}),
		},
		{
			Name:      "search",
			Usage:     "Search content, paths, tags and headings",
			ArgsUsage: "<query>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum results"},
			},
			Action: query(1, "<query>", func(_ context.Context, cmd *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.Search(cmd.Args().First(), int(cmd.Int("limit"))), nil
			}),
		},
		{
			Name:      "read",
			Usage:     "Show a note with its links and backlinks",
			ArgsUsage: "<note>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "no-content", Usage: "Omit the note text"},
			},
			Action: query(1, "<note>", func(_ context.Context, cmd *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.Read(cmd.Args().First(), !cmd.Bool("no-content"))
			}),
		},
		{
			Name:      "grep",
			Usage:     "Print lines matching a regular expression",
			ArgsUsage: "<pattern>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "context", Aliases: []string{"C"}, Value: 2, Usage: "Lines of context"},
			},
			Action: query(1, "<pattern>", func(_ context.Context, cmd *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.Grep(cmd.Args().First(), int(cmd.Int("context"))), nil
			}),
		},
		{
			Name:      "glob",
			Usage:     "List notes matching a glob pattern",
			ArgsUsage: "<pattern>",
			Action: query(1, "<pattern>", func(_ context.Context, cmd *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.Glob(cmd.Args().First())
			}),
		},
		{
			Name:      "trace",
			Usage:     "Find the shortest link paths between two notes",
			ArgsUsage: "<source> <target>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "max-paths", Value: 3, Usage: "Maximum number of paths"},
			},
			Action: query(2, "<source> <target>", func(_ context.Context, cmd *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.Trace(cmd.Args().Get(0), cmd.Args().Get(1), int(cmd.Int("max-paths")))
			}),
		},
		{
			Name:      "related",
			Usage:     "Suggest notes related to a note",
			ArgsUsage: "<note>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 15, Usage: "Maximum results"},
			},
			Action: query(1, "<note>", func(_ context.Context, cmd *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.Related(cmd.Args().First(), int(cmd.Int("limit")))
			}),
		},
		{
			Name:  "stats",
			Usage: "Print aggregate graph statistics",
			Action: query(0, "", func(_ context.Context, _ *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.Stats(), nil
			}),
		},
		{
			Name:  "analyze",
			Usage: "Print communities, bridge notes and the most central notes",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "top", Value: 10, Usage: "How many central notes to print"},
			},
			Action: query(0, "", func(_ context.Context, cmd *cli.Command, svc *noteservice.Service) (any, error) {
				return svc.Analyze(int(cmd.Int("top"))), nil
			}),
		},
		{
			Name:  "cache",
			Usage: "Manage the graph cache",
			Commands: []*cli.Command{
				{
					Name:  "clear",
					Usage: "Remove the cache of the notes root",
					Action: func(_ context.Context, cmd *cli.Command) error {
						mgr, err := openCache(cmd)
						if err != nil {
							return err
						}
						mgr.Clear()
						return printJSON(map[string]string{"cleared": mgr.SnapshotPath()})
					},
				},
				{
					Name:  "stats",
					Usage: "Describe the cache of the notes root",
					Action: func(_ context.Context, cmd *cli.Command) error {
						mgr, err := openCache(cmd)
						if err != nil {
							return err
						}
						st, ok := mgr.Stats()
						if !ok {
							return printJSON(map[string]any{"cached": false})
						}
						return printJSON(st)
					},
				},
				{
					Name:  "rebuild",
					Usage: "Rebuild the graph from scratch and save it",
					Action: query(0, "", func(ctx context.Context, _ *cli.Command, svc *noteservice.Service) (any, error) {
						if err := svc.Rebuild(ctx); err != nil {
							return nil, err
						}
						return svc.Stats(), nil
					}),
				},
			},
		},
		{
			Name:  "serve",
			Usage: "Serve the note graph to MCP clients over stdio",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "metrics-address", Usage: "Serve /metrics and /health on this address, e.g. :9090"},
			},
			Action: serve,
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "notegraph",
		Usage:   "Explore a folder of Markdown notes as a link graph",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "notegraph.yaml",
				Value:       "notegraph.yaml",
				Sources:     cli.EnvVars("NOTEGRAPH_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "notes-root",
				Aliases: []string{"r"},
				Usage:   "Notes directory (overrides notes.root)",
				Sources: cli.EnvVars("NOTEGRAPH_ROOT"),
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Build the graph without reading or writing the cache",
			},
		},
		Commands: commands(),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var amb *noteservice.AmbiguousError
		if errors.As(err, &amb) {
			fmt.Fprintln(os.Stderr, amb.Error())
			os.Exit(2)
		}
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
