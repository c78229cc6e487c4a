package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/magpielabs/magpie/internal"
	"github.com/magpielabs/magpie/internal/api"
	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/consolidate"
	"github.com/magpielabs/magpie/internal/forget"
	"github.com/magpielabs/magpie/internal/mcpserver"
	"github.com/magpielabs/magpie/internal/memfs"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/store"
	pkgconfig "github.com/magpielabs/magpie/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	configPath := cmd.String("config")
	if _, err := os.Stat(configPath); err == nil {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openService builds the service stack for one-shot CLI commands. The
// returned closer releases the sqlite handle.
func openService(cmd *cli.Command) (*api.Service, *internal.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	repo, err := memfs.New(cfg.Memory.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, nil, err
	}

	engine := consolidate.New(repo, nil, logger)
	svc := api.NewService(db, repo, engine, logger)
	return svc, cfg, func() { _ = db.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitMessage turns domain errors into short CLI messages.
func exitMessage(err error) error {
	switch {
	case errors.Is(err, apperr.ErrConfirmationRequired):
		return cli.Exit("selection includes procedural memory; re-run with --confirm", 1)
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInvalidName):
		return cli.Exit(fmt.Sprintf("invalid input: %v", err), 1)
	case errors.Is(err, apperr.ErrNotFound):
		return cli.Exit("not found", 1)
	default:
		return err
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API server with the memory watcher and scheduler",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio for LLM integration",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, _, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			return mcpserver.New(svc).ServeStdio()
		},
	}
}

func domainCommand() *cli.Command {
	return &cli.Command{
		Name:  "domain",
		Usage: "Manage memory domains",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create a domain",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
					&cli.StringFlag{Name: "keywords", Aliases: []string{"k"}, Usage: "Comma-separated keywords"},
					&cli.StringFlag{Name: "instructions"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := cmd.Args().First()
					if name == "" {
						return cli.Exit("usage: magpie domain add <name>", 1)
					}
					svc, _, closeFn, err := openService(cmd)
					if err != nil {
						return err
					}
					defer closeFn()
					d, err := svc.CreateDomain(store.Domain{
						Name:         name,
						Description:  cmd.String("description"),
						Keywords:     splitComma(cmd.String("keywords")),
						Instructions: cmd.String("instructions"),
					})
					if err != nil {
						return exitMessage(err)
					}
					return printJSON(d)
				},
			},
			{
				Name:  "list",
				Usage: "List domains",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					svc, _, closeFn, err := openService(cmd)
					if err != nil {
						return err
					}
					defer closeFn()
					domains, err := svc.ListDomains()
					if err != nil {
						return exitMessage(err)
					}
					return printJSON(domains)
				},
			},
			{
				Name:  "show",
				Usage: "Show one domain with stats",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := cmd.Args().First()
					if name == "" {
						return cli.Exit("usage: magpie domain show <name>", 1)
					}
					svc, _, closeFn, err := openService(cmd)
					if err != nil {
						return err
					}
					defer closeFn()
					d, err := svc.GetDomain(name)
					if err != nil {
						return exitMessage(err)
					}
					stats, err := svc.DomainStats(name)
					if err != nil {
						return exitMessage(err)
					}
					return printJSON(map[string]any{"domain": d, "stats": stats})
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a domain",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Also delete the domain's items"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := cmd.Args().First()
					if name == "" {
						return cli.Exit("usage: magpie domain delete <name>", 1)
					}
					svc, _, closeFn, err := openService(cmd)
					if err != nil {
						return err
					}
					defer closeFn()
					if err := svc.DeleteDomain(name, cmd.Bool("force")); err != nil {
						if errors.Is(err, apperr.ErrConflict) && !cmd.Bool("force") &&
							!strings.EqualFold(name, models.GeneralDomain) {
							return cli.Exit("domain has items; re-run with --force", 1)
						}
						return exitMessage(err)
					}
					fmt.Println("deleted:", name)
					return nil
				},
			},
		},
	}
}

func itemCommand() *cli.Command {
	return &cli.Command{
		Name:  "item",
		Usage: "Manage stored items",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Store an item",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "domain", Aliases: []string{"D"}, Value: models.GeneralDomain},
					&cli.StringFlag{Name: "type", Value: "note"},
					&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
					&cli.StringFlag{Name: "data", Usage: "JSON object with extra fields"},
					&cli.IntFlag{Name: "priority"},
					&cli.StringFlag{Name: "due", Usage: "Due date, RFC 3339"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					title := strings.Join(cmd.Args().Slice(), " ")
					if title == "" {
						return cli.Exit("usage: magpie item add <title>", 1)
					}
					svc, _, closeFn, err := openService(cmd)
					if err != nil {
						return err
					}
					defer closeFn()

					it := store.Item{
						Title: title,
						Type:  cmd.String("type"),
						Tags:  splitComma(cmd.String("tags")),
					}
					if raw := cmd.String("data"); raw != "" {
						if err := json.Unmarshal([]byte(raw), &it.Data); err != nil {
							return cli.Exit(fmt.Sprintf("invalid input: --data must be a JSON object: %v", err), 1)
						}
					}
					if p := int(cmd.Int("priority")); p != 0 {
						it.Priority = &p
					}
					if raw := cmd.String("due"); raw != "" {
						due, err := time.Parse(time.RFC3339, raw)
						if err != nil {
							return cli.Exit("invalid input: --due must be RFC 3339", 1)
						}
						it.Due = &due
					}
					created, err := svc.CreateItem(cmd.String("domain"), it)
					if err != nil {
						return exitMessage(err)
					}
					return printJSON(created)
				},
			},
			{
				Name:  "list",
				Usage: "List items",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "domain", Aliases: []string{"D"}},
					&cli.StringFlag{Name: "type"},
					&cli.StringFlag{Name: "status"},
					&cli.StringFlag{Name: "tag"},
					&cli.StringFlag{Name: "sort", Usage: "created, updated, due or priority"},
					&cli.IntFlag{Name: "limit"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					svc, _, closeFn, err := openService(cmd)
					if err != nil {
						return err
					}
					defer closeFn()
					items, err := svc.ListItems(store.ItemFilter{
						Domain: cmd.String("domain"),
						Type:   cmd.String("type"),
						Status: cmd.String("status"),
						Tag:    cmd.String("tag"),
						Sort:   cmd.String("sort"),
						Limit:  int(cmd.Int("limit")),
					})
					if err != nil {
						return exitMessage(err)
					}
					return printJSON(items)
				},
			},
			{
				Name:  "done",
				Usage: "Mark an item done",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return cli.Exit("usage: magpie item done <id>", 1)
					}
					svc, _, closeFn, err := openService(cmd)
					if err != nil {
						return err
					}
					defer closeFn()
					status := "done"
					it, err := svc.UpdateItem(id, store.ItemPatch{Status: &status})
					if err != nil {
						return exitMessage(err)
					}
					return printJSON(it)
				},
			},
			{
				Name:  "delete",
				Usage: "Delete an item",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return cli.Exit("usage: magpie item delete <id>", 1)
					}
					svc, _, closeFn, err := openService(cmd)
					if err != nil {
						return err
					}
					defer closeFn()
					if err := svc.DeleteItem(id); err != nil {
						return exitMessage(err)
					}
					fmt.Println("deleted:", id)
					return nil
				},
			},
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Full-text search through stored items",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "domain", Aliases: []string{"D"}},
			&cli.IntFlag{Name: "limit"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			query := strings.Join(cmd.Args().Slice(), " ")
			if query == "" {
				return cli.Exit("usage: magpie search <query>", 1)
			}
			svc, _, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			items, err := svc.SearchItems(query, cmd.String("domain"), int(cmd.Int("limit")))
			if err != nil {
				return exitMessage(err)
			}
			return printJSON(items)
		},
	}
}

func detectCommand() *cli.Command {
	return &cli.Command{
		Name:  "detect",
		Usage: "Classify text into a memory domain",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text := strings.Join(cmd.Args().Slice(), " ")
			if text == "" {
				return cli.Exit("usage: magpie detect <text>", 1)
			}
			svc, _, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			domain, err := svc.Detect(text)
			if err != nil {
				return exitMessage(err)
			}
			fmt.Println(domain)
			return nil
		},
	}
}

func logCommand() *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Append an entry to today's episodic memory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "agent", Value: "cli"},
			&cli.StringFlag{Name: "task", Required: true},
			&cli.StringFlag{Name: "outcome", Required: true},
			&cli.StringFlag{Name: "domain", Aliases: []string{"D"}, Usage: "Detected from the text when empty"},
			&cli.IntFlag{Name: "importance", Aliases: []string{"i"}},
			&cli.StringFlag{Name: "artifacts", Usage: "Comma-separated paths or URLs"},
			&cli.StringFlag{Name: "followup"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, _, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			entry, err := svc.LogEpisode(models.Entry{
				Agent:      cmd.String("agent"),
				Task:       cmd.String("task"),
				Outcome:    cmd.String("outcome"),
				Domain:     cmd.String("domain"),
				Importance: int(cmd.Int("importance")),
				Artifacts:  splitComma(cmd.String("artifacts")),
				Followup:   cmd.String("followup"),
			})
			if err != nil {
				return exitMessage(err)
			}
			return printJSON(entry)
		},
	}
}

func consolidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "consolidate",
		Usage: "Merge episodic memory into semantic notes (dry-run by default)",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Usage: "Consolidate day files older than this many days"},
			&cli.IntFlag{Name: "min-importance", Usage: "Today mode: minimum importance to keep"},
			&cli.StringFlag{Name: "domain", Aliases: []string{"D"}},
			&cli.BoolFlag{Name: "today", Usage: "Consolidate only today's important entries, no archiving"},
			&cli.BoolFlag{Name: "apply", Usage: "Commit the pass instead of previewing it"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, cfg, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			opts := consolidate.Options{
				Days:          int(cmd.Int("days")),
				MinImportance: int(cmd.Int("min-importance")),
				Domain:        cmd.String("domain"),
				Apply:         cmd.Bool("apply"),
			}
			if opts.Days == 0 {
				opts.Days = cfg.Consolidate.Days
			}
			if opts.MinImportance == 0 {
				opts.MinImportance = cfg.Consolidate.MinImportance
			}
			report, err := svc.Consolidate(ctx, cmd.Bool("today"), opts)
			if err != nil {
				return exitMessage(err)
			}
			return printJSON(report)
		},
	}
}

func forgetCommand() *cli.Command {
	return &cli.Command{
		Name:  "forget",
		Usage: "Delete memory matching filters (dry-run by default)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}},
			&cli.StringFlag{Name: "domain", Aliases: []string{"D"}},
			&cli.StringFlag{Name: "type", Usage: "episodic, semantic or procedural"},
			&cli.StringFlag{Name: "before", Usage: "Select content older than this date (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "file", Usage: "A specific note name or day date"},
			&cli.BoolFlag{Name: "all", Usage: "Select everything of --type"},
			&cli.BoolFlag{Name: "apply", Usage: "Commit the deletion instead of previewing it"},
			&cli.BoolFlag{Name: "confirm", Usage: "Acknowledge deletion of procedural memory"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, _, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			sel, err := svc.Forget(forget.Filters{
				Search: cmd.String("search"),
				Domain: cmd.String("domain"),
				Type:   cmd.String("type"),
				Before: cmd.String("before"),
				File:   cmd.String("file"),
				All:    cmd.Bool("all"),
			}, cmd.Bool("apply"), cmd.Bool("confirm"))
			if err != nil {
				return exitMessage(err)
			}
			if sel.Empty() {
				fmt.Println("nothing to do")
				return nil
			}
			return printJSON(map[string]any{
				"applied":   cmd.Bool("apply"),
				"count":     sel.Count(),
				"selection": sel,
			})
		},
	}
}

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Print the memory index, rebuilding it first",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, _, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := svc.RebuildIndex(); err != nil {
				return exitMessage(err)
			}
			data, err := svc.ReadIndex()
			if err != nil {
				return exitMessage(err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	cmd := &cli.Command{
		Name:  "magpie",
		Usage: "Memory layer for automated agents: episodic logs, consolidated notes, and a queryable record store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			mcpCommand(),
			domainCommand(),
			itemCommand(),
			searchCommand(),
			detectCommand(),
			logCommand(),
			consolidateCommand(),
			forgetCommand(),
			indexCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
