package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/phrazzld/orchestrator/internal/platform/sqlstore"
	"github.com/phrazzld/orchestrator/internal/service/auth"
	"github.com/phrazzld/orchestrator/internal/task"
)

// withApp loads configuration, builds the application and closes it after fn.
// Operator commands log to stderr so their tables stay clean on stdout.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *application) error) error {
	cfg, log, err := loadConfig(opts.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	app, err := newApplication(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer app.close()
	return fn(cmd.Context(), app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, worker and schedulers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(opts.configPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.close()
			return app.Run(cmd.Context())
		},
	}
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|reset|status|version]",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			cfg, log, err := loadConfig(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			db, dialect, err := openDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return sqlstore.Migrate(cmd.Context(), db, dialect, command, log)
		},
	}
}

func runsCmd(opts *rootOptions) *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect runs"}

	var offset, limit int
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				items, err := app.taskService.ListRuns(ctx, task.RunFilter{Offset: offset, Limit: limit, Status: status})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return printJSON(out, items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Tasks", "Created", "Updated"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Type, r.Status, len(r.TaskIDs),
						r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	list.Flags().IntVar(&limit, "limit", task.DefaultRunListLimit, "maximum runs to show")
	list.Flags().StringVar(&status, "status", "", "only runs with this status")
	runs.AddCommand(list)
	return runs
}

func dlqCmd(opts *rootOptions) *cobra.Command {
	dlq := &cobra.Command{Use: "dlq", Short: "Inspect and drain the dead-letter queue"}

	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered tasks, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				items, err := app.taskService.DeadLetters(ctx, listLimit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return printJSON(out, items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"ID", "Run", "Role", "Description"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.RunID, t.Role, t.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 0, "maximum tasks to show (0 for all)")

	var replayLimit int
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Move dead-lettered tasks back onto the work queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				n, err := app.taskService.Replay(ctx, replayLimit)
				if err != nil {
					return err
				}
				return printCount(cmd.OutOrStdout(), opts.json, "replayed", n)
			})
		},
	}
	replay.Flags().IntVar(&replayLimit, "limit", 0, "maximum tasks to replay (0 for all)")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Drop every dead-lettered task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				n, err := app.taskService.PurgeDeadLetters(ctx)
				if err != nil {
					return err
				}
				return printCount(cmd.OutOrStdout(), opts.json, "purged", n)
			})
		},
	}

	dlq.AddCommand(list, replay, purge)
	return dlq
}

func printCount(w io.Writer, asJSON bool, verb string, n int) error {
	if asJSON {
		return printJSON(w, map[string]int{verb: n})
	}
	_, err := fmt.Fprintf(w, "%s %d task(s)\n", verb, n)
	return err
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	keys.AddCommand(&cobra.Command{
		Use:   "hash <name> <secret>",
		Short: "Print an auth.api_keys entry for a new key",
		Long: `Prints "name:bcrypt-hash". Add it to auth.api_keys (or ORCH_AUTH_API_KEYS)
and hand "name:secret" to the client, which sends it in the X-API-Key header.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashAPIKey(args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", args[0], hash)
			return err
		},
	})
	return keys
}

func tokenCmd(opts *rootOptions) *cobra.Command {
	tokens := &cobra.Command{Use: "token", Short: "Issue access tokens"}
	tokens.AddCommand(&cobra.Command{
		Use:   "issue <subject>",
		Short: "Issue a bearer token signed with auth.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			svc, err := auth.NewJWTService(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := svc.GenerateToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"token":      token,
					"expires_in": strconv.Itoa(cfg.Auth.TokenLifetimeMinutes*60) + "s",
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	})
	return tokens
}
