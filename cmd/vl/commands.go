package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"verdictline/internal/app"
	"verdictline/internal/atomicwrite"
	"verdictline/internal/config"
	"verdictline/internal/domain"
	"verdictline/internal/repo"
	"verdictline/internal/rubric"
	"verdictline/internal/server"
)

func rubricCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rubric",
		Short: "Inspect the rubric catalog",
		Long:  "The rubric catalog maps task types (and their aliases) to the dimension set a v2 verdict must score.",
	}
	cmd.AddCommand(rubricListCmd())
	cmd.AddCommand(rubricShowCmd())
	cmd.AddCommand(rubricInitCmd())
	return cmd
}

func requireCatalog() (*rubric.Catalog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	catalog, err := app.LoadCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, fmt.Errorf("no rubric catalog found; create one with vl rubric init or pass --rubrics")
	}
	return catalog, nil
}

func rubricListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List task types",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := requireCatalog()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), catalog)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Task Type", "Dimensions", "Hard Gates", "Aliases"})
			for _, name := range catalog.Names() {
				tt := catalog.TaskTypes[name]
				tw.AppendRow(table.Row{name, len(tt.DimensionSet()), strings.Join(tt.HardGates, ","), strings.Join(catalog.AliasesFor(name), ",")})
			}
			tw.Render()
			return nil
		},
	}
}

func rubricShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task_type>",
		Short: "Show the dimensions of a task type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := requireCatalog()
			if err != nil {
				return err
			}
			name, tt, ok := catalog.Resolve(args[0])
			if !ok {
				return fmt.Errorf("unknown task type %s", args[0])
			}
			if viper.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"task_type": name, "rubric": tt})
			}
			if tt.Description != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, tt.Description)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			gates := map[string]bool{}
			for _, g := range tt.HardGates {
				gates[g] = true
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Dimension", "Weight", "Hard Gate"})
			for _, d := range tt.Dimensions {
				weight := ""
				if w, ok := tt.Weights[d]; ok {
					weight = strconv.FormatFloat(w, 'f', -1, 64)
				}
				gate := ""
				if gates[d] {
					gate = "yes"
				}
				tw.AppendRow(table.Row{d, weight, gate})
			}
			tw.Render()
			return nil
		},
	}
}

func rubricInitCmd() *cobra.Command {
	var out string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the starter rubric catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = filepath.Join(viper.GetString("workspace"), rubric.DefaultFile)
			}
			if err := writeNew(out, rubric.DefaultJSON(), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; set rubrics.path in %s to use it\n", out, config.FileName)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "destination (default <workspace>/rubrics/catalog.json)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage verdictline.yml"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Server.JWTSecret != "" {
				shown.Server.JWTSecret = "********"
			}
			if viper.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), shown)
			}
			out, err := yaml.Marshal(shown)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config and the rubric catalog it points to",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := func() error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				_, err = app.LoadEngine(cfg, logger)
				return err
			}()
			if viper.GetBool("json") {
				resp := map[string]any{"ok": err == nil}
				if err != nil {
					resp["error"] = err.Error()
				}
				if perr := writeJSON(cmd.OutOrStdout(), resp); perr != nil {
					return perr
				}
				if err != nil {
					return exitError{code: 1}
				}
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default verdictline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if err := writeNew(path, []byte(config.GenerateDefault()), force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func writeNew(path string, data []byte, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	return atomicwrite.WriteFile(path, data, 0o644)
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse recorded validation runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())
	cmd.AddCommand(runsStatsCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var f repo.RunFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				runs, err := r.ListRuns(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Created", "Source", "Schema", "Task Type", "Status", "Score"})
				for _, run := range runs {
					score := ""
					if run.FinalScore100 != nil {
						score = strconv.FormatFloat(*run.FinalScore100, 'f', -1, 64)
					}
					tw.AppendRow(table.Row{run.ID, run.CreatedAt, run.Source, run.Schema, run.TaskType, run.Status, score})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (valid, invalid, inconsistent)")
	cmd.Flags().StringVar(&f.TaskType, "task-type", "", "task type filter")
	cmd.Flags().StringVar(&f.SHA256, "sha256", "", "verdict digest filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum runs")
	return cmd
}

func runsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				run, err := r.GetRun(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), run)
			})
		},
	}
}

func runsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count runs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				counts, err := r.CountRunsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return writeJSON(cmd.OutOrStdout(), counts)
				}
				statuses := []string{domain.StatusValid, domain.StatusInvalid, domain.StatusInconsistent}
				for s := range counts {
					if s != domain.StatusValid && s != domain.StatusInvalid && s != domain.StatusInconsistent {
						statuses = append(statuses, s)
					}
				}
				sort.Strings(statuses[3:])
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Status", "Runs"})
				total := 0
				for _, s := range statuses {
					tw.AppendRow(table.Row{s, counts[s]})
					total += counts[s]
				}
				tw.AppendFooter(table.Row{"total", total})
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				evts, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return writeJSON(cmd.OutOrStdout(), evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noHistory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			e, err := app.LoadEngine(cfg, logger)
			if err != nil {
				return err
			}
			svc := app.Service{Engine: e, LedgerPath: cfg.Ledger.Path, Logger: logger}
			if !noHistory {
				conn, r, err := app.OpenStore(cmd.Context(), viper.GetString("workspace"))
				if err != nil {
					return err
				}
				defer conn.Close()
				svc.Repo = r
			}
			authCfg := server.AuthConfig{JWTSecret: cfg.Server.JWTSecret}
			if !authCfg.Enabled() {
				logger.Warn("bearer auth disabled; set VERDICTLINE_JWT_SECRET or server.jwt_secret to enable it")
			}
			handler, err := server.New(server.Config{Service: svc, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving verdictline API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Bool("history", svc.Repo != nil))
			fmt.Fprintf(cmd.OutOrStdout(), "Serving Verdictline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not open the workspace history database")
	return cmd
}
