package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"verdictline/internal/app"
	"verdictline/internal/config"
	"verdictline/internal/logging"
	"verdictline/internal/repo"
)

var logger = zap.NewNop()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vl",
		Short: "Verdictline CLI",
		Long: `Verdictline validates the JSON verdicts produced by LLM judges.

- Schemas: v1 verdicts carry decision, reasons, next_instructions and
  questions_for_user; v2 verdicts add task_type, weighted dimension scores,
  a penalty and the derived raw and final scores.
- Structural validation: every error is reported, one per line.
- Consistency analysis: a structurally valid v2 verdict is checked for flat
  scoring (ANTI_FLAT), top_issues that contradict high scores
  (KEYWORD_MISMATCH) and non-perfect scores with no top_issues (MISSING_ISSUES).
- Rubrics: task types and their dimension sets live in a JSON catalog.
- History: with history enabled, every check is recorded in .verdictline/.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			l, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VERDICTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/verdictline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local", "actor identifier")
	flags.String("rubrics", "", "rubric catalog path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "rubrics", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(validateCmd())
	root.AddCommand(rubricCmd())
	root.AddCommand(configCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(logCmd())
	root.AddCommand(serveCmd())
}

// loadConfig reads the workspace config and applies flag and environment
// overrides on top.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("rubrics"); v != "" {
		cfg.Rubrics.Path = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// --- helpers ---

func withRepo(ctx context.Context, fn func(context.Context, *repo.Repo) error) error {
	conn, r, err := app.OpenStore(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, r)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
