package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"verdictline/internal/app"
	"verdictline/internal/domain"
	"verdictline/internal/engine"
)

const stdinArg = "-"

type validateOptions struct {
	Jobs    int
	Record  bool
	JSON    bool
	ActorID string
}

// fileReport is the per-input outcome printed by vl validate.
type fileReport struct {
	Source          string   `json:"source"`
	Schema          string   `json:"schema,omitempty"`
	Status          string   `json:"status"`
	ExitCode        int      `json:"exit_code"`
	ErrorClass      string   `json:"error_class,omitempty"`
	Errors          []string `json:"errors"`
	Inconsistencies []string `json:"inconsistencies"`
	Failure         string   `json:"failure,omitempty"`
	RunID           string   `json:"run_id,omitempty"`
	Recorded        bool     `json:"recorded"`
}

func validateCmd() *cobra.Command {
	var opts validateOptions
	var ledger string
	cmd := &cobra.Command{
		Use:   "validate <file|-> [file...]",
		Short: "Validate judge verdict files",
		Long: `Validate one or more verdict documents. "-" reads standard input.

Exit status: 0 valid, 1 invalid or unreadable, 2 valid but inconsistent.
With several inputs the worst outcome wins (1 over 2 over 0).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdinCount := 0
			for _, a := range args {
				if a == stdinArg {
					stdinCount++
				}
			}
			if stdinCount > 1 {
				return fmt.Errorf("standard input can only be read once")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ledger != "" {
				cfg.Ledger.Path = ledger
			}
			opts.Record = opts.Record || cfg.History.Enabled
			opts.JSON = viper.GetBool("json")
			opts.ActorID = viper.GetString("actor-id")

			e, err := app.LoadEngine(cfg, logger)
			if err != nil {
				return err
			}
			svc := app.Service{Engine: e, LedgerPath: cfg.Ledger.Path, Logger: logger}
			if opts.Record {
				conn, r, err := app.OpenStore(cmd.Context(), viper.GetString("workspace"))
				if err != nil {
					return err
				}
				defer conn.Close()
				svc.Repo = r
			}
			code := runValidate(cmd.Context(), svc, args, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 4, "files validated concurrently")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "record runs in the workspace history")
	cmd.Flags().StringVar(&ledger, "ledger", "", "append one JSONL line per verdict to this file")
	return cmd
}

// runValidate checks every input and prints reports in argument order. It
// returns the process exit status.
func runValidate(ctx context.Context, svc app.Service, args []string, opts validateOptions, stdin io.Reader, stdout, stderr io.Writer) int {
	reports := make([]fileReport, len(args))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Jobs > 0 {
		g.SetLimit(opts.Jobs)
	}
	for i, arg := range args {
		i, arg := i, arg
		g.Go(func() error {
			reports[i] = checkOne(gctx, svc, arg, opts, stdin)
			return nil
		})
	}
	_ = g.Wait()

	if opts.JSON {
		var v any = reports
		if len(reports) == 1 {
			v = reports[0]
		}
		if err := writeJSON(stdout, v); err != nil {
			fmt.Fprintln(stderr, "error writing output:", err)
			return 1
		}
	} else {
		prefix := len(reports) > 1
		for _, rep := range reports {
			printReport(stdout, stderr, rep, prefix)
		}
	}

	codes := make([]int, len(reports))
	for i, rep := range reports {
		codes[i] = rep.ExitCode
	}
	return worstExit(codes)
}

func checkOne(ctx context.Context, svc app.Service, arg string, opts validateOptions, stdin io.Reader) fileReport {
	rep := fileReport{Source: arg, Errors: []string{}, Inconsistencies: []string{}}
	var raw []byte
	var err error
	if arg == stdinArg {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(arg)
	}
	if err != nil {
		rep.Status = domain.StatusInvalid
		rep.ExitCode = 1
		rep.Failure = "error reading file: " + err.Error()
		return rep
	}

	out, err := svc.Check(ctx, app.Input{Source: arg, Raw: raw, Record: opts.Record, ActorID: opts.ActorID})
	var pe *engine.ParseError
	switch {
	case errors.As(err, &pe):
		rep.Status = domain.StatusInvalid
		rep.ExitCode = 1
		rep.Failure = pe.Error()
		return rep
	case err != nil && out.Run.ID == "":
		rep.Status = domain.StatusInvalid
		rep.ExitCode = 1
		rep.Failure = "error checking verdict: " + err.Error()
		return rep
	}

	rep.Schema = string(out.Result.Schema)
	rep.Status = out.Result.Status()
	rep.ExitCode = out.Result.ExitCode()
	rep.ErrorClass = out.Result.ErrorClass()
	rep.Errors = append(rep.Errors, out.Result.Errors...)
	rep.Inconsistencies = append(rep.Inconsistencies, out.Result.Inconsistencies...)
	rep.RunID = out.Run.ID
	rep.Recorded = out.Recorded
	if err != nil {
		// Validation ran but recording or the ledger failed.
		logger.Error("verdict checked but not persisted", zap.String("source", arg), zap.Error(err))
		rep.Failure = err.Error()
		rep.ExitCode = 1
	}
	return rep
}

func printReport(stdout, stderr io.Writer, rep fileReport, prefix bool) {
	lead := ""
	if prefix {
		lead = rep.Source + ": "
	}
	if rep.Failure != "" {
		fmt.Fprintf(stderr, "%s%s\n", lead, rep.Failure)
	}
	for _, msg := range rep.Errors {
		fmt.Fprintf(stderr, "%sVALIDATION ERROR: %s\n", lead, msg)
	}
	for _, msg := range rep.Inconsistencies {
		fmt.Fprintf(stderr, "%sINCONSISTENCY: %s\n", lead, msg)
	}
	if prefix && rep.ExitCode == 0 {
		fmt.Fprintf(stdout, "%sOK (%s)\n", lead, rep.Schema)
	}
}

// worstExit folds per-input codes: 1 dominates 2, which dominates 0.
func worstExit(codes []int) int {
	worst := 0
	for _, c := range codes {
		switch {
		case c == 1:
			return 1
		case c == 2:
			worst = 2
		}
	}
	return worst
}

type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
