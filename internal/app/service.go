package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verdictline/internal/atomicwrite"
	"verdictline/internal/domain"
	"verdictline/internal/engine"
	"verdictline/internal/events"
	"verdictline/internal/repo"
)

const defaultActor = "local"

// Service ties the engine to the optional history store and ledger.
type Service struct {
	Engine engine.Engine
	// Repo enables recording runs. Nil disables history.
	Repo *repo.Repo
	// Events writes the verdict.validated event alongside each recorded run.
	Events events.Writer
	// LedgerPath, when set, receives one JSONL line per checked verdict.
	LedgerPath string
	Logger     *zap.Logger
	Now        func() time.Time
	NewID      func() string
}

// Input is one verdict to check.
type Input struct {
	Source  string
	Raw     []byte
	Record  bool
	ActorID string
}

// Outcome is the result of checking one verdict. Run is populated even when
// the verdict is not recorded.
type Outcome struct {
	Run      domain.Run    `json:"run"`
	Result   domain.Result `json:"result"`
	Recorded bool          `json:"recorded"`
}

// LedgerEntry is the JSONL shape written to the ledger.
type LedgerEntry struct {
	RunID           string   `json:"run_id"`
	TS              string   `json:"ts"`
	Source          string   `json:"source"`
	Schema          string   `json:"schema"`
	Status          string   `json:"status"`
	ErrorClass      string   `json:"error_class,omitempty"`
	Errors          []string `json:"errors"`
	Inconsistencies []string `json:"inconsistencies"`
	VerdictSHA256   string   `json:"verdict_sha256"`
}

// Check validates in.Raw. A *engine.ParseError is returned as-is and nothing
// is recorded for it.
func (s Service) Check(ctx context.Context, in Input) (Outcome, error) {
	log := s.logger().With(zap.String("source", in.Source))
	rec, res, err := s.Engine.ValidateBytes(in.Raw)
	if err != nil {
		log.Debug("verdict rejected before validation", zap.Error(err))
		return Outcome{}, err
	}
	run := s.newRun(in, rec, res)
	log.Debug("verdict checked",
		zap.String("run_id", run.ID),
		zap.String("schema", run.Schema),
		zap.String("status", run.Status),
		zap.Int("errors", len(res.Errors)),
		zap.Int("inconsistencies", len(res.Inconsistencies)))

	out := Outcome{Run: run, Result: res}
	if in.Record {
		if s.Repo == nil {
			return out, fmt.Errorf("history is not enabled")
		}
		if err := s.record(ctx, run); err != nil {
			return out, err
		}
		out.Recorded = true
	}
	if s.LedgerPath != "" {
		if err := atomicwrite.AppendJSONL(s.LedgerPath, ledgerEntry(run, res)); err != nil {
			return out, fmt.Errorf("append ledger: %w", err)
		}
	}
	return out, nil
}

func (s Service) record(ctx context.Context, run domain.Run) error {
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertRunTx(ctx, tx, run); err != nil {
		return err
	}
	if err := s.Events.Append(ctx, tx, events.TypeVerdictValidated, "run", run.ID, run.ActorID, eventPayload(run)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	s.logger().Debug("run recorded", zap.String("run_id", run.ID), zap.String("status", run.Status))
	return nil
}

func (s Service) newRun(in Input, rec domain.Record, res domain.Result) domain.Run {
	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	actor := in.ActorID
	if actor == "" {
		actor = defaultActor
	}
	sum := sha256.Sum256(in.Raw)
	run := domain.Run{
		ID:              newID(),
		Source:          in.Source,
		Schema:          string(res.Schema),
		Status:          res.Status(),
		Errors:          res.Errors,
		Inconsistencies: res.Inconsistencies,
		VerdictSHA256:   hex.EncodeToString(sum[:]),
		ActorID:         actor,
		CreatedAt:       s.now().UTC().Format(time.RFC3339Nano),
	}
	if d, ok := rec["decision"].(string); ok {
		run.Decision = d
	}
	if res.Schema == domain.SchemaV2 {
		if tt, ok := rec["task_type"].(string); ok {
			run.TaskType = tt
		}
		if f, ok := rec["final_score_0_100"].(float64); ok {
			run.FinalScore100 = &f
		}
	}
	return run
}

func (s Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func eventPayload(run domain.Run) events.Payload {
	p := events.Payload{
		"source":          run.Source,
		"schema":          run.Schema,
		"status":          run.Status,
		"errors":          len(run.Errors),
		"inconsistencies": len(run.Inconsistencies),
		"verdict_sha256":  run.VerdictSHA256,
	}
	if run.TaskType != "" {
		p["task_type"] = run.TaskType
	}
	return p
}

func ledgerEntry(run domain.Run, res domain.Result) LedgerEntry {
	return LedgerEntry{
		RunID:           run.ID,
		TS:              run.CreatedAt,
		Source:          run.Source,
		Schema:          run.Schema,
		Status:          run.Status,
		ErrorClass:      res.ErrorClass(),
		Errors:          res.Errors,
		Inconsistencies: res.Inconsistencies,
		VerdictSHA256:   run.VerdictSHA256,
	}
}
