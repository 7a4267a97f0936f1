package server

import (
	"encoding/json"

	"verdictline/internal/app"
	"verdictline/internal/domain"
	"verdictline/internal/rubric"
)

// Response payloads

type ValidateResponse struct {
	RunID           string   `json:"run_id"`
	SchemaVersion   string   `json:"schema" enum:"v1,v2"`
	Status          string   `json:"status" enum:"valid,invalid,inconsistent"`
	ErrorClass      string   `json:"error_class,omitempty" enum:"VERDICT_INVALID,VERDICT_INCONSISTENT"`
	ExitCode        int      `json:"exit_code"`
	Errors          []string `json:"errors"`
	Inconsistencies []string `json:"inconsistencies"`
	VerdictSHA256   string   `json:"verdict_sha256"`
	Recorded        bool     `json:"recorded"`
}

type RubricResponse struct {
	TaskType    string             `json:"task_type"`
	Description string             `json:"description,omitempty"`
	Dimensions  []string           `json:"dimensions"`
	Weights     map[string]float64 `json:"weights,omitempty"`
	HardGates   []string           `json:"hard_gates"`
	Aliases     []string           `json:"aliases"`
}

type RubricListResponse struct {
	Configured bool             `json:"configured"`
	Version    string           `json:"version,omitempty"`
	Items      []RubricResponse `json:"items"`
}

type RunResponse struct {
	ID              string   `json:"id"`
	Source          string   `json:"source"`
	SchemaVersion   string   `json:"schema"`
	Status          string   `json:"status"`
	TaskType        string   `json:"task_type,omitempty"`
	Decision        string   `json:"decision,omitempty"`
	FinalScore100   *float64 `json:"final_score_0_100,omitempty"`
	Errors          []string `json:"errors"`
	Inconsistencies []string `json:"inconsistencies"`
	VerdictSHA256   string   `json:"verdict_sha256"`
	ActorID         string   `json:"actor_id"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedRuns struct {
	Items      []RunResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func validateResponse(out app.Outcome) ValidateResponse {
	return ValidateResponse{
		RunID:           out.Run.ID,
		SchemaVersion:   string(out.Result.Schema),
		Status:          out.Result.Status(),
		ErrorClass:      out.Result.ErrorClass(),
		ExitCode:        out.Result.ExitCode(),
		Errors:          nonNil(out.Result.Errors),
		Inconsistencies: nonNil(out.Result.Inconsistencies),
		VerdictSHA256:   out.Run.VerdictSHA256,
		Recorded:        out.Recorded,
	}
}

func rubricResponse(c *rubric.Catalog, name string, tt rubric.TaskType) RubricResponse {
	return RubricResponse{
		TaskType:    name,
		Description: tt.Description,
		Dimensions:  nonNil(tt.Dimensions),
		Weights:     tt.Weights,
		HardGates:   nonNil(tt.HardGates),
		Aliases:     nonNil(c.AliasesFor(name)),
	}
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:              r.ID,
		Source:          r.Source,
		SchemaVersion:   r.Schema,
		Status:          r.Status,
		TaskType:        r.TaskType,
		Decision:        r.Decision,
		FinalScore100:   r.FinalScore100,
		Errors:          nonNil(r.Errors),
		Inconsistencies: nonNil(r.Inconsistencies),
		VerdictSHA256:   r.VerdictSHA256,
		ActorID:         r.ActorID,
		CreatedAt:       r.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func listRubrics(c *rubric.Catalog) []RubricResponse {
	items := []RubricResponse{}
	for _, name := range c.Names() {
		items = append(items, rubricResponse(c, name, c.TaskTypes[name]))
	}
	return items
}
