package domain

// Decision is the judge's top-level outcome.
type Decision string

const (
	DecisionPass          Decision = "PASS"
	DecisionFail          Decision = "FAIL"
	DecisionNeedUserInput Decision = "NEED_USER_INPUT"
)

// Decisions lists the accepted decision values in sorted order.
var Decisions = []Decision{DecisionFail, DecisionNeedUserInput, DecisionPass}

// Schema tags which verdict generation a record belongs to.
type Schema string

const (
	SchemaV1 Schema = "v1"
	SchemaV2 Schema = "v2"
)

// Record is a parsed verdict document. Validation never mutates it.
type Record map[string]any

const (
	StatusValid        = "valid"
	StatusInvalid      = "invalid"
	StatusInconsistent = "inconsistent"
)

// Error classes consumed by the coordinator's decision table.
const (
	ErrorClassInvalid      = "VERDICT_INVALID"
	ErrorClassInconsistent = "VERDICT_INCONSISTENT"
)

// Result is the (errors, inconsistencies) pair produced for one record.
// Inconsistencies are only evaluated when Errors is empty.
type Result struct {
	Schema          Schema   `json:"schema"`
	Errors          []string `json:"errors"`
	Inconsistencies []string `json:"inconsistencies"`
}

func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

func (r Result) Status() string {
	switch {
	case len(r.Errors) > 0:
		return StatusInvalid
	case len(r.Inconsistencies) > 0:
		return StatusInconsistent
	default:
		return StatusValid
	}
}

// ErrorClass maps the result onto the coordinator error class, empty when clean.
func (r Result) ErrorClass() string {
	switch r.Status() {
	case StatusInvalid:
		return ErrorClassInvalid
	case StatusInconsistent:
		return ErrorClassInconsistent
	default:
		return ""
	}
}

// ExitCode is the process status for the result: 0 valid, 1 invalid, 2 inconsistent.
func (r Result) ExitCode() int {
	switch r.Status() {
	case StatusInvalid:
		return 1
	case StatusInconsistent:
		return 2
	default:
		return 0
	}
}

// Run is a persisted validation outcome.
type Run struct {
	ID              string   `json:"id"`
	Source          string   `json:"source"`
	Schema          string   `json:"schema"`
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

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
