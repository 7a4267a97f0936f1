// Package engine validates judge verdicts: structural checks per schema
// generation, then the K5-3 consistency heuristics for scored verdicts.
//
// An Engine holds only read-only data and is safe for concurrent use.
package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"verdictline/internal/domain"
	"verdictline/internal/rubric"
)

type Engine struct {
	// Catalog enables the rubric dimension check. Nil skips it.
	Catalog *rubric.Catalog
	// Keywords overrides DefaultKeywords when non-nil.
	Keywords []KeywordRule
}

func New(catalog *rubric.Catalog) Engine {
	return Engine{Catalog: catalog, Keywords: DefaultKeywords}
}

func (e Engine) keywords() []KeywordRule {
	if e.Keywords != nil {
		return e.Keywords
	}
	return DefaultKeywords
}

// ParseError reports input that is not a JSON object. It is raised before
// any validation runs.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "invalid JSON: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

var errNotObject = errors.New("verdict must be a JSON object")

// Parse decodes a verdict document.
func Parse(data []byte) (domain.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Err: errors.New("empty input")}
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, &ParseError{Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Err: fmt.Errorf("%w (got %T)", errNotObject, v)}
	}
	return domain.Record(obj), nil
}

// Validate returns the (errors, inconsistencies) pair for rec. Consistency is
// only analyzed for structurally valid v2 records; v1 never yields warnings.
func (e Engine) Validate(rec domain.Record) domain.Result {
	res := domain.Result{
		Schema:          Detect(rec),
		Errors:          []string{},
		Inconsistencies: []string{},
	}
	if res.Schema == domain.SchemaV1 {
		res.Errors = append(res.Errors, ValidateV1(rec)...)
		return res
	}
	if errs := e.ValidateV2(rec); len(errs) > 0 {
		res.Errors = append(res.Errors, errs...)
		return res
	}
	res.Inconsistencies = append(res.Inconsistencies, e.Analyze(rec)...)
	return res
}

// ValidateBytes parses and validates. A *ParseError means validation never ran.
func (e Engine) ValidateBytes(data []byte) (domain.Record, domain.Result, error) {
	rec, err := Parse(data)
	if err != nil {
		return nil, domain.Result{}, err
	}
	return rec, e.Validate(rec), nil
}
