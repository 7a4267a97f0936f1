package engine

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"verdictline/internal/domain"
)

const (
	scoreTolerance    = 0.05
	weightTolerance   = 0.01
	score100Tolerance = 1.0

	maxScore   = 5.0
	maxPenalty = 2.0

	minTopIssues      = 2
	maxTopIssues      = 5
	maxTopIssueLen    = 120
	maxFixSuggestions = 5
	maxFixLen         = 160
)

var v1Fields = []string{"decision", "reasons", "next_instructions", "questions_for_user"}

var v2Fields = []string{
	"task_type",
	"scores",
	"weights",
	"raw_score_0_5",
	"penalty",
	"final_score_0_5",
	"final_score_0_100",
	"gated",
	"gating_reasons",
	"top_issues",
	"fix_suggestions",
	"scoring_mode_used",
}

// ValidateV1 runs the legacy decision-only checks. Missing fields short-circuit.
func ValidateV1(rec domain.Record) []string {
	var errs []string
	for _, f := range v1Fields {
		if _, ok := rec[f]; !ok {
			errs = append(errs, "missing required field: "+f)
		}
	}
	if len(errs) > 0 {
		return errs
	}

	decision, _ := rec["decision"].(string)
	if !validDecision(rec["decision"]) {
		errs = append(errs, fmt.Sprintf("invalid decision: %s (must be one of %s)", formatValue(rec["decision"]), decisionList()))
	}

	if reasons, ok := asList(rec["reasons"]); !ok || len(reasons) == 0 {
		errs = append(errs, "reasons must be a non-empty array")
	}

	instructions, isString := rec["next_instructions"].(string)
	if !isString {
		errs = append(errs, "next_instructions must be a string")
	}
	if domain.Decision(decision) == domain.DecisionFail && (!isString || strings.TrimSpace(instructions) == "") {
		errs = append(errs, "FAIL verdict requires non-empty next_instructions")
	}

	questions, isList := asList(rec["questions_for_user"])
	if !isList {
		errs = append(errs, "questions_for_user must be an array")
	}
	if domain.Decision(decision) == domain.DecisionNeedUserInput && (!isList || len(questions) == 0) {
		errs = append(errs, "NEED_USER_INPUT verdict requires non-empty questions_for_user")
	}
	return errs
}

// ValidateV2 runs the v1 checks and then the scored-schema checks, including
// re-deriving every declared aggregate from the raw scores.
func (e Engine) ValidateV2(rec domain.Record) []string {
	errs := ValidateV1(rec)

	var missing []string
	for _, f := range v2Fields {
		if _, ok := rec[f]; !ok {
			missing = append(missing, "missing required v2 field: "+f)
		}
	}
	if len(missing) > 0 {
		return append(errs, missing...)
	}

	scores, ok := asObject(rec["scores"])
	if !ok {
		return append(errs, "scores must be an object")
	}
	dims := sortedKeys(scores)
	for _, dim := range dims {
		v, ok := asNumber(scores[dim])
		if !ok {
			errs = append(errs, fmt.Sprintf("scores.%s must be a number (got %s)", dim, formatValue(scores[dim])))
			continue
		}
		if !isScoreLevel(v) {
			errs = append(errs, fmt.Sprintf("scores.%s = %s is not a valid score (must be 0-5 in 0.5 steps)", dim, formatNumber(v)))
		}
	}

	penalty, penaltyOK := asNumber(rec["penalty"])
	if !penaltyOK {
		errs = append(errs, fmt.Sprintf("penalty must be a number (got %s)", formatValue(rec["penalty"])))
	} else {
		if penalty < 0 || penalty > maxPenalty {
			errs = append(errs, fmt.Sprintf("penalty %s out of range [0, 2]", formatNumber(penalty)))
		}
		if doubled := penalty * 2; doubled != math.Trunc(doubled) {
			errs = append(errs, fmt.Sprintf("penalty %s must be a multiple of 0.5", formatNumber(penalty)))
		}
	}

	errs = append(errs, checkStringList(rec["top_issues"], "top_issues", minTopIssues, maxTopIssues, maxTopIssueLen)...)
	errs = append(errs, checkStringList(rec["fix_suggestions"], "fix_suggestions", 0, maxFixSuggestions, maxFixLen)...)

	weights, weightsOK := asObject(rec["weights"])
	if !weightsOK {
		errs = append(errs, "weights must be an object")
	} else {
		sum := 0.0
		numeric := true
		for _, dim := range sortedKeys(weights) {
			w, ok := asNumber(weights[dim])
			if !ok {
				errs = append(errs, fmt.Sprintf("weights.%s must be a number (got %s)", dim, formatValue(weights[dim])))
				numeric = false
				continue
			}
			sum += w
		}
		if numeric && math.Abs(sum-1.0) > weightTolerance {
			errs = append(errs, fmt.Sprintf("weights must sum to 1.0 (got %.4f)", sum))
		}
		if weightDims := sortedKeys(weights); !sameSet(dims, weightDims) {
			errs = append(errs, fmt.Sprintf("weights keys %s do not match scores keys %s", formatSet(weightDims), formatSet(dims)))
		}
	}

	if _, ok := rec["gated"].(bool); !ok {
		errs = append(errs, "gated must be a boolean")
	}
	errs = append(errs, checkStringList(rec["gating_reasons"], "gating_reasons", 0, -1, -1)...)
	if _, ok := rec["scoring_mode_used"].(string); !ok {
		errs = append(errs, "scoring_mode_used must be a string")
	}
	taskType, taskTypeOK := rec["task_type"].(string)
	if !taskTypeOK {
		errs = append(errs, "task_type must be a string")
	}

	raw, rawOK := asNumber(rec["raw_score_0_5"])
	if !rawOK {
		errs = append(errs, "raw_score_0_5 must be a number")
	}
	final5, final5OK := asNumber(rec["final_score_0_5"])
	if !final5OK {
		errs = append(errs, "final_score_0_5 must be a number")
	}
	final100, final100OK := asNumber(rec["final_score_0_100"])
	if !final100OK {
		errs = append(errs, "final_score_0_100 must be a number")
	}

	// Aggregates are only meaningful once every operand above checked out.
	if len(errs) == 0 {
		computed := 0.0
		for _, dim := range dims {
			s, _ := asNumber(scores[dim])
			w, _ := asNumber(weights[dim])
			computed += s * w
		}
		if math.Abs(computed-raw) > scoreTolerance {
			errs = append(errs, fmt.Sprintf("raw_score_0_5 = %s but weighted sum of scores is %.4f", formatNumber(raw), computed))
		}
		expectedFinal := math.Max(0, raw-penalty)
		if math.Abs(expectedFinal-final5) > scoreTolerance {
			errs = append(errs, fmt.Sprintf("final_score_0_5 = %s but max(0, raw_score_0_5 - penalty) is %.4f", formatNumber(final5), expectedFinal))
		}
		expected100 := math.RoundToEven(final5 * 20)
		if math.Abs(final100-expected100) > score100Tolerance {
			errs = append(errs, fmt.Sprintf("final_score_0_100 = %s but round(20 * final_score_0_5) is %d", formatNumber(final100), int(expected100)))
		}
	}

	if taskTypeOK && e.Catalog != nil {
		if canonical, tt, known := e.Catalog.Resolve(taskType); known {
			if want := tt.DimensionSet(); !sameSet(dims, want) {
				errs = append(errs, fmt.Sprintf("scores dimensions %s do not match rubric %s dimensions %s", formatSet(dims), canonical, formatSet(want)))
			}
		}
	}
	return errs
}

// checkStringList validates an array of strings. hi or maxLen below zero disables that bound.
func checkStringList(v any, field string, lo, hi, maxLen int) []string {
	items, ok := asList(v)
	if !ok {
		return []string{field + " must be an array"}
	}
	var errs []string
	switch {
	case hi >= 0 && lo > 0 && (len(items) < lo || len(items) > hi):
		errs = append(errs, fmt.Sprintf("%s must contain %d-%d items (got %d)", field, lo, hi, len(items)))
	case hi >= 0 && len(items) > hi:
		errs = append(errs, fmt.Sprintf("%s must contain at most %d items (got %d)", field, hi, len(items)))
	}
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s[%d] must be a string", field, i))
			continue
		}
		if n := utf8.RuneCountInString(s); maxLen >= 0 && n > maxLen {
			errs = append(errs, fmt.Sprintf("%s[%d] exceeds %d characters (%d)", field, i, maxLen, n))
		}
	}
	return errs
}

// isScoreLevel reports whether v is one of 0, 0.5, ..., 5.
func isScoreLevel(v float64) bool {
	if v < 0 || v > maxScore {
		return false
	}
	doubled := v * 2
	return doubled == math.Trunc(doubled)
}

func validDecision(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, d := range domain.Decisions {
		if domain.Decision(s) == d {
			return true
		}
	}
	return false
}

func decisionList() string {
	names := make([]string, len(domain.Decisions))
	for i, d := range domain.Decisions {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}
