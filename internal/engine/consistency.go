package engine

import (
	"fmt"
	"math"
	"strings"

	"verdictline/internal/domain"
)

// K5-3 warning codes.
const (
	CodeAntiFlat        = "ANTI_FLAT"
	CodeKeywordMismatch = "KEYWORD_MISMATCH"
	CodeMissingIssues   = "MISSING_ISSUES"
)

const (
	flatMinDimensions = 6
	flatStdDev        = 0.15
)

// Analyze runs the K5-3 heuristics over a structurally valid v2 record.
// Findings are warnings; nothing here rejects a record.
func (e Engine) Analyze(rec domain.Record) []string {
	scores, _ := asObject(rec["scores"])
	dims := sortedKeys(scores)
	values := make([]float64, 0, len(dims))
	for _, dim := range dims {
		if v, ok := asNumber(scores[dim]); ok {
			values = append(values, v)
		}
	}

	var warnings []string
	if msg, flat := antiFlat(values); flat {
		warnings = append(warnings, msg)
	}

	issues := issueStrings(rec["top_issues"])
	text := strings.ToLower(strings.Join(issues, " "))
	for _, rule := range e.keywords() {
		if !strings.Contains(text, strings.ToLower(rule.Phrase)) {
			continue
		}
		for _, c := range rule.Caps {
			v, ok := asNumber(scores[c.Dimension])
			if !ok || v <= c.Max {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("%s: top_issues mention %q but %s = %.1f exceeds cap %.1f",
				CodeKeywordMismatch, rule.Phrase, c.Dimension, v, c.Max))
		}
	}

	if !allEqual(values, maxScore) && len(issues) == 0 {
		warnings = append(warnings, CodeMissingIssues+": scores are not all 5.0 but top_issues is empty")
	}
	return warnings
}

func antiFlat(values []float64) (string, bool) {
	if len(values) < flatMinDimensions {
		return "", false
	}
	distinct := map[float64]bool{}
	for _, v := range values {
		distinct[v] = true
	}
	switch {
	case len(distinct) == 1:
		return fmt.Sprintf("%s: all %d dimensions scored %.1f; scoring looks uniform", CodeAntiFlat, len(values), values[0]), true
	case stdDev(values) < flatStdDev && len(distinct) < 2:
		// Only reachable with a single distinct value, which the case above already takes.
		return fmt.Sprintf("%s: score spread %.3f below %.2f across %d dimensions", CodeAntiFlat, stdDev(values), flatStdDev, len(values)), true
	}
	return "", false
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

func allEqual(values []float64, target float64) bool {
	for _, v := range values {
		if v != target {
			return false
		}
	}
	return true
}

func issueStrings(v any) []string {
	items, _ := asList(v)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
