package engine

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DimensionCap bounds the score a dimension may carry when a phrase is present.
type DimensionCap struct {
	Dimension string
	Max       float64
}

// KeywordRule ties a trigger phrase found in top_issues to dimension caps.
type KeywordRule struct {
	Phrase string
	Caps   []DimensionCap
}

// DefaultKeywords is the bilingual trigger table. Phrases are matched
// case-insensitively as substrings of the joined top_issues text.
var DefaultKeywords = []KeywordRule{
	{Phrase: "missing", Caps: []DimensionCap{{"completeness", 4.0}, {"scene_completeness", 4.0}}},
	{Phrase: "缺失", Caps: []DimensionCap{{"completeness", 4.0}, {"scene_completeness", 4.0}}},
	{Phrase: "incomplete", Caps: []DimensionCap{{"completeness", 4.0}, {"scene_completeness", 4.0}}},
	{Phrase: "不完整", Caps: []DimensionCap{{"completeness", 4.0}, {"scene_completeness", 4.0}}},
	{Phrase: "not runnable", Caps: []DimensionCap{{"runnability", 2.0}}},
	{Phrase: "无法运行", Caps: []DimensionCap{{"runnability", 2.0}}},
	{Phrase: "security vulnerability", Caps: []DimensionCap{{"security", 3.0}}},
	{Phrase: "安全漏洞", Caps: []DimensionCap{{"security", 3.0}}},
	{Phrase: "no tests", Caps: []DimensionCap{{"test_and_validation", 3.0}}},
	{Phrase: "缺少测试", Caps: []DimensionCap{{"test_and_validation", 3.0}}},
	{Phrase: "logic error", Caps: []DimensionCap{{"correctness", 3.0}}},
	{Phrase: "逻辑错误", Caps: []DimensionCap{{"correctness", 3.0}}},
	{Phrase: "unclear", Caps: []DimensionCap{{"clarity", 3.5}}},
	{Phrase: "不清晰", Caps: []DimensionCap{{"clarity", 3.5}}},
	{Phrase: "non-compliant", Caps: []DimensionCap{{"compliance", 3.0}}},
	{Phrase: "不合规", Caps: []DimensionCap{{"compliance", 3.0}}},
}

type keywordRuleFile struct {
	Phrase string             `yaml:"phrase"`
	Caps   map[string]float64 `yaml:"caps"`
}

// LoadKeywordRules reads extra rules from a YAML list of {phrase, caps} entries.
// Caps within a rule are ordered by dimension name.
func LoadKeywordRules(path string) ([]KeywordRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []keywordRuleFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid keyword rules yaml: %w", err)
	}
	rules := make([]KeywordRule, 0, len(raw))
	for i, r := range raw {
		if r.Phrase == "" {
			return nil, fmt.Errorf("keyword rule %d has empty phrase", i)
		}
		if len(r.Caps) == 0 {
			return nil, fmt.Errorf("keyword rule %q declares no caps", r.Phrase)
		}
		dims := make([]string, 0, len(r.Caps))
		for d := range r.Caps {
			dims = append(dims, d)
		}
		sort.Strings(dims)
		rule := KeywordRule{Phrase: r.Phrase}
		for _, d := range dims {
			rule.Caps = append(rule.Caps, DimensionCap{Dimension: d, Max: r.Caps[d]})
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
