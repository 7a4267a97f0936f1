package rubric

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog maps task types to their rubric definitions.
type Catalog struct {
	Version   string              `json:"rubric_version,omitempty" yaml:"rubric_version,omitempty"`
	AliasMap  map[string]string   `json:"alias_map" yaml:"alias_map"`
	TaskTypes map[string]TaskType `json:"task_types" yaml:"task_types"`
}

// TaskType is one rubric entry. Only Dimensions drives validation.
type TaskType struct {
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Dimensions  []string           `json:"dimensions" yaml:"dimensions"`
	Weights     map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	HardGates   []string           `json:"hard_gates,omitempty" yaml:"hard_gates,omitempty"`
}

//go:embed default_catalog.json
var defaultCatalog []byte

// DefaultFile is the catalog location relative to the executable.
const DefaultFile = "rubrics/catalog.json"

// DefaultPath resolves DefaultFile next to the running binary.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultFile
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), DefaultFile)
}

// Load reads a catalog from path. Files ending in .yml/.yaml are parsed as YAML.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FromYAML(data)
	default:
		return FromJSON(data)
	}
}

// LoadOptional returns nil,nil if the catalog file does not exist. Parse
// failures are returned so the caller can log them and carry on without a catalog.
func LoadOptional(path string) (*Catalog, error) {
	c, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func FromJSON(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid rubric catalog json: %w", err)
	}
	c.normalize()
	return &c, nil
}

func FromYAML(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return nil, fmt.Errorf("invalid rubric catalog yaml: %w", err)
	}
	c.normalize()
	return &c, nil
}

// Default returns the embedded starter catalog.
func Default() *Catalog {
	c, err := FromJSON(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultJSON returns the embedded starter catalog document.
func DefaultJSON() []byte {
	return append([]byte(nil), defaultCatalog...)
}

func (c *Catalog) normalize() {
	if c.AliasMap == nil {
		c.AliasMap = map[string]string{}
	}
	if c.TaskTypes == nil {
		c.TaskTypes = map[string]TaskType{}
	}
}

// Resolve maps a free-form task type through the alias map and reports whether
// the canonical key is a known entry.
func (c *Catalog) Resolve(taskType string) (string, TaskType, bool) {
	if c == nil {
		return taskType, TaskType{}, false
	}
	canonical := taskType
	if alias, ok := c.AliasMap[taskType]; ok {
		canonical = alias
	}
	tt, ok := c.TaskTypes[canonical]
	return canonical, tt, ok
}

// Names returns canonical task type keys in sorted order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.TaskTypes))
	for name := range c.TaskTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AliasesFor lists the aliases pointing at canonical, sorted.
func (c *Catalog) AliasesFor(canonical string) []string {
	var out []string
	if c == nil {
		return out
	}
	for alias, target := range c.AliasMap {
		if target == canonical {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// DimensionSet returns the sorted, de-duplicated dimension names.
func (t TaskType) DimensionSet() []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(t.Dimensions))
	for _, d := range t.Dimensions {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Validate checks the catalog for dangling aliases and malformed entries.
func (c *Catalog) Validate() error {
	for alias, target := range c.AliasMap {
		if alias == "" {
			return fmt.Errorf("alias_map contains empty alias")
		}
		if _, ok := c.TaskTypes[target]; !ok {
			return fmt.Errorf("alias %s points to unknown task type %s", alias, target)
		}
	}
	for name, tt := range c.TaskTypes {
		if name == "" {
			return fmt.Errorf("task_types contains empty key")
		}
		if len(tt.Dimensions) == 0 {
			return fmt.Errorf("task type %s declares no dimensions", name)
		}
		dims := map[string]bool{}
		for _, d := range tt.Dimensions {
			if d == "" {
				return fmt.Errorf("task type %s has empty dimension name", name)
			}
			if dims[d] {
				return fmt.Errorf("task type %s repeats dimension %s", name, d)
			}
			dims[d] = true
		}
		if len(tt.Weights) > 0 {
			sum := 0.0
			for d, w := range tt.Weights {
				if !dims[d] {
					return fmt.Errorf("task type %s weights unknown dimension %s", name, d)
				}
				sum += w
			}
			if len(tt.Weights) != len(dims) {
				return fmt.Errorf("task type %s weights must cover every dimension", name)
			}
			if math.Abs(sum-1.0) > 0.01 {
				return fmt.Errorf("task type %s weights sum to %.4f, want 1.0", name, sum)
			}
		}
		for _, g := range tt.HardGates {
			if !dims[g] {
				return fmt.Errorf("task type %s hard gate %s is not a dimension", name, g)
			}
		}
	}
	return nil
}
