package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the workspace config file.
const FileName = "verdictline.yml"

// Config models verdictline.yml.
type Config struct {
	Rubrics struct {
		Path     string `yaml:"path"`
		Required bool   `yaml:"required"`
	} `yaml:"rubrics"`
	Analyzer struct {
		KeywordsPath string `yaml:"keywords_path"`
	} `yaml:"analyzer"`
	History struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"history"`
	Ledger struct {
		Path string `yaml:"path"`
	} `yaml:"ledger"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"console", "json"}
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with vl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !contains(logLevels, c.Log.Level) {
		return fmt.Errorf("config.log.level must be one of %s (got %q)", strings.Join(logLevels, ", "), c.Log.Level)
	}
	if !contains(logFormats, c.Log.Format) {
		return fmt.Errorf("config.log.format must be one of %s (got %q)", strings.Join(logFormats, ", "), c.Log.Format)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Rubrics.Required && c.Rubrics.Path == "" {
		return fmt.Errorf("config.rubrics.path is required when config.rubrics.required is true")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	// The template is a constant; a decode failure is a programming error.
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

const defaultTemplate = `rubrics:
  # Empty means rubrics/catalog.json next to the vl binary; no catalog skips the rubric check.
  path: ""
  required: false

analyzer:
  # Optional YAML list of {phrase, caps} rules replacing the built-in keyword table.
  keywords_path: ""

history:
  enabled: false

ledger:
  path: ""

log:
  level: info
  format: console

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  jwt_secret: ""
`
