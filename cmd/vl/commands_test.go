package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verdictline/internal/config"
	"verdictline/internal/rubric"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	initConfig()
	t.Cleanup(func() {
		viper.Reset()
		logger = zap.NewNop()
	})
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootHelpDescribesVerdictShapes(t *testing.T) {
	long := newRootCmd().Long
	for _, want := range []string{"reasons", "next_instructions", "questions_for_user", "ANTI_FLAT", "KEYWORD_MISMATCH", "MISSING_ISSUES"} {
		assert.Contains(t, long, want)
	}
	assert.NotContains(t, long, "failed_checks")
}

func TestRubricInitAndShowByAlias(t *testing.T) {
	ws := t.TempDir()
	catalogPath := filepath.Join(ws, rubric.DefaultFile)

	out, err := execute(t, "rubric", "init", "-w", ws)
	require.NoError(t, err)
	assert.Contains(t, out, catalogPath)
	_, err = os.Stat(catalogPath)
	require.NoError(t, err)

	_, err = execute(t, "rubric", "init", "-w", ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err = execute(t, "rubric", "show", "feature", "-w", ws, "--rubrics", catalogPath)
	require.NoError(t, err)
	assert.Contains(t, out, "engineering_impl")
	assert.Contains(t, out, "correctness")

	out, err = execute(t, "rubric", "show", "feature", "-w", ws, "--rubrics", catalogPath, "--json")
	require.NoError(t, err)
	var shown struct {
		TaskType string          `json:"task_type"`
		Rubric   rubric.TaskType `json:"rubric"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "engineering_impl", shown.TaskType)
	assert.Equal(t, rubric.Default().TaskTypes["engineering_impl"].Dimensions, shown.Rubric.Dimensions)

	_, err = execute(t, "rubric", "show", "nope", "-w", ws, "--rubrics", catalogPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task type nope")
}

func TestRubricShowWithoutCatalog(t *testing.T) {
	_, err := execute(t, "rubric", "show", "feature", "-w", t.TempDir(), "--rubrics", filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rubric catalog found")
}

func TestConfigInitAndValidate(t *testing.T) {
	ws := t.TempDir()

	_, err := execute(t, "config", "init", "-w", ws)
	require.NoError(t, err)
	_, err = os.Stat(config.Path(ws))
	require.NoError(t, err)

	out, err := execute(t, "config", "validate", "-w", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")

	missing := filepath.Join(ws, "missing.json")
	doc := "rubrics:\n  path: " + missing + "\n  required: true\n"
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(doc), 0o644))

	_, err = execute(t, "config", "validate", "-w", ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	out, err = execute(t, "config", "validate", "-w", ws, "--json")
	var ee exitError
	require.True(t, errors.As(err, &ee), "expected exit error, got %v", err)
	assert.Equal(t, 1, ee.code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, false, resp["ok"])
	assert.Contains(t, resp["error"], "not found")
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("VERDICTLINE_LOG_LEVEL", "loud")
	_, err := execute(t, "config", "validate", "-w", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.log.level")
}

func TestValidateRecordThenRunsStats(t *testing.T) {
	ws := t.TempDir()
	path := writeDoc(t, ws, "verdict.json", scoredDoc("Architecture could be improved"))

	_, err := execute(t, "validate", "--record", path, "-w", ws, "--log-level", "error")
	require.NoError(t, err)

	out, err := execute(t, "runs", "stats", "-w", ws, "--json")
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	assert.Equal(t, map[string]int{"valid": 1}, counts)
}
