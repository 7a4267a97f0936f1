package rubric

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, []string{"bugfix", "docs_writing", "engineering_impl", "scene_design"}, c.Names())
}

func TestResolveThroughAlias(t *testing.T) {
	c := Default()

	canonical, tt, ok := c.Resolve("feature")
	require.True(t, ok)
	assert.Equal(t, "engineering_impl", canonical)
	assert.Len(t, tt.Dimensions, 7)

	canonical, _, ok = c.Resolve("engineering_impl")
	require.True(t, ok)
	assert.Equal(t, "engineering_impl", canonical)

	canonical, _, ok = c.Resolve("poetry")
	assert.False(t, ok)
	assert.Equal(t, "poetry", canonical)
}

func TestResolveOnNilCatalog(t *testing.T) {
	var c *Catalog
	_, _, ok := c.Resolve("engineering_impl")
	assert.False(t, ok)
	assert.Nil(t, c.Names())
}

func TestLoadOptionalMissingFile(t *testing.T) {
	c, err := LoadOptional(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestLoadOptionalBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	c, err := LoadOptional(path)
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `alias_map:
  impl: engineering_impl
task_types:
  engineering_impl:
    dimensions: [correctness, runnability]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	_, tt, ok := c.Resolve("impl")
	require.True(t, ok)
	assert.Equal(t, []string{"correctness", "runnability"}, tt.DimensionSet())
}

func TestValidateRejectsDanglingAlias(t *testing.T) {
	c, err := FromJSON([]byte(`{"alias_map":{"x":"missing"},"task_types":{"a":{"dimensions":["d"]}}}`))
	require.NoError(t, err)
	assert.ErrorContains(t, c.Validate(), "unknown task type missing")
}

func TestValidateRejectsBadWeights(t *testing.T) {
	c, err := FromJSON([]byte(`{"task_types":{"a":{"dimensions":["d","e"],"weights":{"d":0.5,"e":0.2}}}}`))
	require.NoError(t, err)
	assert.ErrorContains(t, c.Validate(), "weights sum")
}

func TestAliasesFor(t *testing.T) {
	assert.Equal(t, []string{"bug", "fix"}, Default().AliasesFor("bugfix"))
}
