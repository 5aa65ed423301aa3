package config

import (
	"os"
	"path/filepath"
	"testing"

	"morpho-filters/internal/morphology"
	"morpho-filters/internal/processing/filters"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const pipeline = `
log_level: debug
workers: 4
batch_size: 8
input: data/in
output: data/out
filters:
  - name: pcv-fill
    options:
      size: 20
  - name: skeletonize
    options:
      prune: "true"
      size: 12
      workers: 1
  - name: find-tips
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(pipeline))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 8, cfg.BatchSize)
	require.Len(t, cfg.Filters, 3)
	assert.Equal(t, "pcv-fill", cfg.Filters[0].Name)
	assert.Equal(t, 20, cfg.Filters[0].Options["size"])
	assert.Nil(t, cfg.Filters[2].Options)

	assert.NoError(t, cfg.Validate(filters.DefaultRegistry()))
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("threads: 3\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipeline), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data/in", cfg.Input)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "chatty"
	cfg.Workers = 0
	cfg.Filters = []FilterConfig{{Name: "dilate"}, {Name: "sharpen"}}

	err := cfg.Validate(filters.DefaultRegistry())
	require.Error(t, err)

	errs := multierr.Errors(err)
	assert.Len(t, errs, 5)
	assert.ErrorContains(t, err, "sharpen")
	assert.ErrorContains(t, err, "input directory")
}

func TestBuildFilters(t *testing.T) {
	cfg, err := Parse([]byte(pipeline))
	require.NoError(t, err)

	built, err := cfg.BuildFilters(filters.DefaultRegistry(), filters.Dependencies{Ops: morphology.NewOpenCV(nil)})
	require.NoError(t, err)
	require.Len(t, built, 3)
	assert.Equal(t, []string{"fill", "skeletonize", "find-tips"},
		[]string{built[0].Name(), built[1].Name(), built[2].Name()})

	// the file's own options are not modified by the workers default
	_, set := cfg.Filters[0].Options["workers"]
	assert.False(t, set)
}

func TestBuildFiltersReportsOptionErrors(t *testing.T) {
	cfg := Default()
	cfg.Filters = []FilterConfig{
		{Name: "erode", Options: map[string]interface{}{"kernel_size": 0}},
		{Name: "fill", Options: map[string]interface{}{"radius": 3}},
		{Name: "fill-holes"},
	}

	_, err := cfg.BuildFilters(filters.DefaultRegistry(), filters.Dependencies{Ops: morphology.NewOpenCV(nil)})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, filters.ErrInvalidConfig)
}
