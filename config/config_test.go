package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/YuminosukeSato/pvtrain/artifact"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
data_path: data/generation.csv
output_dir: out
min_samples: 40
elimination_floor: 4
param_grid:
  ridge:
    alpha: [0.1, 1, 10]
elimination:
  policy: performance_monitored
  family: xgb
tuning:
  enabled: true
  family: ridge
ensembles:
  strategies: [voting, blending]
  members:
    - name: rf
      family: random_forest
      params: {n_estimators: 50}
    - name: lr
      family: linear
artifact_store:
  backend: memory
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "data/generation.csv", cfg.DataPath)
	assert.Equal(t, 40, cfg.MinSamples)
	assert.Equal(t, 4, cfg.EliminationFloor)
	assert.Equal(t, "performance_monitored", cfg.Elimination.Policy)
	assert.Equal(t, []interface{}{0.1, 1, 10}, cfg.ParamGrid["ridge"]["alpha"])
	assert.Equal(t, []string{"voting", "blending"}, cfg.Ensembles.Strategies)

	// untouched keys keep their defaults
	assert.Equal(t, 0.01, cfg.ImportanceThreshold)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, 5, cfg.Elimination.PermutationRepeats)
	assert.Equal(t, learner.Linear, cfg.Ensembles.Meta.Family)

	specs := cfg.MemberSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, learner.Params{"n_estimators": 50}, specs[0].Params)
}

func TestParseUnknownKey(t *testing.T) {
	_, err := Parse(strings.NewReader("min_sample: 3\n"))
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().MinSamples, cfg.MinSamples)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.MinSamples = 1
	cfg.EliminationFloor = 0
	cfg.CVFolds = 1
	cfg.Elimination.Policy = "greedy"
	cfg.Ensembles.Strategies = []string{"bagging"}
	cfg.ArtifactStore.Backend = "s3"
	cfg.Log.Level = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	for _, want := range []string{
		"data_path", "min_samples", "elimination_floor", "cv_folds",
		"elimination.policy", "ensembles.strategies", "artifact_store.backend", "log.level",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateCases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"test fraction", func(c *Config) { c.TestFraction = 1 }, "test_fraction"},
		{"missing values", func(c *Config) { c.MissingValues = "mean" }, "missing_values"},
		{"grid family", func(c *Config) { c.ParamGrid = map[string]map[string][]interface{}{"svm": nil} }, "param_grid"},
		{"duplicate member", func(c *Config) {
			c.Ensembles.Members = []MemberConfig{{Name: "a", Family: "rf"}, {Name: "a", Family: "lr"}}
		}, "duplicate"},
		{"single member", func(c *Config) {
			c.Ensembles.Members = []MemberConfig{{Name: "a", Family: "rf"}}
		}, "at least 2"},
		{"stacking folds", func(c *Config) { c.Ensembles.StackingFolds = 1 }, "stacking_folds"},
		{"redis addr", func(c *Config) { c.ArtifactStore.Backend = artifact.BackendRedis }, "redis.addr"},
		{"influx org", func(c *Config) { c.Sinks.Influx.URL = "http://localhost:8086" }, "sinks.influx"},
		{"tuning scoring", func(c *Config) { c.Tuning.Enabled = true; c.Tuning.Scoring = "auc" }, "tuning.scoring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.DataPath = "x.csv"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvtrain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	t.Setenv("PVTRAIN_MIN_SAMPLES", "12")
	t.Setenv("PVTRAIN_WORKERS", "2")
	t.Setenv("PVTRAIN_ARTIFACT_BACKEND", "file")
	t.Setenv("PVTRAIN_ARTIFACT_PATH", "/tmp/models")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MinSamples)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, artifact.BackendFile, cfg.ArtifactOptions().Backend)
	assert.Equal(t, "/tmp/models", cfg.ArtifactOptions().Path)
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("PVTRAIN_DATA_PATH", "x.csv")
	t.Setenv("PVTRAIN_SEED", "forty-two")
	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	assert.Contains(t, err.Error(), "PVTRAIN_SEED")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}
