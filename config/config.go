// Package config loads the pipeline configuration from YAML with PVTRAIN_*
// environment overrides.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/pvtrain/artifact"
	"github.com/YuminosukeSato/pvtrain/combiner"
	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/model_selection"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"github.com/YuminosukeSato/pvtrain/selection"
	"gopkg.in/yaml.v3"
)

// Config holds every pipeline setting.
type Config struct {
	DataPath            string  `yaml:"data_path"`
	OutputDir           string  `yaml:"output_dir"`
	MinSamples          int     `yaml:"min_samples"`
	EliminationFloor    int     `yaml:"elimination_floor"`
	ImportanceThreshold float64 `yaml:"importance_threshold"`
	CVFolds             int     `yaml:"cv_folds"`
	// ParamGrid overrides the built-in grid per learner family.
	ParamGrid     map[string]map[string][]interface{} `yaml:"param_grid"`
	Seed          uint64                              `yaml:"seed"`
	TestFraction  float64                             `yaml:"test_fraction"`
	BlendFraction float64                             `yaml:"blend_fraction"`
	Workers       int                                 `yaml:"workers"`
	MissingValues string                              `yaml:"missing_values"`

	Outliers      OutlierConfig     `yaml:"outliers"`
	Elimination   EliminationConfig `yaml:"elimination"`
	Tuning        TuningConfig      `yaml:"tuning"`
	Ensembles     EnsembleConfig    `yaml:"ensembles"`
	ArtifactStore ArtifactConfig    `yaml:"artifact_store"`
	Log           LogConfig         `yaml:"log"`
	Sinks         SinkConfig        `yaml:"sinks"`
	Notify        NotifyConfig      `yaml:"notify"`
	Metrics       MetricsConfig     `yaml:"metrics"`
}

type OutlierConfig struct {
	IQR bool    `yaml:"iqr"`
	K   float64 `yaml:"k"`
}

type EliminationConfig struct {
	Policy             string                 `yaml:"policy"`
	Family             string                 `yaml:"family"`
	Params             map[string]interface{} `yaml:"params"`
	PermutationRepeats int                    `yaml:"permutation_repeats"`
	Significance       float64                `yaml:"significance"`
	// ArchiveSteps stores the model of every elimination step.
	ArchiveSteps bool `yaml:"archive_steps"`
}

type TuningConfig struct {
	Enabled bool   `yaml:"enabled"`
	Family  string `yaml:"family"`
	Scoring string `yaml:"scoring"`
}

type MemberConfig struct {
	Name   string                 `yaml:"name"`
	Family string                 `yaml:"family"`
	Params map[string]interface{} `yaml:"params"`
	// FromArtifact loads the member from the store under this tag.
	FromArtifact string `yaml:"from_artifact"`
}

type MetaConfig struct {
	Family string                 `yaml:"family"`
	Params map[string]interface{} `yaml:"params"`
}

type EnsembleConfig struct {
	Strategies    []string       `yaml:"strategies"`
	Members       []MemberConfig `yaml:"members"`
	Meta          MetaConfig     `yaml:"meta"`
	Passthrough   bool           `yaml:"passthrough"`
	StackingFolds int            `yaml:"stacking_folds"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

type ArtifactConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
	Minio   MinioConfig `yaml:"minio"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
	// Backend is zerolog or slog.
	Backend string `yaml:"backend"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type SinkConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Influx   InfluxConfig   `yaml:"influx"`
}

type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

type MetricsConfig struct {
	// Textfile is where the prometheus exposition is written after a run.
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OutputDir:           "output",
		MinSamples:          30,
		EliminationFloor:    3,
		ImportanceThreshold: 0.01,
		CVFolds:             3,
		Seed:                42,
		TestFraction:        0.2,
		BlendFraction:       0.3,
		Workers:             runtime.NumCPU(),
		MissingValues:       string(dataset.MissingDrop),
		Outliers:            OutlierConfig{K: 1.5},
		Elimination: EliminationConfig{
			Policy:             string(selection.ImportanceThreshold),
			Family:             learner.RandomForest,
			PermutationRepeats: 5,
			Significance:       0.05,
			ArchiveSteps:       true,
		},
		Tuning: TuningConfig{Family: learner.RandomForest, Scoring: "neg_rmse"},
		Ensembles: EnsembleConfig{
			Strategies:  []string{string(combiner.Voting), string(combiner.Stacking), string(combiner.Blending)},
			Meta:        MetaConfig{Family: learner.Linear},
			Passthrough: true,
		},
		ArtifactStore: ArtifactConfig{Backend: artifact.BackendFile, Path: "models"},
		Log:           LogConfig{Level: "info", Format: "json", Backend: "zerolog"},
		Sinks:         SinkConfig{Postgres: PostgresConfig{Table: "evaluation_records"}},
		Notify:        NotifyConfig{Subject: "pvtrain.runs"},
	}
}

// Load reads path over Default, applies the environment and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("read %s: %v", path, err))
		}
		if err := cfg.decode(bytes.NewReader(b)); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default without touching the environment.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return errors.NewConfigError("yaml: " + err.Error())
	}
	return nil
}

// ApplyEnv overrides fields from PVTRAIN_* variables. Unparseable values
// are reported together as one ConfigError.
func (c *Config) ApplyEnv() error {
	e := &envReader{}
	c.DataPath = getEnv("PVTRAIN_DATA_PATH", c.DataPath)
	c.OutputDir = getEnv("PVTRAIN_OUTPUT_DIR", c.OutputDir)
	c.MinSamples = e.int("PVTRAIN_MIN_SAMPLES", c.MinSamples)
	c.EliminationFloor = e.int("PVTRAIN_ELIMINATION_FLOOR", c.EliminationFloor)
	c.ImportanceThreshold = e.float("PVTRAIN_IMPORTANCE_THRESHOLD", c.ImportanceThreshold)
	c.CVFolds = e.int("PVTRAIN_CV_FOLDS", c.CVFolds)
	c.Seed = uint64(e.int("PVTRAIN_SEED", int(c.Seed)))
	c.Workers = e.int("PVTRAIN_WORKERS", c.Workers)
	c.MissingValues = getEnv("PVTRAIN_MISSING_VALUES", c.MissingValues)
	c.Elimination.Policy = getEnv("PVTRAIN_ELIMINATION_POLICY", c.Elimination.Policy)
	c.Tuning.Enabled = e.bool("PVTRAIN_TUNING_ENABLED", c.Tuning.Enabled)

	c.ArtifactStore.Backend = getEnv("PVTRAIN_ARTIFACT_BACKEND", c.ArtifactStore.Backend)
	c.ArtifactStore.Path = getEnv("PVTRAIN_ARTIFACT_PATH", c.ArtifactStore.Path)
	c.ArtifactStore.Redis.Addr = getEnv("PVTRAIN_REDIS_ADDR", c.ArtifactStore.Redis.Addr)
	c.ArtifactStore.Redis.Password = getEnv("PVTRAIN_REDIS_PASSWORD", c.ArtifactStore.Redis.Password)
	c.ArtifactStore.Minio.Endpoint = getEnv("PVTRAIN_MINIO_ENDPOINT", c.ArtifactStore.Minio.Endpoint)
	c.ArtifactStore.Minio.AccessKey = getEnv("PVTRAIN_MINIO_ACCESS_KEY", c.ArtifactStore.Minio.AccessKey)
	c.ArtifactStore.Minio.SecretKey = getEnv("PVTRAIN_MINIO_SECRET_KEY", c.ArtifactStore.Minio.SecretKey)
	c.ArtifactStore.Minio.Bucket = getEnv("PVTRAIN_MINIO_BUCKET", c.ArtifactStore.Minio.Bucket)

	c.Log.Level = getEnv("PVTRAIN_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("PVTRAIN_LOG_FORMAT", c.Log.Format)
	c.Sinks.Postgres.DSN = getEnv("PVTRAIN_POSTGRES_DSN", c.Sinks.Postgres.DSN)
	c.Sinks.Influx.URL = getEnv("PVTRAIN_INFLUX_URL", c.Sinks.Influx.URL)
	c.Sinks.Influx.Token = getEnv("PVTRAIN_INFLUX_TOKEN", c.Sinks.Influx.Token)
	c.Notify.NATSURL = getEnv("PVTRAIN_NATS_URL", c.Notify.NATSURL)
	c.Metrics.Textfile = getEnv("PVTRAIN_METRICS_TEXTFILE", c.Metrics.Textfile)

	if len(e.problems) > 0 {
		return errors.NewConfigError(e.problems...)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

type envReader struct {
	problems []string
}

func (e *envReader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

func (e *envReader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// Validate reports every problem at once as a ConfigError.
func (c *Config) Validate() error {
	var p []string
	add := func(format string, args ...interface{}) {
		p = append(p, fmt.Sprintf(format, args...))
	}

	if c.DataPath == "" {
		add("data_path is required")
	}
	if c.OutputDir == "" {
		add("output_dir is required")
	}
	if c.MinSamples < 2 {
		add("min_samples must be at least 2, got %d", c.MinSamples)
	}
	if c.EliminationFloor < 1 || c.EliminationFloor > dataset.NumFeatures {
		add("elimination_floor must be in [1, %d], got %d", dataset.NumFeatures, c.EliminationFloor)
	}
	if c.ImportanceThreshold < 0 {
		add("importance_threshold must be non-negative, got %g", c.ImportanceThreshold)
	}
	if c.CVFolds < 2 {
		add("cv_folds must be at least 2, got %d", c.CVFolds)
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		add("test_fraction must be in (0, 1), got %g", c.TestFraction)
	}
	if c.BlendFraction <= 0 || c.BlendFraction >= 1 {
		add("blend_fraction must be in (0, 1), got %g", c.BlendFraction)
	}
	if c.Workers < 0 {
		add("workers must be non-negative, got %d", c.Workers)
	}
	if _, err := dataset.ParseMissingPolicy(c.MissingValues); err != nil {
		add("missing_values: %v", err)
	}
	if c.Outliers.IQR && c.Outliers.K <= 0 {
		add("outliers.k must be positive, got %g", c.Outliers.K)
	}
	for family := range c.ParamGrid {
		if _, err := learner.Canonical(family); err != nil {
			add("param_grid: unknown family %q", family)
		}
	}

	if _, err := selection.ParsePolicy(c.Elimination.Policy); err != nil {
		add("elimination.policy: %v", err)
	}
	if _, err := learner.Canonical(c.Elimination.Family); err != nil {
		add("elimination.family: unknown family %q", c.Elimination.Family)
	}
	if c.Elimination.PermutationRepeats < 1 {
		add("elimination.permutation_repeats must be at least 1, got %d", c.Elimination.PermutationRepeats)
	}
	if c.Elimination.Significance <= 0 || c.Elimination.Significance >= 1 {
		add("elimination.significance must be in (0, 1), got %g", c.Elimination.Significance)
	}

	if c.Tuning.Enabled {
		if _, err := learner.Canonical(c.Tuning.Family); err != nil {
			add("tuning.family: unknown family %q", c.Tuning.Family)
		}
		if _, err := model_selection.Scoring(c.Tuning.Scoring); err != nil {
			add("tuning.scoring: %v", err)
		}
	}

	for _, s := range c.Ensembles.Strategies {
		if _, err := combiner.ParseKind(s); err != nil {
			add("ensembles.strategies: %v", err)
		}
	}
	seen := map[string]bool{}
	for i, m := range c.Ensembles.Members {
		if m.Name == "" {
			add("ensembles.members[%d]: name is required", i)
		} else if seen[m.Name] {
			add("ensembles.members[%d]: duplicate name %q", i, m.Name)
		}
		seen[m.Name] = true
		if m.FromArtifact == "" {
			if _, err := learner.Canonical(m.Family); err != nil {
				add("ensembles.members[%d]: unknown family %q", i, m.Family)
			}
		}
	}
	if len(c.Ensembles.Strategies) > 0 && len(c.Ensembles.Members) == 1 {
		add("ensembles.members needs at least 2 entries")
	}
	if _, err := learner.Canonical(c.Ensembles.Meta.Family); err != nil {
		add("ensembles.meta.family: unknown family %q", c.Ensembles.Meta.Family)
	}
	if c.Ensembles.StackingFolds == 1 || c.Ensembles.StackingFolds < 0 {
		add("ensembles.stacking_folds must be 0 or at least 2, got %d", c.Ensembles.StackingFolds)
	}

	switch c.ArtifactStore.Backend {
	case artifact.BackendFile, "":
		if c.ArtifactStore.Path == "" {
			add("artifact_store.path is required for the file backend")
		}
	case artifact.BackendMemory:
	case artifact.BackendRedis:
		if c.ArtifactStore.Redis.Addr == "" {
			add("artifact_store.redis.addr is required")
		}
	case artifact.BackendMinio:
		if c.ArtifactStore.Minio.Endpoint == "" || c.ArtifactStore.Minio.Bucket == "" {
			add("artifact_store.minio needs endpoint and bucket")
		}
	default:
		add("artifact_store.backend must be file, memory, redis or minio, got %q", c.ArtifactStore.Backend)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "console" {
		add("log.format must be json or console, got %q", c.Log.Format)
	}
	if b := strings.ToLower(c.Log.Backend); b != "zerolog" && b != "slog" {
		add("log.backend must be zerolog or slog, got %q", c.Log.Backend)
	}

	if c.Sinks.Influx.URL != "" && (c.Sinks.Influx.Org == "" || c.Sinks.Influx.Bucket == "") {
		add("sinks.influx needs org and bucket")
	}
	if c.Sinks.Postgres.DSN != "" && c.Sinks.Postgres.Table == "" {
		add("sinks.postgres.table is required")
	}

	if len(p) > 0 {
		return errors.NewConfigError(p...)
	}
	return nil
}

// ArtifactOptions maps the artifact section to artifact.Options.
func (c *Config) ArtifactOptions() artifact.Options {
	s := c.ArtifactStore
	return artifact.Options{
		Backend: s.Backend,
		Path:    s.Path,
		Redis: artifact.RedisOptions{
			Addr: s.Redis.Addr, Password: s.Redis.Password, DB: s.Redis.DB, Prefix: s.Redis.Prefix,
		},
		Minio: artifact.MinioOptions{
			Endpoint: s.Minio.Endpoint, AccessKey: s.Minio.AccessKey, SecretKey: s.Minio.SecretKey,
			Bucket: s.Minio.Bucket, UseSSL: s.Minio.UseSSL, Prefix: s.Minio.Prefix,
		},
	}
}

// MemberSpecs converts the member list, falling back to the built-in set.
func (c *Config) MemberSpecs() []combiner.MemberSpec {
	if len(c.Ensembles.Members) == 0 {
		return combiner.DefaultMembers()
	}
	out := make([]combiner.MemberSpec, len(c.Ensembles.Members))
	for i, m := range c.Ensembles.Members {
		out[i] = combiner.MemberSpec{
			Name:         m.Name,
			Family:       m.Family,
			Params:       learner.Params(m.Params),
			FromArtifact: m.FromArtifact,
		}
	}
	return out
}
