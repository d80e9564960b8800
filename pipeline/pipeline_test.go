package pipeline

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/YuminosukeSato/pvtrain/artifact"
	"github.com/YuminosukeSato/pvtrain/config"
	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/notify"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/report"
	"github.com/YuminosukeSato/pvtrain/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoGenerators returns A with 5 rows and B with 50 rows whose target is
// 2*capacity plus noise.
func twoGenerators() []dataset.Observation {
	rows := dataset.Synthetic("A", 5, 1, 0.1, nil)
	b := dataset.Synthetic("B", 50, 2, 0, nil)
	rng := rand.New(rand.NewPCG(2, 1))
	for i := range b {
		b[i].Features[0] = 1 + 9*rng.Float64()
		b[i].Target = 2*b[i].Features[0] + 0.1*rng.NormFloat64()
	}
	return append(rows, b...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataPath = "inline"
	cfg.OutputDir = t.TempDir()
	cfg.Workers = 2
	cfg.ArtifactStore.Backend = artifact.BackendMemory
	cfg.Elimination.Params = map[string]interface{}{"n_estimators": 30}
	cfg.Ensembles.Members = []config.MemberConfig{
		{Name: "rf", Family: "random_forest", Params: map[string]interface{}{"n_estimators": 30}},
		{Name: "xgb", Family: "gradient_boosting", Params: map[string]interface{}{"n_estimators": 60, "learning_rate": 0.1, "max_depth": 3}},
		{Name: "lr", Family: "linear"},
	}
	return cfg
}

type memorySink struct {
	mu      sync.Mutex
	runID   string
	records []evaluation.Record
}

func (s *memorySink) Name() string { return "memory" }
func (s *memorySink) Close() error { return nil }
func (s *memorySink) WriteRecords(_ context.Context, runID string, records []evaluation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	s.records = append(s.records, records...)
	return nil
}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Close() error { return nil }
func (failingSink) WriteRecords(context.Context, string, []evaluation.Record) error {
	return errors.New("connection refused")
}

type recordingPublisher struct {
	mu      sync.Mutex
	summary *report.Summary
	events  []notify.GeneratorEvent
}

func (p *recordingPublisher) PublishRun(_ context.Context, s report.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary = &s
	return nil
}

func (p *recordingPublisher) PublishGenerator(ev notify.GeneratorEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func recordsOf(rep *report.RunReport, gen string) map[string]evaluation.Record {
	out := map[string]evaluation.Record{}
	for _, r := range rep.Records {
		if r.GeneratorID == gen {
			out[r.Strategy] = r
		}
	}
	return out
}

func TestTwoGeneratorScenario(t *testing.T) {
	cfg := testConfig(t)
	store := artifact.NewMemoryStore()
	snk := &memorySink{}
	pub := &recordingPublisher{}
	metrics := telemetry.New()

	rep, err := NewRunner(cfg,
		WithRows(twoGenerators()), WithStore(store), WithSinks(snk), WithPublisher(pub), WithMetrics(metrics),
	).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Generators, 2)
	a, b := rep.Generators[0], rep.Generators[1]
	assert.Equal(t, "A", a.GeneratorID)
	assert.Equal(t, string(StateIneligible), a.State)
	assert.Equal(t, 5, a.Samples)
	assert.Empty(t, recordsOf(rep, "A"))

	assert.Equal(t, string(StateEvaluated), b.State)
	assert.Empty(t, b.Failures)
	assert.Contains(t, b.Features, dataset.InstalledCapacity)
	assert.GreaterOrEqual(t, len(b.Features), cfg.EliminationFloor)

	recs := recordsOf(rep, "B")
	for _, s := range []string{StrategyBase, StrategyElimination, "voting", "stacking", "blending"} {
		require.Contains(t, recs, s)
	}
	for _, s := range []string{"voting", "stacking", "blending"} {
		assert.Greater(t, recs[s].R2, 0.8, s)
	}

	require.NotNil(t, rep.Selection)
	require.Len(t, rep.Traces, 1)
	assert.Equal(t, dataset.NumFeatures, rep.Traces[0].Steps[0].SubsetSize)

	// artifacts
	ctx := context.Background()
	for _, key := range []artifact.Key{
		artifact.NewKey("B", StrategyBase),
		artifact.NewKey("B", StrategyElimination),
		artifact.NewKey("B", "voting"),
		artifact.StepKey("B", StrategyElimination, dataset.NumFeatures),
	} {
		_, err := store.Get(ctx, key)
		assert.NoError(t, err, key.String())
	}
	_, err = store.Get(ctx, artifact.NewKey("A", StrategyBase))
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	// outputs
	for _, name := range []string{report.RecordsFile, report.TraceFile, report.SelectionFile, report.PredictionsFile} {
		_, err := os.Stat(filepath.Join(cfg.OutputDir, name))
		assert.NoError(t, err, name)
	}

	assert.Equal(t, rep.RunID, snk.runID)
	assert.Len(t, snk.records, len(rep.Records))
	require.NotNil(t, pub.summary)
	assert.Equal(t, rep.Selection.Strategy, pub.summary.Best)
	assert.Len(t, pub.events, 2)

	n, err := testutil.GatherAndCount(metrics.Registry(), "pvtrain_generators_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBranchFailureIsContained(t *testing.T) {
	cfg := testConfig(t)
	// the elimination family cannot fit, so base and elimination fail while
	// the ensembles fall back to every feature
	cfg.Elimination.Params = map[string]interface{}{"n_estimators": 0}
	cfg.Ensembles.Strategies = []string{"voting"}

	rep, err := NewRunner(cfg, WithRows(twoGenerators())).Run(context.Background())
	require.NoError(t, err)

	b := rep.Generators[1]
	assert.Equal(t, string(StateEvaluated), b.State)
	require.Len(t, b.Failures, 2)
	assert.Contains(t, b.Failures[0], StrategyBase)
	assert.Contains(t, b.Failures[1], StrategyElimination)
	assert.Equal(t, []string(dataset.AllFeatures()), b.Features)

	recs := recordsOf(rep, "B")
	assert.Len(t, recs, 1)
	assert.Contains(t, recs, "voting")
	assert.Empty(t, rep.Traces)
}

func TestTooFewMembersIsAWarning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ensembles.Strategies = []string{"voting"}
	cfg.Ensembles.Members = []config.MemberConfig{
		{Name: "lr", Family: "linear"},
		{Name: "prior", FromArtifact: "never_stored"},
	}

	rep, err := NewRunner(cfg, WithRows(twoGenerators())).Run(context.Background())
	require.NoError(t, err)
	b := rep.Generators[1]
	assert.Equal(t, string(StateEvaluated), b.State)
	assert.Empty(t, b.Failures)
	assert.NotContains(t, recordsOf(rep, "B"), "voting")
	assert.NotEmpty(t, b.Warnings)
}

func TestMembersFromArtifacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ensembles.Strategies = []string{"stacking"}
	cfg.Ensembles.Members = []config.MemberConfig{
		{Name: "base", FromArtifact: StrategyBase},
		{Name: "lr", Family: "linear"},
	}

	rep, err := NewRunner(cfg, WithRows(twoGenerators())).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, recordsOf(rep, "B"), "stacking")
}

func TestNoEligibleGenerator(t *testing.T) {
	cfg := testConfig(t)
	cfg.MinSamples = 100

	rep, err := NewRunner(cfg, WithRows(twoGenerators())).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rep.Selection)
	assert.Equal(t, 2, rep.Count(string(StateIneligible)))
	assert.NotEmpty(t, rep.Warnings)
}

func TestConfigErrorsAreFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.EliminationFloor = 0
	_, err := NewRunner(cfg, WithRows(twoGenerators())).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))

	cfg = testConfig(t)
	cfg.DataPath = filepath.Join(t.TempDir(), "missing.csv")
	_, err = NewRunner(cfg).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	_, statErr := os.Stat(filepath.Join(cfg.OutputDir, report.RecordsFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunFromCSVAndCompare(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataPath = filepath.Join(t.TempDir(), "generation.csv")
	f, err := os.Create(cfg.DataPath)
	require.NoError(t, err)
	require.NoError(t, dataset.WriteCSV(f, twoGenerators()))
	require.NoError(t, f.Close())
	cfg.Ensembles.Strategies = []string{"voting"}

	r := NewRunner(cfg)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(StateEvaluated), rep.Generators[1].State)

	cmp, err := r.Compare(context.Background(), []string{StrategyBase, StrategyElimination, "voting", "tuned"})
	require.NoError(t, err)
	assert.Len(t, cmp.Records, 3)
	assert.NotEmpty(t, cmp.Warnings)
}

func TestSinkFailureIsAWarning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ensembles.Strategies = nil
	rep, err := NewRunner(cfg, WithRows(twoGenerators()), WithSinks(&failingSink{})).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, rep.Warnings[len(rep.Warnings)-1], "connection refused")
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(testConfig(t), WithRows(twoGenerators())).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateMachine(t *testing.T) {
	m := newMachine(true)
	require.NoError(t, m.advance(StateFeatureSelecting))
	assert.Error(t, m.advance(StateEvaluated))
	require.NoError(t, m.advance(StateEnsembleBuilding))
	require.NoError(t, m.advance(StateEvaluated))
	assert.True(t, m.state.Terminal())

	m = newMachine(false)
	assert.True(t, m.state.Terminal())
	assert.Error(t, m.advance(StateFeatureSelecting))
}
