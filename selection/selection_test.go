package selection

import (
	"context"
	"sync"
	"testing"

	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snowfall (index 4) carries no signal, every other feature does.
func noisySnowfall(f [dataset.NumFeatures]float64) float64 {
	return 10*f[0] + 0.1*f[1] + 0.05*f[2] + 0.5*f[3] + 0.5*f[5] + 0.3*f[6] + 0.1*f[7] + 0.3*f[8]
}

func irradianceOnly(f [dataset.NumFeatures]float64) float64 {
	return 2*f[0] + 0.3*f[7]
}

func generator(n int, noise float64, fn dataset.TargetFunc) *dataset.GeneratorDataset {
	return &dataset.GeneratorDataset{ID: "G1", Rows: dataset.Synthetic("G1", n, 11, noise, fn)}
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"importance_threshold", "performance_monitored", "full_trace", "pvalue"} {
		p, err := ParsePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, Policy(s), p)
	}
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ImportanceThreshold, p)
	_, err = ParsePolicy("forward")
	assert.Error(t, err)
}

func TestNewSelectorValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Floor = 0
	_, err := NewSelector(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Family = "svm"
	_, err = NewSelector(cfg, nil)
	assert.Error(t, err)
}

func TestImportanceThresholdDropsNoiseFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Family = learner.Linear
	sel, err := NewSelector(cfg, nil)
	require.NoError(t, err)

	res, err := sel.Run(context.Background(), generator(100, 0.01, noisySnowfall), dataset.AllFeatures())
	require.NoError(t, err)

	require.NotEmpty(t, res.Eliminated)
	assert.Equal(t, dataset.TotalSnowfall, res.Eliminated[0])
	require.GreaterOrEqual(t, len(res.Trace), 2)
	assert.Equal(t, 1, res.Trace[0].Index)
	assert.Equal(t, 9, res.Trace[0].SubsetSize)
	assert.Empty(t, res.Trace[0].Dropped)
	assert.Equal(t, dataset.TotalSnowfall, res.Trace[1].Dropped)
	assert.False(t, res.Final.Contains(dataset.TotalSnowfall))
	assert.Equal(t, res.Final, res.Model.Features)
	assert.Greater(t, res.Trace[len(res.Trace)-1].R2, 0.99)
}

func TestFloorInvariant(t *testing.T) {
	ds := generator(60, 0.1, irradianceOnly)
	for _, policy := range []Policy{ImportanceThreshold, FullTrace, PValue} {
		for _, floor := range []int{1, 3, 5} {
			cfg := DefaultConfig()
			cfg.Policy = policy
			cfg.Family = learner.Linear
			cfg.Floor = floor
			cfg.ImportanceThreshold = 0.5
			sel, err := NewSelector(cfg, nil)
			require.NoError(t, err)

			res, err := sel.Run(context.Background(), ds, dataset.AllFeatures())
			require.NoError(t, err)
			for _, st := range res.Trace {
				assert.GreaterOrEqual(t, st.SubsetSize, floor, "%s floor %d", policy, floor)
			}
			assert.GreaterOrEqual(t, len(res.Final), floor)
			if policy == FullTrace {
				assert.Equal(t, floor, res.Trace[len(res.Trace)-1].SubsetSize)
				assert.Len(t, res.Trace, 9-floor+1)
			}
		}
	}
}

func TestFullTraceKeepsBestR2(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = FullTrace
	cfg.Params = learner.Params{"n_estimators": 20}

	var mu sync.Mutex
	archived := map[int]bool{}
	sel, err := NewSelector(cfg, func(_ context.Context, gen string, size int, tm *learner.TrainedModel) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "G1", gen)
		assert.Len(t, tm.Features, size)
		archived[size] = true
		return nil
	})
	require.NoError(t, err)

	res, err := sel.Run(context.Background(), generator(60, 0.1, irradianceOnly), dataset.AllFeatures())
	require.NoError(t, err)

	best := res.Trace[0]
	accepted := 0
	for _, st := range res.Trace {
		if st.R2 > best.R2 {
			best = st
		}
		if st.Accepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, best.Remaining, res.Final)
	assert.Len(t, archived, 7)
	assert.Len(t, res.StepModels, 7)
}

func TestPerformanceMonitored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = PerformanceMonitored
	cfg.Params = learner.Params{"n_estimators": 20}
	cfg.PermutationRepeats = 3
	sel, err := NewSelector(cfg, nil)
	require.NoError(t, err)

	ds := generator(80, 0.2, irradianceOnly)
	res, err := sel.Run(context.Background(), ds, dataset.AllFeatures())
	require.NoError(t, err)

	prev := res.Trace[0].BestRMSE
	for _, st := range res.Trace[1:] {
		assert.LessOrEqual(t, st.BestRMSE, prev)
		prev = st.BestRMSE
		assert.NotEmpty(t, st.Dropped)
	}
	last := res.Trace[len(res.Trace)-1]
	if len(res.Final) > cfg.Floor {
		assert.False(t, last.Accepted, "the loop stops on a rejected drop above the floor")
	}
	for _, st := range res.Trace {
		if st.Accepted {
			assert.Equal(t, st.RMSE, st.BestRMSE)
		}
	}
	assert.Len(t, res.Eliminated, 9-len(res.Final))

	// same seed, different worker count
	cfg.Workers = 1
	serial, err := NewSelector(cfg, nil)
	require.NoError(t, err)
	again, err := serial.Run(context.Background(), ds, dataset.AllFeatures())
	require.NoError(t, err)
	assert.Equal(t, traceSummary(res), traceSummary(again))
}

type stepSummary struct {
	Remaining string
	Dropped   string
	R2        float64
	Accepted  bool
}

func traceSummary(res *Result) []stepSummary {
	out := make([]stepSummary, len(res.Trace))
	for i, st := range res.Trace {
		out[i] = stepSummary{st.Remaining.String(), st.Dropped, st.R2, st.Accepted}
	}
	return out
}

func TestDeterministicTrace(t *testing.T) {
	ds := generator(60, 0.2, irradianceOnly)
	cfg := DefaultConfig()
	cfg.Params = learner.Params{"n_estimators": 15}
	sel, err := NewSelector(cfg, nil)
	require.NoError(t, err)

	a, err := sel.Run(context.Background(), ds, dataset.AllFeatures())
	require.NoError(t, err)
	b, err := sel.Run(context.Background(), ds, dataset.AllFeatures())
	require.NoError(t, err)
	assert.Equal(t, traceSummary(a), traceSummary(b))
	assert.Equal(t, a.Final, b.Final)
}

func TestPValuePolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = PValue
	cfg.Family = learner.Linear
	cfg.Floor = 1
	sel, err := NewSelector(cfg, nil)
	require.NoError(t, err)

	res, err := sel.Run(context.Background(), generator(120, 0.3, irradianceOnly), dataset.AllFeatures())
	require.NoError(t, err)

	assert.True(t, res.Final.Contains(dataset.SolarIrradiance))
	for i := 1; i < len(res.Trace); i++ {
		prev := res.Trace[i-1]
		dropped := res.Trace[i].Dropped
		require.Contains(t, prev.PValues, dropped)
		assert.Greater(t, prev.PValues[dropped], cfg.Significance)
		for _, p := range prev.PValues {
			assert.LessOrEqual(t, p, prev.PValues[dropped])
		}
	}
	last := res.Trace[len(res.Trace)-1]
	if len(res.Final) > cfg.Floor {
		for _, p := range last.PValues {
			assert.LessOrEqual(t, p, cfg.Significance)
		}
	}
}

func TestPValuePolicyFewRows(t *testing.T) {
	for _, n := range []int{10, 11, 13} {
		t.Run("", func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Policy = PValue
			cfg.Family = learner.Linear
			sel, err := NewSelector(cfg, nil)
			require.NoError(t, err)

			res, err := sel.Run(context.Background(), generator(n, 0.1, irradianceOnly), dataset.AllFeatures())
			require.NoError(t, err)
			require.NotEmpty(t, res.Trace)
			assert.Equal(t, 9, res.Trace[0].SubsetSize)
			assert.GreaterOrEqual(t, len(res.Final), cfg.Floor)
			assert.Equal(t, res.Final, res.Model.Features)
			for _, p := range res.Trace[0].PValues {
				assert.Equal(t, 1.0, p)
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	sel, err := NewSelector(DefaultConfig(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sel.Run(ctx, generator(40, 0.1, nil), dataset.AllFeatures())
	assert.ErrorIs(t, err, context.Canceled)

	_, err = sel.Run(context.Background(), generator(40, 0.1, nil), dataset.FeatureSubset{})
	assert.Error(t, err)
}

func TestPermutationImportance(t *testing.T) {
	ds := generator(80, 0.05, irradianceOnly)
	features := dataset.FeatureSubset{dataset.InstalledCapacity, dataset.TotalSnowfall, dataset.SolarIrradiance}
	tm, err := learner.FitDataset(learner.Linear, nil, features, ds)
	require.NoError(t, err)

	X, y := ds.Matrix(features)
	a, err := PermutationImportance(tm, X, y, 4, 42, 3)
	require.NoError(t, err)
	b, err := PermutationImportance(tm, X, y, 4, 42, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Greater(t, a.Baseline, 0.99)
	assert.Greater(t, a.Mean[2], a.Mean[1])
	assert.InDelta(t, 0, a.Mean[1], 0.01)

	_, err = PermutationImportance(tm, X, y, 0, 42, 1)
	assert.Error(t, err)
}
