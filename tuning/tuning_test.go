package tuning

import (
	"context"
	"math"
	"testing"

	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandGridOrder(t *testing.T) {
	got := ExpandGrid(Grid{
		"b": {1, 2},
		"a": {"x", "y", "z"},
	})
	require.Len(t, got, 6)
	want := []learner.Params{
		{"a": "x", "b": 1},
		{"a": "x", "b": 2},
		{"a": "y", "b": 1},
		{"a": "y", "b": 2},
		{"a": "z", "b": 1},
		{"a": "z", "b": 2},
	}
	assert.Equal(t, want, got)

	assert.Equal(t, []learner.Params{{}}, ExpandGrid(Grid{}))
	assert.Empty(t, ExpandGrid(Grid{"a": {}}))
	assert.Equal(t, 162, DefaultGrid(learner.RandomForest).Size())
	assert.Equal(t, 72, DefaultGrid(learner.GradientBoosting).Size())
}

func TestLogSpace(t *testing.T) {
	v := LogSpace(-3, 3, 50)
	require.Len(t, v, 50)
	assert.InDelta(t, 1e-3, v[0], 1e-15)
	assert.InDelta(t, 1e3, v[49], 1e-9)
	for i := 1; i < len(v); i++ {
		assert.InDelta(t, math.Log10(v[1])-math.Log10(v[0]), math.Log10(v[i])-math.Log10(v[i-1]), 1e-9)
	}
	assert.Equal(t, []float64{100}, LogSpace(2, 5, 1))
	assert.Nil(t, LogSpace(0, 1, 0))
}

func data(n int) *dataset.GeneratorDataset {
	return &dataset.GeneratorDataset{ID: "T", Rows: dataset.Synthetic("T", n, 21, 0.5, func(f [dataset.NumFeatures]float64) float64 {
		return 2*f[0] + 0.3*f[7]
	})}
}

func TestGridSearchRidge(t *testing.T) {
	X, y := data(60).Matrix(dataset.AllFeatures())
	gs := &GridSearch{Family: "ridge", Grid: Grid{"alpha": {1e-3, 1.0, 1e4}}, Folds: 3, Seed: 42}
	res, err := gs.Run(context.Background(), X, y)
	require.NoError(t, err)

	require.Len(t, res.Candidates, 3)
	assert.NotEqual(t, 2, res.BestIndex, "huge alpha shrinks everything")
	assert.Equal(t, 1, res.Candidates[res.BestIndex].Rank)
	assert.Equal(t, res.BestParams, res.Candidates[res.BestIndex].Params)
	for _, c := range res.Candidates {
		assert.Len(t, c.FoldScores, 3)
		assert.NoError(t, c.Err)
		assert.LessOrEqual(t, c.MeanScore, res.BestScore)
	}
	assert.Equal(t, res.BestParams["alpha"], res.BestModel.GetParams()["alpha"])

	// workers do not change the outcome
	gs.Workers = 1
	serial, err := gs.Run(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, res.BestIndex, serial.BestIndex)
	assert.Equal(t, res.BestScore, serial.BestScore)
}

func TestGridSearchTiesPickFirst(t *testing.T) {
	X, y := data(30).Matrix(dataset.AllFeatures())
	gs := &GridSearch{Family: "linear", Grid: Grid{"tol": {1e-10, 1e-12}}, Seed: 1}
	res, err := gs.Run(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, 0, res.BestIndex)
	assert.Equal(t, 2, res.Candidates[1].Rank)
}

func TestGridSearchFailedCandidates(t *testing.T) {
	X, y := data(30).Matrix(dataset.AllFeatures())
	gs := &GridSearch{Family: "ridge", Grid: Grid{"alpha": {"bad", 0.5}}, Seed: 1}
	res, err := gs.Run(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, 1, res.BestIndex)
	assert.Error(t, res.Candidates[0].Err)
	assert.Equal(t, 0, res.Candidates[0].Rank)

	gs.Grid = Grid{"alpha": {"bad"}}
	_, err = gs.Run(context.Background(), X, y)
	assert.ErrorIs(t, err, ErrNoValidCandidate)

	gs.Grid = Grid{"alpha": {}}
	_, err = gs.Run(context.Background(), X, y)
	assert.Error(t, err)

	gs = &GridSearch{Family: "ridge", Folds: 1}
	_, err = gs.Run(context.Background(), X, y)
	assert.Error(t, err)

	gs = &GridSearch{Family: "ridge", Scoring: "accuracy"}
	_, err = gs.Run(context.Background(), X, y)
	assert.Error(t, err)
}

func TestTune(t *testing.T) {
	ds := data(80)
	subset := dataset.FeatureSubset{dataset.InstalledCapacity, dataset.SolarIrradiance}
	out, err := Tune(context.Background(), ds, subset, Config{
		Family:  "xgb",
		Grid:    Grid{"n_estimators": {30, 60}, "max_depth": {2, 3}},
		Scoring: "neg_rmse",
		Seed:    42,
	}, "tuned")
	require.NoError(t, err)

	assert.Equal(t, learner.GradientBoosting, out.Model.Family)
	assert.Equal(t, subset, out.Model.Features)
	assert.Equal(t, "tuned", out.Record.Strategy)
	assert.Equal(t, 16, out.Record.NTest)
	assert.Len(t, out.Predictions, 16)
	assert.Greater(t, out.Record.R2, 0.7)
	assert.LessOrEqual(t, out.Search.BestScore, 0.0)
	assert.Equal(t, out.Search.BestParams["n_estimators"], out.Model.Params["n_estimators"])
}
