package learner

import (
	"bytes"
	"math"
	"testing"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/metrics"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearData(n int) *dataset.GeneratorDataset {
	return &dataset.GeneratorDataset{ID: "G", Rows: dataset.Synthetic("G", n, 3, 0.05, func(f [dataset.NumFeatures]float64) float64 {
		return 2*f[0] + 0.3*f[7]
	})}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"rf", RandomForest},
		{"XGB", GradientBoosting},
		{"gbdt", GradientBoosting},
		{" lr ", Linear},
		{"ridge", Ridge},
		{"lasso", Lasso},
		{"elastic_net", ElasticNet},
		{"tree", DecisionTree},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Canonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Canonical("svm")
	assert.Error(t, err)
	assert.Len(t, DefaultRegistry.Families(), 7)
}

func TestNewAppliesParams(t *testing.T) {
	est, err := New("rf", Params{"n_estimators": 12, "max_depth": nil, "max_features": "sqrt"})
	require.NoError(t, err)
	p := est.GetParams()
	assert.Equal(t, 12, p["n_estimators"])
	assert.Equal(t, 0, p["max_depth"])

	_, err = New("ridge", Params{"alpha": "big"})
	assert.Error(t, err)
	_, err = New("linear", Params{"alpha": 1.0})
	assert.Error(t, err)

	lasso, err := DefaultParams(Lasso)
	require.NoError(t, err)
	assert.Equal(t, 1.0, lasso["l1_ratio"])
}

func TestFitPredict(t *testing.T) {
	ds := linearData(80)
	features := dataset.FeatureSubset{dataset.InstalledCapacity, dataset.SolarIrradiance}

	for _, family := range DefaultRegistry.Families() {
		t.Run(family, func(t *testing.T) {
			params := Params{}
			if family == Lasso || family == ElasticNet || family == Ridge {
				params["alpha"] = 0.001
			}
			if family == RandomForest || family == GradientBoosting {
				params["n_estimators"] = 30
			}
			tm, err := FitDataset(family, params, features, ds)
			require.NoError(t, err)
			assert.Equal(t, family, tm.Family)
			assert.Equal(t, features, tm.Features)
			assert.False(t, tm.TrainedAt.IsZero())

			pred, err := tm.PredictRows(ds)
			require.NoError(t, err)
			_, y := ds.Matrix(features)
			r2, err := metrics.R2Score(y, pred)
			require.NoError(t, err)
			assert.Greater(t, r2, 0.8)

			imp, ok := tm.Importances()
			require.True(t, ok)
			assert.Greater(t, imp[dataset.InstalledCapacity], 0.0)

			clone, err := tm.Clone()
			require.NoError(t, err)
			assert.False(t, model.Fitted(clone))
			assert.Equal(t, tm.Model.GetParams(), clone.GetParams())
		})
	}
}

func TestPredictRejectsWrongWidth(t *testing.T) {
	ds := linearData(30)
	tm, err := FitDataset(Linear, nil, dataset.FeatureSubset{dataset.InstalledCapacity}, ds)
	require.NoError(t, err)

	X, _ := ds.Matrix(dataset.AllFeatures())
	_, err = tm.Predict(X)
	assert.Error(t, err)

	X, y := ds.Matrix(dataset.AllFeatures())
	_, err = Fit(Linear, nil, dataset.FeatureSubset{dataset.InstalledCapacity}, X, y)
	assert.Error(t, err)
}

func TestFitRejectsNaN(t *testing.T) {
	ds := linearData(30)
	ds.Rows[4].Features[0] = math.NaN()
	_, err := FitDataset(Ridge, nil, dataset.FeatureSubset{dataset.InstalledCapacity}, ds)
	require.Error(t, err)
	var nie *errors.NumericalInstabilityError
	assert.True(t, errors.As(err, &nie))
}

func TestFitDatasetRejectsInvalidSubset(t *testing.T) {
	ds := linearData(30)
	tests := []struct {
		name     string
		features dataset.FeatureSubset
	}{
		{"unordered", dataset.FeatureSubset{dataset.SolarIrradiance, dataset.InstalledCapacity}},
		{"duplicate", dataset.FeatureSubset{dataset.InstalledCapacity, dataset.InstalledCapacity}},
		{"empty", dataset.FeatureSubset{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tm *TrainedModel
			var err error
			require.NotPanics(t, func() { tm, err = FitDataset(Linear, nil, tt.features, ds) })
			require.Error(t, err)
			assert.Nil(t, tm)
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}

	tm, err := FitDataset(Linear, nil, dataset.FeatureSubset{dataset.InstalledCapacity}, ds)
	require.NoError(t, err)
	tm.Features = dataset.FeatureSubset{dataset.SolarIrradiance, dataset.InstalledCapacity}
	_, err = tm.PredictRows(ds)
	assert.Error(t, err)
}

func TestTrainedModelGob(t *testing.T) {
	ds := linearData(40)
	features := dataset.FeatureSubset{dataset.InstalledCapacity, dataset.SolarIrradiance}
	for _, family := range []string{GradientBoosting, Ridge, DecisionTree} {
		t.Run(family, func(t *testing.T) {
			tm, err := FitDataset(family, Params{}, features, ds)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, model.SaveModelToWriter(tm, &buf))
			var back TrainedModel
			require.NoError(t, model.LoadModelFromReader(&back, &buf))

			want, err := tm.PredictRows(ds)
			require.NoError(t, err)
			got, err := back.PredictRows(ds)
			require.NoError(t, err)
			for i := 0; i < want.Len(); i++ {
				assert.InDelta(t, want.AtVec(i), got.AtVec(i), 1e-12)
			}
			assert.Equal(t, tm.Family, back.Family)
		})
	}
}
