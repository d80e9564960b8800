package metrics

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func vec(v ...float64) *mat.VecDense { return mat.NewVecDense(len(v), v) }

func TestMSE(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   *mat.VecDense
		yPred   *mat.VecDense
		want    float64
		wantErr bool
	}{
		{"perfect prediction", vec(1, 2, 3, 4, 5), vec(1, 2, 3, 4, 5), 0, false},
		{"simple case", vec(1, 2, 3, 4), vec(1.5, 2.5, 2.5, 3.5), 0.25, false},
		// (4 + 4 + 9) / 3
		{"larger errors", vec(10, 20, 30), vec(12, 18, 33), 17.0 / 3.0, false},
		{"dimension mismatch", vec(1, 2, 3), vec(1, 2), 0, true},
		{"empty vectors", &mat.VecDense{}, &mat.VecDense{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MSE(tt.yTrue, tt.yPred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MSE() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("MSE() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMSEMatrix(t *testing.T) {
	yTrue := mat.NewDense(3, 1, []float64{1, 2, 3})
	yPred := mat.NewDense(3, 1, []float64{2, 2, 2})

	got, err := MSEMatrix(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, got, 1e-12)

	_, err = MSEMatrix(mat.NewDense(2, 2, nil), mat.NewDense(2, 2, nil))
	assert.Error(t, err)
}

func TestPerfectPredictionSanity(t *testing.T) {
	y := vec(3.2, 8.1, 5.5, 9.9, 1.4)

	r2, err := R2Score(y, y)
	require.NoError(t, err)
	rmse, err := RMSE(y, y)
	require.NoError(t, err)
	mae, err := MAE(y, y)
	require.NoError(t, err)

	assert.Equal(t, 1.0, r2)
	assert.Equal(t, 0.0, rmse)
	assert.Equal(t, 0.0, mae)
}

func TestRMSEAndMAE(t *testing.T) {
	yTrue := vec(1, 2, 3, 4)
	yPred := vec(2, 2, 3, 6)

	rmse, err := RMSE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(5.0/4.0), rmse, 1e-12)

	mae, err := MAE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, mae, 1e-12)

	_, err = MAE(vec(1), vec(1, 2))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}

func TestR2Score(t *testing.T) {
	tests := []struct {
		name  string
		yTrue *mat.VecDense
		yPred *mat.VecDense
		want  float64
	}{
		{"mean predictor", vec(1, 2, 3, 4, 5), vec(3, 3, 3, 3, 3), 0},
		{"negative score", vec(1, 2, 3), vec(3, 2, 1), -3},
		{"good fit", vec(1, 2, 3, 4), vec(1.1, 1.9, 3.1, 3.9), 1 - 0.04/5},
		{"constant target perfect", vec(7, 7, 7), vec(7, 7, 7), 1},
		{"constant target imperfect", vec(7, 7, 7), vec(6, 7, 8), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := R2Score(tt.yTrue, tt.yPred)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-10)
		})
	}
}

func TestMAPE(t *testing.T) {
	t.Run("zero targets are excluded", func(t *testing.T) {
		got, err := MAPE(vec(100, 0, 50), vec(110, 5, 45))
		require.NoError(t, err)
		// (10% + 10%) / 2
		assert.InDelta(t, 10.0, got, 1e-10)
	})

	t.Run("all zero targets", func(t *testing.T) {
		var warned []error
		errors.SetWarningHandler(func(w error) { warned = append(warned, w) })
		defer errors.SetWarningHandler(nil)

		got, err := MAPE(vec(0, 0), vec(1, 2))
		require.NoError(t, err)
		assert.True(t, math.IsNaN(got))
		require.Len(t, warned, 1)
		var uw *errors.UndefinedMetricWarning
		assert.True(t, errors.As(warned[0], &uw))
		assert.Equal(t, "mape", uw.Metric)
	})
}

func TestNRMSE(t *testing.T) {
	yTrue := vec(2, 4, 6, 8)
	yPred := vec(3, 3, 7, 7)

	rmse, err := RMSE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rmse, 1e-12)

	byMean, err := NRMSEMean(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/5.0, byMean, 1e-12)

	byRange, err := NRMSERange(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/6.0, byRange, 1e-12)
	assert.NotEqual(t, byMean, byRange)

	errors.SetWarningHandler(func(error) {})
	defer errors.SetWarningHandler(nil)

	flat, err := NRMSERange(vec(5, 5, 5), vec(4, 5, 6))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(flat))

	zeroMean, err := NRMSEMean(vec(-1, 1), vec(0, 0))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(zeroMean))
}

func TestExplainedVarianceScore(t *testing.T) {
	// a constant offset does not reduce explained variance
	got, err := ExplainedVarianceScore(vec(1, 2, 3, 4), vec(2, 3, 4, 5))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-12)

	_, err = ExplainedVarianceScore(vec(2, 2), vec(1, 3))
	assert.Error(t, err)
}

func TestColumnVector(t *testing.T) {
	v, err := ColumnVector("test", mat.NewDense(3, 1, []float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, v.RawVector().Data)

	_, err = ColumnVector("test", mat.NewDense(2, 3, nil))
	assert.Error(t, err)
}
