package preprocessing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestStandardScaler_FitTransform(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})

	s := NewStandardScalerDefault()
	out, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, s.Mean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), s.Scale[0], 1e-12)
	// constant column keeps scale 1
	assert.Equal(t, 1.0, s.Scale[1])

	var sum float64
	for i := 0; i < 4; i++ {
		sum += out.At(i, 0)
		assert.Equal(t, 0.0, out.At(i, 1))
	}
	assert.InDelta(t, 0, sum, 1e-12)

	back, err := s.InverseTransform(out)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))
}

func TestStandardScaler_Errors(t *testing.T) {
	s := NewStandardScalerDefault()
	_, err := s.Transform(mat.NewDense(1, 1, []float64{1}))
	assert.Error(t, err)

	require.NoError(t, s.Fit(mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
	_, err = s.Transform(mat.NewDense(1, 3, nil))
	assert.Error(t, err)

	assert.Contains(t, s.String(), "n_features=2")
}

func TestStandardScaler_WithoutMean(t *testing.T) {
	s := NewStandardScaler(false, true)
	out, err := s.FitTransform(mat.NewDense(2, 1, []float64{2, 4}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out.At(0, 0), 1e-12)
	assert.InDelta(t, 4.0, out.At(1, 0), 1e-12)
}
