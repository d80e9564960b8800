package tree

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// stepData: y depends on column 0 only, column 1 is noise.
func stepData(n int) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(7, 7))
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x0 := float64(i % 10)
		X.Set(i, 0, x0)
		X.Set(i, 1, rng.Float64())
		v := 1.0
		if x0 >= 5 {
			v = 10
		}
		y.Set(i, 0, v)
	}
	return X, y
}

func TestDecisionTreeRegressor_FitPredict(t *testing.T) {
	X, y := stepData(40)

	dt := NewDecisionTreeRegressor(WithMaxDepth(3))
	require.NoError(t, dt.Fit(X, y))

	pred, err := dt.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		assert.InDelta(t, y.At(i, 0), pred.At(i, 0), 1e-12, "row %d", i)
	}

	// a single split separates the step perfectly
	assert.Equal(t, 1, dt.Tree.Depth())
	assert.Equal(t, 0, dt.Tree.Nodes[0].Feature)
	assert.InDelta(t, 4.5, dt.Tree.Nodes[0].Threshold, 1e-12)
}

func TestDecisionTreeRegressor_LeafIsMean(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{1, 3, 10, 14})

	dt := NewDecisionTreeRegressor(WithMaxDepth(1))
	require.NoError(t, dt.Fit(X, y))

	pred, err := dt.Predict(mat.NewDense(2, 1, []float64{0, 5}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pred.At(0, 0), 1e-12)
	assert.InDelta(t, 12.0, pred.At(1, 0), 1e-12)
}

func TestDecisionTreeRegressor_FeatureImportances(t *testing.T) {
	X, y := stepData(60)
	dt := NewDecisionTreeRegressor()
	require.NoError(t, dt.Fit(X, y))

	imp, err := dt.FeatureImportances()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-12)
	assert.InDelta(t, 1.0, imp[0], 1e-12)
	assert.Equal(t, 0.0, imp[1])
}

func TestDecisionTreeRegressor_MinSamplesLeaf(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 60})

	dt := NewDecisionTreeRegressor(WithMinSamplesLeaf(3))
	require.NoError(t, dt.Fit(X, y))
	for _, n := range dt.Tree.Nodes {
		if n.Leaf {
			assert.GreaterOrEqual(t, n.Samples, 3)
		}
	}
}

func TestDecisionTreeRegressor_NotFitted(t *testing.T) {
	dt := NewDecisionTreeRegressor()
	_, err := dt.Predict(mat.NewDense(1, 1, nil))
	var nfe *errors.NotFittedError
	assert.True(t, errors.As(err, &nfe))

	_, err = dt.FeatureImportances()
	assert.Error(t, err)
}

func TestDecisionTreeRegressor_GetSetParams(t *testing.T) {
	dt := NewDecisionTreeRegressor()
	require.NoError(t, dt.SetParams(map[string]interface{}{
		"max_depth":    4,
		"max_features": "sqrt",
		"random_state": 7.0,
	}))
	params := dt.GetParams()
	assert.Equal(t, 4, params["max_depth"])
	assert.Equal(t, "sqrt", params["max_features"])
	assert.Equal(t, 7, params["random_state"])

	assert.Error(t, dt.SetParams(map[string]interface{}{"criterion": "gini"}))
	assert.Error(t, dt.SetParams(map[string]interface{}{"max_features": 1.5}))
}

func TestMaxFeaturesResolve(t *testing.T) {
	tests := []struct {
		in   interface{}
		n    int
		want int
	}{
		{"sqrt", 9, 3},
		{"log2", 9, 3},
		{nil, 9, 9},
		{4, 9, 4},
		{20, 9, 9},
		{0.5, 9, 4},
		{0.01, 9, 1},
	}
	for _, tt := range tests {
		m, err := ParseMaxFeatures(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.Resolve(tt.n), "%v", tt.in)
	}
}

func TestBuild_Determinism(t *testing.T) {
	X, y := stepData(50)
	yv, err := ColumnValues("test", X, y)
	require.NoError(t, err)
	grad, hess := SquaredErrorTargets(yv)
	rows := []int{0, 0, 1, 2, 3, 5, 8, 13, 21, 34, 40, 41, 42, 43, 44}

	build := func() *Tree {
		return Build(NewColumns(X), rows, grad, hess, BuildParams{
			MaxFeatures: 1,
			Rand:        rand.New(rand.NewPCG(3, 3)),
		})
	}
	assert.Equal(t, build().Nodes, build().Nodes)
}

func TestTreePersist(t *testing.T) {
	X, y := stepData(30)
	dt := NewDecisionTreeRegressor()
	require.NoError(t, dt.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(dt, &buf))
	var loaded DecisionTreeRegressor
	require.NoError(t, model.LoadModelFromReader(&loaded, &buf))

	a, _ := dt.Predict(X)
	b, err := loaded.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))
}
