package tree

import (
	"math/rand/v2"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func init() {
	model.Register(&DecisionTreeRegressor{})
}

// DecisionTreeRegressor is a CART regression tree minimizing squared error.
type DecisionTreeRegressor struct {
	State *model.StateManager

	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     MaxFeatures
	RandomState     int64

	Tree        *Tree
	Importances []float64
}

// Option configures a DecisionTreeRegressor.
type Option func(*DecisionTreeRegressor)

// WithMaxDepth limits the tree depth, 0 for unlimited.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeRegressor) { dt.MaxDepth = depth }
}

// WithMinSamplesSplit sets the minimum node size that may be split.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeRegressor) { dt.MinSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples in a leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeRegressor) { dt.MinSamplesLeaf = n }
}

// WithMaxFeatures sets the per-split feature budget.
func WithMaxFeatures(m MaxFeatures) Option {
	return func(dt *DecisionTreeRegressor) { dt.MaxFeatures = m }
}

// WithRandomState seeds feature sampling.
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeRegressor) { dt.RandomState = seed }
}

// NewDecisionTreeRegressor creates an unfitted tree.
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	dt := &DecisionTreeRegressor{
		State:           model.NewStateManager(),
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     AllFeatures,
		RandomState:     42,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// SquaredErrorTargets returns the gradient and hessian whose optimal leaf
// value is the mean of y.
func SquaredErrorTargets(y []float64) (grad, hess []float64) {
	grad = make([]float64, len(y))
	hess = make([]float64, len(y))
	for i, v := range y {
		grad[i] = -v
		hess[i] = 1
	}
	return grad, hess
}

// ColumnValues validates X and y and returns y as a slice.
func ColumnValues(op string, X, y mat.Matrix) ([]float64, error) {
	r, c := X.Dims()
	ry, cy := y.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return nil, errors.NewDimensionError(op, r, ry, 0)
	}
	if cy != 1 {
		return nil, errors.NewValueError(op, "y must be a column vector")
	}
	out := make([]float64, r)
	mat.Col(out, 0, y)
	return out, nil
}

// Fit grows the tree on all rows of X.
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	yv, err := ColumnValues("DecisionTreeRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	r, c := X.Dims()
	rows := make([]int, r)
	for i := range rows {
		rows[i] = i
	}

	grad, hess := SquaredErrorTargets(yv)
	seed := uint64(dt.RandomState)
	dt.Tree = Build(NewColumns(X), rows, grad, hess, BuildParams{
		MaxDepth:        dt.MaxDepth,
		MinSamplesSplit: dt.MinSamplesSplit,
		MinSamplesLeaf:  dt.MinSamplesLeaf,
		MaxFeatures:     dt.MaxFeatures.Resolve(c),
		Rand:            rand.New(rand.NewPCG(seed, seed)),
	})

	dt.Importances = make([]float64, c)
	dt.Tree.AddGains(dt.Importances)
	Normalize(dt.Importances)

	dt.State.SetFitted(c, r)
	return nil
}

// Normalize scales v in place to sum to 1 when the sum is positive.
func Normalize(v []float64) {
	var total float64
	for _, x := range v {
		total += x
	}
	if total <= 0 {
		return
	}
	for i := range v {
		v[i] /= total
	}
}

// Predict returns one prediction per row of X.
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	r, c := X.Dims()
	if err := dt.State.CheckPredictInput("DecisionTreeRegressor", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, 1, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.Set(i, 0, dt.Tree.PredictRow(row))
	}
	return out, nil
}

// FeatureImportances returns normalized total split gain per feature.
func (dt *DecisionTreeRegressor) FeatureImportances() ([]float64, error) {
	if err := dt.State.RequireFitted("DecisionTreeRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	return append([]float64(nil), dt.Importances...), nil
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeRegressor) IsFitted() bool { return dt.State.IsFitted() }

func (dt *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"max_depth":         dt.MaxDepth,
		"min_samples_split": dt.MinSamplesSplit,
		"min_samples_leaf":  dt.MinSamplesLeaf,
		"max_features":      dt.MaxFeatures.Param(),
		"random_state":      int(dt.RandomState),
	}
}

func (dt *DecisionTreeRegressor) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "max_depth":
			if v == nil {
				dt.MaxDepth = 0
				continue
			}
			dt.MaxDepth, err = model.IntParam(k, v)
		case "min_samples_split":
			dt.MinSamplesSplit, err = model.IntParam(k, v)
		case "min_samples_leaf":
			dt.MinSamplesLeaf, err = model.IntParam(k, v)
		case "max_features":
			dt.MaxFeatures, err = ParseMaxFeatures(v)
		case "random_state":
			var seed int
			seed, err = model.IntParam(k, v)
			dt.RandomState = int64(seed)
		default:
			err = model.UnknownParam("DecisionTreeRegressor", k, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
