package ensemble

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/core/parallel"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"github.com/YuminosukeSato/pvtrain/sklearn/tree"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GradientBoostingRegressor fits squared-error boosted trees with Newton
// leaf values -G/(H+λ), row subsampling and per-tree column sampling, in the
// manner of XGBoost's exact greedy learner.
type GradientBoostingRegressor struct {
	State *model.StateManager

	NEstimators     int
	LearningRate    float64
	MaxDepth        int
	Subsample       float64
	ColsampleBytree float64
	RegLambda       float64
	MinChildWeight  float64
	RandomState     int

	BaseScore   float64
	Trees       []*tree.Tree
	Importances []float64
}

// NewGradientBoostingRegressor creates a booster with XGBoost defaults.
func NewGradientBoostingRegressor() *GradientBoostingRegressor {
	return &GradientBoostingRegressor{
		State:           model.NewStateManager(),
		NEstimators:     100,
		LearningRate:    0.1,
		MaxDepth:        6,
		Subsample:       1,
		ColsampleBytree: 1,
		RegLambda:       1,
		MinChildWeight:  1,
		RandomState:     42,
	}
}

// WithNEstimators sets the number of boosting rounds
func (gb *GradientBoostingRegressor) WithNEstimators(n int) *GradientBoostingRegressor {
	gb.NEstimators = n
	return gb
}

// WithLearningRate sets the shrinkage applied to every tree
func (gb *GradientBoostingRegressor) WithLearningRate(lr float64) *GradientBoostingRegressor {
	gb.LearningRate = lr
	return gb
}

// WithMaxDepth sets the maximum tree depth
func (gb *GradientBoostingRegressor) WithMaxDepth(d int) *GradientBoostingRegressor {
	gb.MaxDepth = d
	return gb
}

// WithSubsample sets the row sampling ratio per round
func (gb *GradientBoostingRegressor) WithSubsample(r float64) *GradientBoostingRegressor {
	gb.Subsample = r
	return gb
}

// WithColsampleBytree sets the column sampling ratio per tree
func (gb *GradientBoostingRegressor) WithColsampleBytree(r float64) *GradientBoostingRegressor {
	gb.ColsampleBytree = r
	return gb
}

func (gb *GradientBoostingRegressor) validate() error {
	switch {
	case gb.NEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be positive", gb.NEstimators)
	case gb.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be positive", gb.LearningRate)
	case gb.Subsample <= 0 || gb.Subsample > 1:
		return errors.NewValidationError("subsample", "must be in (0, 1]", gb.Subsample)
	case gb.ColsampleBytree <= 0 || gb.ColsampleBytree > 1:
		return errors.NewValidationError("colsample_bytree", "must be in (0, 1]", gb.ColsampleBytree)
	case gb.RegLambda < 0:
		return errors.NewValidationError("reg_lambda", "must be non-negative", gb.RegLambda)
	}
	return nil
}

// Fit runs NEstimators boosting rounds starting from the mean of y.
func (gb *GradientBoostingRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "GradientBoostingRegressor.Fit")

	if err := gb.validate(); err != nil {
		return err
	}
	yv, err := tree.ColumnValues("GradientBoostingRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	n, c := X.Dims()
	cols := tree.NewColumns(X)
	rng := rand.New(rand.NewPCG(uint64(gb.RandomState), uint64(gb.RandomState)))

	gb.BaseScore = stat.Mean(yv, nil)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = gb.BaseScore
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	for i := range hess {
		hess[i] = 1
	}

	nRows := max(1, int(math.Ceil(gb.Subsample*float64(n))))
	nCols := max(1, int(gb.ColsampleBytree*float64(c)))
	gb.Trees = make([]*tree.Tree, 0, gb.NEstimators)
	gains := make([]float64, c)
	row := make([]float64, c)

	for round := 0; round < gb.NEstimators; round++ {
		for i := range grad {
			grad[i] = pred[i] - yv[i]
		}

		rows := rng.Perm(n)[:nRows]
		var features []int
		if nCols < c {
			features = rng.Perm(c)[:nCols]
			sort.Ints(features)
		}

		t := tree.Build(cols, rows, grad, hess, tree.BuildParams{
			MaxDepth:       gb.MaxDepth,
			MinChildWeight: gb.MinChildWeight,
			Lambda:         gb.RegLambda,
			Features:       features,
		})
		gb.Trees = append(gb.Trees, t)
		t.AddGains(gains)

		for i := 0; i < n; i++ {
			pred[i] += gb.LearningRate * t.PredictRow(cols.Row(i, row))
		}
		if err := errors.CheckNumericalStability("GradientBoostingRegressor.Fit", pred, round); err != nil {
			return err
		}
	}

	tree.Normalize(gains)
	gb.Importances = gains
	gb.State.SetFitted(c, n)

	log.GetLoggerWithName("ensemble.boosting").Debug("gradient boosting fitted",
		log.SamplesKey, n, log.FeaturesKey, c, log.IterationKey, len(gb.Trees))
	return nil
}

// Predict returns BaseScore plus the shrunken sum of every tree.
func (gb *GradientBoostingRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	r, c := X.Dims()
	if err := gb.State.CheckPredictInput("GradientBoostingRegressor", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, 1, nil)
	parallel.ParallelizeWithThreshold(r, 256, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			v := gb.BaseScore
			for _, t := range gb.Trees {
				v += gb.LearningRate * t.PredictRow(row)
			}
			out.Set(i, 0, v)
		}
	})
	return out, nil
}

// FeatureImportances returns total split gain per feature, normalized.
func (gb *GradientBoostingRegressor) FeatureImportances() ([]float64, error) {
	if err := gb.State.RequireFitted("GradientBoostingRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	return append([]float64(nil), gb.Importances...), nil
}

// IsFitted reports whether Fit has completed.
func (gb *GradientBoostingRegressor) IsFitted() bool { return gb.State.IsFitted() }

func (gb *GradientBoostingRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":     gb.NEstimators,
		"learning_rate":    gb.LearningRate,
		"max_depth":        gb.MaxDepth,
		"subsample":        gb.Subsample,
		"colsample_bytree": gb.ColsampleBytree,
		"reg_lambda":       gb.RegLambda,
		"min_child_weight": gb.MinChildWeight,
		"random_state":     gb.RandomState,
	}
}

func (gb *GradientBoostingRegressor) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "n_estimators":
			gb.NEstimators, err = model.IntParam(k, v)
		case "learning_rate", "eta":
			gb.LearningRate, err = model.FloatParam(k, v)
		case "max_depth":
			gb.MaxDepth, err = model.IntParam(k, v)
		case "subsample":
			gb.Subsample, err = model.FloatParam(k, v)
		case "colsample_bytree":
			gb.ColsampleBytree, err = model.FloatParam(k, v)
		case "reg_lambda", "lambda":
			gb.RegLambda, err = model.FloatParam(k, v)
		case "min_child_weight":
			gb.MinChildWeight, err = model.FloatParam(k, v)
		case "random_state", "seed":
			gb.RandomState, err = model.IntParam(k, v)
		default:
			err = model.UnknownParam("GradientBoostingRegressor", k, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
