// Package ensemble implements the tree ensembles used as base learners:
// a bagged random forest and second-order gradient boosted trees.
package ensemble

import (
	"math/rand/v2"
	"runtime"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/core/parallel"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"github.com/YuminosukeSato/pvtrain/sklearn/tree"
	"gonum.org/v1/gonum/mat"
)

func init() {
	model.Register(&RandomForestRegressor{}, &GradientBoostingRegressor{})
}

// RandomForestRegressor averages CART trees grown on bootstrap samples with
// random feature subsets at every split.
type RandomForestRegressor struct {
	State *model.StateManager

	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     tree.MaxFeatures
	Bootstrap       bool
	RandomState     int
	// NJobs bounds the goroutines growing trees, -1 or 0 uses every core.
	NJobs int

	Trees       []*tree.Tree
	Importances []float64
}

// NewRandomForestRegressor creates a forest with scikit-learn defaults.
func NewRandomForestRegressor() *RandomForestRegressor {
	return &RandomForestRegressor{
		State:           model.NewStateManager(),
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     tree.AllFeatures,
		Bootstrap:       true,
		RandomState:     42,
		NJobs:           -1,
	}
}

// WithNEstimators sets the number of trees
func (rf *RandomForestRegressor) WithNEstimators(n int) *RandomForestRegressor {
	rf.NEstimators = n
	return rf
}

// WithMaxDepth sets the maximum depth, 0 for unlimited
func (rf *RandomForestRegressor) WithMaxDepth(d int) *RandomForestRegressor {
	rf.MaxDepth = d
	return rf
}

// WithMaxFeatures sets the per-split feature budget
func (rf *RandomForestRegressor) WithMaxFeatures(m tree.MaxFeatures) *RandomForestRegressor {
	rf.MaxFeatures = m
	return rf
}

// WithRandomState sets the random seed
func (rf *RandomForestRegressor) WithRandomState(seed int) *RandomForestRegressor {
	rf.RandomState = seed
	return rf
}

func (rf *RandomForestRegressor) workers() int {
	if rf.NJobs <= 0 {
		return runtime.NumCPU()
	}
	return rf.NJobs
}

// Fit grows NEstimators trees. Each tree draws from its own PCG stream keyed
// by (RandomState, tree index), so the forest does not depend on scheduling.
func (rf *RandomForestRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestRegressor.Fit")

	if rf.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be positive", rf.NEstimators)
	}
	yv, err := tree.ColumnValues("RandomForestRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	n, c := X.Dims()
	cols := tree.NewColumns(X)
	grad, hess := tree.SquaredErrorTargets(yv)
	maxFeatures := rf.MaxFeatures.Resolve(c)

	trees := make([]*tree.Tree, rf.NEstimators)
	parallel.ForEach(rf.NEstimators, rf.workers(), func(t int) {
		rng := rand.New(rand.NewPCG(uint64(rf.RandomState), uint64(t)))
		rows := make([]int, n)
		for i := range rows {
			if rf.Bootstrap {
				rows[i] = rng.IntN(n)
			} else {
				rows[i] = i
			}
		}
		trees[t] = tree.Build(cols, rows, grad, hess, tree.BuildParams{
			MaxDepth:        rf.MaxDepth,
			MinSamplesSplit: rf.MinSamplesSplit,
			MinSamplesLeaf:  rf.MinSamplesLeaf,
			MaxFeatures:     maxFeatures,
			Rand:            rng,
		})
	})

	rf.Trees = trees
	rf.Importances = make([]float64, c)
	perTree := make([]float64, c)
	for _, t := range trees {
		clear(perTree)
		t.AddGains(perTree)
		tree.Normalize(perTree)
		for j, v := range perTree {
			rf.Importances[j] += v
		}
	}
	tree.Normalize(rf.Importances)
	rf.State.SetFitted(c, n)

	log.GetLoggerWithName("ensemble.forest").Debug("random forest fitted",
		log.SamplesKey, n, log.FeaturesKey, c, "trees", len(trees))
	return nil
}

// Predict averages the trees' predictions.
func (rf *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	r, c := X.Dims()
	if err := rf.State.CheckPredictInput("RandomForestRegressor", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, 1, nil)
	parallel.ParallelizeWithThreshold(r, 256, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			var sum float64
			for _, t := range rf.Trees {
				sum += t.PredictRow(row)
			}
			out.Set(i, 0, sum/float64(len(rf.Trees)))
		}
	})
	return out, nil
}

// FeatureImportances returns the mean of the per-tree normalized gains.
func (rf *RandomForestRegressor) FeatureImportances() ([]float64, error) {
	if err := rf.State.RequireFitted("RandomForestRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	return append([]float64(nil), rf.Importances...), nil
}

// IsFitted reports whether Fit has completed.
func (rf *RandomForestRegressor) IsFitted() bool { return rf.State.IsFitted() }

func (rf *RandomForestRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.NEstimators,
		"max_depth":         rf.MaxDepth,
		"min_samples_split": rf.MinSamplesSplit,
		"min_samples_leaf":  rf.MinSamplesLeaf,
		"max_features":      rf.MaxFeatures.Param(),
		"bootstrap":         rf.Bootstrap,
		"random_state":      rf.RandomState,
		"n_jobs":            rf.NJobs,
	}
}

func (rf *RandomForestRegressor) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "n_estimators":
			rf.NEstimators, err = model.IntParam(k, v)
		case "max_depth":
			// None in the original grids means unlimited
			if v == nil {
				rf.MaxDepth = 0
				continue
			}
			rf.MaxDepth, err = model.IntParam(k, v)
		case "min_samples_split":
			rf.MinSamplesSplit, err = model.IntParam(k, v)
		case "min_samples_leaf":
			rf.MinSamplesLeaf, err = model.IntParam(k, v)
		case "max_features":
			rf.MaxFeatures, err = tree.ParseMaxFeatures(v)
		case "bootstrap":
			rf.Bootstrap, err = model.BoolParam(k, v)
		case "random_state":
			rf.RandomState, err = model.IntParam(k, v)
		case "n_jobs":
			rf.NJobs, err = model.IntParam(k, v)
		default:
			err = model.UnknownParam("RandomForestRegressor", k, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
