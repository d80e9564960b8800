// Package tuning searches learner hyperparameters by exhaustive grid search
// scored with k-fold cross-validation.
package tuning

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/pvtrain/learner"
	"gonum.org/v1/gonum/floats"
)

// Grid maps a parameter name to the values to try, in order.
type Grid map[string][]interface{}

// Size is the number of candidates ExpandGrid produces.
func (g Grid) Size() int {
	n := 1
	for _, vals := range g {
		n *= len(vals)
	}
	return n
}

// ExpandGrid returns the cartesian product of g. Keys are taken in sorted
// order and the last key varies fastest, as scikit-learn's ParameterGrid
// does. An empty grid yields one empty candidate.
func ExpandGrid(g Grid) []learner.Params {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	total := g.Size()
	out := make([]learner.Params, 0, total)
	idx := make([]int, len(keys))
	for c := 0; c < total; c++ {
		p := make(learner.Params, len(keys))
		for i, k := range keys {
			p[k] = g[k][idx[i]]
		}
		out = append(out, p)

		for i := len(keys) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(g[keys[i]]) {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

// LogSpace returns num values spaced evenly on a log scale from 10^start to
// 10^stop inclusive, like numpy.logspace.
func LogSpace(start, stop float64, num int) []float64 {
	switch {
	case num <= 0:
		return nil
	case num == 1:
		return []float64{math.Pow(10, start)}
	}
	return floats.LogSpan(make([]float64, num), math.Pow(10, start), math.Pow(10, stop))
}

func floatValues(v []float64) []interface{} {
	out := make([]interface{}, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

// DefaultGrid returns the search space used when the configuration gives
// none for family.
func DefaultGrid(family string) Grid {
	alphas := floatValues(LogSpace(-3, 3, 50))
	switch family {
	case learner.RandomForest:
		return Grid{
			"n_estimators":      {100, 300, 500},
			"max_depth":         {nil, 10, 20},
			"min_samples_split": {2, 5, 10},
			"min_samples_leaf":  {1, 2, 4},
			"max_features":      {"sqrt", "log2"},
		}
	case learner.GradientBoosting:
		return Grid{
			"n_estimators":     {200, 400},
			"max_depth":        {4, 6, 8},
			"learning_rate":    {0.01, 0.05, 0.1},
			"subsample":        {0.7, 0.9},
			"colsample_bytree": {0.7, 0.9},
		}
	case learner.Ridge:
		return Grid{"alpha": alphas}
	case learner.Lasso:
		return Grid{"alpha": alphas, "max_iter": {5000}}
	case learner.ElasticNet:
		return Grid{"alpha": alphas, "l1_ratio": {0.1, 0.3, 0.5, 0.7, 0.9}, "max_iter": {5000}}
	case learner.DecisionTree:
		return Grid{"max_depth": {nil, 5, 10, 20}, "min_samples_leaf": {1, 2, 4}}
	case learner.Linear:
		return Grid{"fit_intercept": {true, false}}
	}
	return Grid{}
}
