package selection

import (
	"math/rand/v2"

	"github.com/YuminosukeSato/pvtrain/core/parallel"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/metrics"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PermutationResult holds the decrease in R2 caused by shuffling each column.
type PermutationResult struct {
	Baseline float64
	Mean     []float64
	Std      []float64
}

// PermutationImportance shuffles one column of X at a time, repeats times,
// and reports how much the R2 of tm drops. Column j draws its permutations
// from a PCG stream seeded with (seed, j), so results do not depend on
// workers.
func PermutationImportance(tm *learner.TrainedModel, X mat.Matrix, y mat.Vector, repeats int, seed uint64, workers int) (res *PermutationResult, err error) {
	defer errors.Recover(&err, "selection.PermutationImportance")

	if repeats < 1 {
		return nil, errors.NewValidationError("permutation_repeats", "must be at least 1", repeats)
	}
	base, err := tm.Predict(X)
	if err != nil {
		return nil, err
	}
	baseline, err := metrics.R2Score(y, base)
	if err != nil {
		return nil, err
	}

	r, c := X.Dims()
	res = &PermutationResult{
		Baseline: baseline,
		Mean:     make([]float64, c),
		Std:      make([]float64, c),
	}
	errs := make([]error, c)

	parallel.ForEach(c, workers, func(j int) {
		rng := rand.New(rand.NewPCG(seed, uint64(j)))
		Xp := mat.DenseCopyOf(X)
		orig := mat.Col(nil, j, X)
		drops := make([]float64, repeats)
		for k := range drops {
			perm := rng.Perm(r)
			for i, p := range perm {
				Xp.Set(i, j, orig[p])
			}
			pred, err := tm.Predict(Xp)
			if err != nil {
				errs[j] = err
				return
			}
			score, err := metrics.R2Score(y, pred)
			if err != nil {
				errs[j] = err
				return
			}
			drops[k] = baseline - score
		}
		res.Mean[j], res.Std[j] = stat.PopMeanStdDev(drops, nil)
	})

	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}
	return res, nil
}
