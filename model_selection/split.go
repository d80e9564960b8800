// Package model_selection provides the data splitters and cross validation
// used by elimination, ensembles and the grid search.
package model_selection

import (
	"math"
	"math/rand/v2"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Split holds disjoint row index sets. For blending, Test is the blend split.
type Split struct {
	Train []int
	Test  []int
}

// TrainTestSplit shuffles 0..n-1 with a PCG source seeded by seed and puts
// the first ceil(testFraction·n) indices in Test, like scikit-learn.
func TrainTestSplit(n int, testFraction float64, seed uint64) (Split, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, errors.NewValidationError("test_fraction", "must be in (0, 1)", testFraction)
	}
	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest < 1 || n-nTest < 1 {
		return Split{}, errors.NewValueError("TrainTestSplit", "not enough samples to split")
	}

	perm := permutation(n, seed)
	return Split{
		Test:  perm[:nTest],
		Train: perm[nTest:],
	}, nil
}

func permutation(n int, seed uint64) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(n, func(i, j int) {
		idx[i], idx[j] = idx[j], idx[i]
	})
	return idx
}

// Rows gathers the rows at indices, in the given order.
func Rows(X mat.Matrix, indices []int) *mat.Dense {
	_, c := X.Dims()
	out := mat.NewDense(len(indices), c, nil)
	row := make([]float64, c)
	for i, idx := range indices {
		mat.Row(row, idx, X)
		out.SetRow(i, row)
	}
	return out
}

// Subset gathers X and y rows at indices.
func Subset(X mat.Matrix, y mat.Vector, indices []int) (*mat.Dense, *mat.VecDense) {
	if len(indices) == 0 {
		return Rows(X, indices), &mat.VecDense{}
	}
	ys := mat.NewVecDense(len(indices), nil)
	for i, idx := range indices {
		ys.SetVec(i, y.AtVec(idx))
	}
	return Rows(X, indices), ys
}
