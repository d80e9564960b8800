package dataset

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Observation is one row of the merged generation table.
type Observation struct {
	GeneratorID string
	Date        string
	Features    [NumFeatures]float64
	Missing     [NumFeatures]bool
	// Target is the generated energy in MWh, NaN when the cell was empty.
	Target float64
}

// HasMissing reports whether any feature value is missing.
func (o Observation) HasMissing() bool {
	for _, m := range o.Missing {
		if m {
			return true
		}
	}
	return false
}

// TargetMissing reports whether the target cell was empty.
func (o Observation) TargetMissing() bool {
	return math.IsNaN(o.Target)
}

// GeneratorDataset holds the usable observations of one generator.
type GeneratorDataset struct {
	ID   string
	Rows []Observation
}

// Len returns the number of observations.
func (d *GeneratorDataset) Len() int {
	return len(d.Rows)
}

// Matrix projects the rows onto subset, columns in subset order, and returns
// the targets alongside.
func (d *GeneratorDataset) Matrix(subset FeatureSubset) (*mat.Dense, *mat.VecDense) {
	cols := subset.Indices()
	if len(d.Rows) == 0 {
		return &mat.Dense{}, &mat.VecDense{}
	}
	X := mat.NewDense(len(d.Rows), len(cols), nil)
	y := mat.NewVecDense(len(d.Rows), nil)
	for i, row := range d.Rows {
		for k, j := range cols {
			X.Set(i, k, row.Features[j])
		}
		y.SetVec(i, row.Target)
	}
	return X, y
}

// Subset returns a dataset with the rows at indices, in that order.
func (d *GeneratorDataset) Subset(indices []int) *GeneratorDataset {
	rows := make([]Observation, len(indices))
	for k, i := range indices {
		rows[k] = d.Rows[i]
	}
	return &GeneratorDataset{ID: d.ID, Rows: rows}
}

// Targets returns a copy of the target column.
func (d *GeneratorDataset) Targets() []float64 {
	y := make([]float64, len(d.Rows))
	for i, row := range d.Rows {
		y[i] = row.Target
	}
	return y
}
