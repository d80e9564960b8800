package dataset

import (
	"sort"
	"strings"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// MissingPolicy decides what happens to rows with missing feature values.
type MissingPolicy string

const (
	// MissingDrop removes rows with any missing feature.
	MissingDrop MissingPolicy = "drop"
	// MissingZeroFill replaces missing features with 0.
	MissingZeroFill MissingPolicy = "zero_fill"
)

// ParseMissingPolicy validates a policy name; empty means MissingDrop.
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch MissingPolicy(s) {
	case "", MissingDrop:
		return MissingDrop, nil
	case MissingZeroFill:
		return MissingZeroFill, nil
	}
	return "", errors.NewValidationError("missing_values", `must be "drop" or "zero_fill"`, s)
}

// Partition groups rows by generator. Rows whose target is zero or missing
// are excluded; missing features follow policy. rows is not modified.
func Partition(rows []Observation, policy MissingPolicy) map[string]*GeneratorDataset {
	out := make(map[string]*GeneratorDataset)
	for _, row := range rows {
		row.GeneratorID = strings.TrimSpace(row.GeneratorID)
		if row.TargetMissing() || row.Target == 0 || row.GeneratorID == "" {
			continue
		}
		if row.HasMissing() {
			if policy != MissingZeroFill {
				continue
			}
			for j, m := range row.Missing {
				if m {
					row.Features[j] = 0
					row.Missing[j] = false
				}
			}
		}
		ds, ok := out[row.GeneratorID]
		if !ok {
			ds = &GeneratorDataset{ID: row.GeneratorID}
			out[row.GeneratorID] = ds
		}
		ds.Rows = append(ds.Rows, row)
	}
	return out
}

// SortedIDs returns the generator ids of m in ascending order.
func SortedIDs(m map[string]*GeneratorDataset) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Eligible reports whether ds has at least minSamples rows.
func Eligible(ds *GeneratorDataset, minSamples int) bool {
	return ds.Len() >= minSamples
}

// RemoveOutliersIQR keeps rows whose target lies within
// [Q1 - k·IQR, Q3 + k·IQR]. Quartiles use linear interpolation.
func RemoveOutliersIQR(ds *GeneratorDataset, k float64) *GeneratorDataset {
	if ds.Len() < 4 {
		return ds
	}
	y := ds.Targets()
	sort.Float64s(y)
	q1 := stat.Quantile(0.25, stat.LinInterp, y, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, y, nil)
	iqr := q3 - q1
	lo, hi := q1-k*iqr, q3+k*iqr

	kept := make([]Observation, 0, ds.Len())
	for _, row := range ds.Rows {
		if row.Target >= lo && row.Target <= hi {
			kept = append(kept, row)
		}
	}
	return &GeneratorDataset{ID: ds.ID, Rows: kept}
}
