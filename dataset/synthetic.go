package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// TargetFunc computes the noiseless generation for one feature vector.
type TargetFunc func(f [NumFeatures]float64) float64

// DefaultGeneration is a rough daily PV yield: capacity times irradiance
// with a sunshine bonus and a cloud penalty.
func DefaultGeneration(f [NumFeatures]float64) float64 {
	return f[0] * (0.2*f[7] + 0.15*f[6] - 0.05*f[8])
}

// Synthetic draws n daily observations for generatorID from plausible
// weather ranges. Target is fn plus Gaussian noise with standard deviation
// noise. Output depends only on the arguments.
func Synthetic(generatorID string, n int, seed uint64, noise float64, fn TargetFunc) []Observation {
	if fn == nil {
		fn = DefaultGeneration
	}
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	capacity := 1 + 4*rng.Float64()
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := make([]Observation, n)
	for i := range rows {
		var f [NumFeatures]float64
		f[0] = capacity * (0.9 + 0.2*rng.Float64())
		f[1] = -5 + 35*rng.Float64()
		f[2] = 30 + 60*rng.Float64()
		f[3] = rng.ExpFloat64() * 2
		if rng.Float64() < 0.1 {
			f[4] = rng.ExpFloat64()
		}
		f[5] = 6 * rng.Float64()
		f[6] = 10 * rng.Float64()
		f[7] = 25 * rng.Float64()
		f[8] = 10 * rng.Float64()

		rows[i] = Observation{
			GeneratorID: generatorID,
			Date:        start.AddDate(0, 0, i).Format(time.DateOnly),
			Features:    f,
			Target:      fn(f) + noise*rng.NormFloat64(),
		}
	}
	return rows
}

// SyntheticFleet generates n rows for each of the given generator counts,
// seeding every generator differently.
func SyntheticFleet(sizes map[string]int, seed uint64, noise float64) []Observation {
	var out []Observation
	k := uint64(0)
	for _, id := range sortedKeys(sizes) {
		out = append(out, Synthetic(id, sizes[id], seed+k, noise, nil)...)
		k++
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WriteCSV writes rows as a canonical merged table.
func WriteCSV(w io.Writer, rows []Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, o := range rows {
		if err := cw.Write(o.Record()); err != nil {
			return errors.Wrap(err, "write row")
		}
	}
	cw.Flush()
	return errors.WithStack(cw.Error())
}

// Header returns the canonical CSV header fields.
func Header() []string {
	h := []string{GeneratorColumn, DateColumn}
	h = append(h, FeatureNames[:]...)
	return append(h, TargetColumn)
}

// Record formats o as CSV fields matching Header.
func (o Observation) Record() []string {
	rec := []string{o.GeneratorID, o.Date}
	for j, v := range o.Features {
		if o.Missing[j] {
			rec = append(rec, "")
			continue
		}
		rec = append(rec, fmt.Sprintf("%g", v))
	}
	if o.TargetMissing() {
		return append(rec, "")
	}
	return append(rec, fmt.Sprintf("%g", o.Target))
}
