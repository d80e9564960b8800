package evaluation

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// ErrNoRecords is returned by SelectGlobal for an empty record set.
var ErrNoRecords = errors.New("evaluation: no records to select from")

// StrategySummary aggregates one strategy's records across generators.
// Means skip NaN values.
type StrategySummary struct {
	Strategy string
	MeanR2   float64
	MeanRMSE float64
	MeanMAE  float64
	MeanMAPE float64
	// Count is the number of generators with a record for the strategy.
	Count int
}

// Selection is the advisory global choice of one run.
type Selection struct {
	Strategy string
	// Summaries are ranked best first.
	Summaries []StrategySummary
}

type nanMean struct {
	sum float64
	n   int
}

func (m *nanMean) add(v float64) {
	if !math.IsNaN(v) {
		m.sum += v
		m.n++
	}
}

func (m nanMean) value() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.sum / float64(m.n)
}

// Aggregate summarizes records per strategy, sorted by strategy name.
func Aggregate(records []Record) []StrategySummary {
	type acc struct {
		r2, rmse, mae, mape nanMean
		count               int
	}
	by := make(map[string]*acc)
	for _, r := range records {
		a, ok := by[r.Strategy]
		if !ok {
			a = &acc{}
			by[r.Strategy] = a
		}
		a.r2.add(r.R2)
		a.rmse.add(r.RMSE)
		a.mae.add(r.MAE)
		a.mape.add(r.MAPE)
		a.count++
	}

	out := make([]StrategySummary, 0, len(by))
	for name, a := range by {
		out = append(out, StrategySummary{
			Strategy: name,
			MeanR2:   a.r2.value(),
			MeanRMSE: a.rmse.value(),
			MeanMAE:  a.mae.value(),
			MeanMAPE: a.mape.value(),
			Count:    a.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

// higherIsBetter orders NaN last.
func higherIsBetter(a, b float64) (less, decided bool) {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return false, false
	case math.IsNaN(a):
		return false, true
	case math.IsNaN(b):
		return true, true
	case a != b:
		return a > b, true
	}
	return false, false
}

func lowerIsBetter(a, b float64) (less, decided bool) {
	return higherIsBetter(-a, -b)
}

// ranksBefore reports whether a ranks ahead of b: higher mean R2, then lower
// mean RMSE, then lower mean MAE, then strategy name.
func ranksBefore(a, b StrategySummary) bool {
	if less, ok := higherIsBetter(a.MeanR2, b.MeanR2); ok {
		return less
	}
	if less, ok := lowerIsBetter(a.MeanRMSE, b.MeanRMSE); ok {
		return less
	}
	if less, ok := lowerIsBetter(a.MeanMAE, b.MeanMAE); ok {
		return less
	}
	return a.Strategy < b.Strategy
}

// SelectGlobal ranks strategies by their aggregated scores.
func SelectGlobal(records []Record) (Selection, error) {
	if len(records) == 0 {
		return Selection{}, ErrNoRecords
	}
	sums := Aggregate(records)
	sort.SliceStable(sums, func(i, j int) bool { return ranksBefore(sums[i], sums[j]) })
	return Selection{Strategy: sums[0].Strategy, Summaries: sums}, nil
}
