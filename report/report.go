// Package report collects the outcome of a training run and writes it as
// CSV diagnostics.
package report

import (
	"sort"
	"time"

	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/selection"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GeneratorOutcome summarizes one generator.
type GeneratorOutcome struct {
	GeneratorID string
	// State is the final state reached, e.g. "evaluated" or "ineligible".
	State   string
	Samples int
	// Features is the subset kept by elimination.
	Features []string
	// Failures lists strategies that failed, as "strategy: cause".
	Failures []string
	Warnings []string
	Duration time.Duration
}

// Trace is the elimination trace of one generator.
type Trace struct {
	GeneratorID string
	Policy      string
	Steps       []selection.Step
}

// RunReport is everything one run produced.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Generators  []GeneratorOutcome
	Records     []evaluation.Record
	Predictions []evaluation.PredictionRow
	Importances []evaluation.Importance
	Traces      []Trace
	// Selection is nil when no generator produced a record.
	Selection *evaluation.Selection
	Warnings  []string
}

// NewRunReport starts a report with a fresh run id.
func NewRunReport() *RunReport {
	return &RunReport{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
}

// Finish stamps the end time and sorts every table by generator and
// strategy, so output does not depend on worker scheduling.
func (r *RunReport) Finish() {
	r.FinishedAt = time.Now().UTC()
	sort.SliceStable(r.Generators, func(i, j int) bool {
		return r.Generators[i].GeneratorID < r.Generators[j].GeneratorID
	})
	sort.SliceStable(r.Records, func(i, j int) bool {
		a, b := r.Records[i], r.Records[j]
		if a.GeneratorID != b.GeneratorID {
			return a.GeneratorID < b.GeneratorID
		}
		return a.Strategy < b.Strategy
	})
	sort.SliceStable(r.Predictions, func(i, j int) bool {
		a, b := r.Predictions[i], r.Predictions[j]
		if a.GeneratorID != b.GeneratorID {
			return a.GeneratorID < b.GeneratorID
		}
		return a.Strategy < b.Strategy
	})
	sort.SliceStable(r.Importances, func(i, j int) bool {
		a, b := r.Importances[i], r.Importances[j]
		if a.GeneratorID != b.GeneratorID {
			return a.GeneratorID < b.GeneratorID
		}
		return a.Strategy < b.Strategy
	})
	sort.SliceStable(r.Traces, func(i, j int) bool {
		return r.Traces[i].GeneratorID < r.Traces[j].GeneratorID
	})
}

// Count returns how many generators ended in state.
func (r *RunReport) Count(state string) int {
	n := 0
	for _, g := range r.Generators {
		if g.State == state {
			n++
		}
	}
	return n
}

// StrategyScore is a StrategySummary with rounded means. Undefined means
// encode as null.
type StrategyScore struct {
	Strategy string              `json:"strategy"`
	MeanR2   decimal.NullDecimal `json:"mean_r2"`
	MeanRMSE decimal.NullDecimal `json:"mean_rmse"`
	MeanMAE  decimal.NullDecimal `json:"mean_mae"`
	MeanMAPE decimal.NullDecimal `json:"mean_mape"`
	Count    int                 `json:"count"`
}

// Summary is the compact form published to listeners.
type Summary struct {
	RunID      string                       `json:"run_id"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
	Generators int                          `json:"generators"`
	States     map[string]int               `json:"states"`
	Records    int                          `json:"records"`
	Best       string                       `json:"best_strategy,omitempty"`
	Strategies []StrategyScore              `json:"strategies,omitempty"`
	Failures   map[string][]string          `json:"failures,omitempty"`
}

// Summary condenses r.
func (r *RunReport) Summary() Summary {
	s := Summary{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Generators: len(r.Generators),
		States:     map[string]int{},
		Records:    len(r.Records),
	}
	for _, g := range r.Generators {
		s.States[g.State]++
		if len(g.Failures) > 0 {
			if s.Failures == nil {
				s.Failures = map[string][]string{}
			}
			s.Failures[g.GeneratorID] = g.Failures
		}
	}
	if r.Selection != nil {
		s.Best = r.Selection.Strategy
		for _, ss := range r.Selection.Summaries {
			s.Strategies = append(s.Strategies, StrategyScore{
				Strategy: ss.Strategy,
				MeanR2:   Round(ss.MeanR2, Digits),
				MeanRMSE: Round(ss.MeanRMSE, Digits),
				MeanMAE:  Round(ss.MeanMAE, Digits),
				MeanMAPE: Round(ss.MeanMAPE, Digits),
				Count:    ss.Count,
			})
		}
	}
	return s
}
