package report

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/shopspring/decimal"
)

// Digits is the number of decimals kept in written metrics.
const Digits = 4

// Output file names.
const (
	RecordsFile     = "evaluation_records.csv"
	SummaryFile     = "strategy_summary.csv"
	SelectionFile   = "global_selection.csv"
	PredictionsFile = "predictions.csv"
	ImportancesFile = "feature_importances.csv"
	TraceFile       = "elimination_trace.csv"
	GeneratorsFile  = "generators.csv"
)

// Round rounds v half away from zero. NaN and infinities are invalid.
func Round(v float64, places int32) decimal.NullDecimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(v).Round(places), Valid: true}
}

// FormatFloat renders v with Digits decimals, or "" when undefined.
func FormatFloat(v float64) string {
	d := Round(v, Digits)
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(Digits)
}

// Writer writes report tables below Dir.
type Writer struct {
	Dir string
}

// NewWriter creates dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create output dir %s", dir)
	}
	return &Writer{Dir: dir}, nil
}

// Write emits every table and returns the written paths.
func (w *Writer) Write(r *RunReport) ([]string, error) {
	tables := []struct {
		name string
		rows [][]string
	}{
		{GeneratorsFile, generatorRows(r)},
		{RecordsFile, recordRows(r)},
		{SummaryFile, summaryRows(r)},
		{SelectionFile, selectionRows(r)},
		{PredictionsFile, predictionRows(r)},
		{ImportancesFile, importanceRows(r)},
		{TraceFile, traceRows(r)},
	}
	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		path := filepath.Join(w.Dir, t.name)
		if err := writeCSV(path, t.rows); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	cw := csv.NewWriter(f)
	if err := cw.WriteAll(rows); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func generatorRows(r *RunReport) [][]string {
	rows := [][]string{{"run_id", "generator_id", "state", "samples", "features", "failures", "duration_ms"}}
	for _, g := range r.Generators {
		rows = append(rows, []string{
			r.RunID, g.GeneratorID, g.State, strconv.Itoa(g.Samples),
			strings.Join(g.Features, "|"), strings.Join(g.Failures, "|"),
			strconv.FormatInt(g.Duration.Milliseconds(), 10),
		})
	}
	return rows
}

func recordRows(r *RunReport) [][]string {
	rows := [][]string{{"generator_id", "strategy", "r2", "rmse", "mae", "mape", "nrmse_mean", "nrmse_range", "n_test", "n_features"}}
	for _, rec := range r.Records {
		rows = append(rows, []string{
			rec.GeneratorID, rec.Strategy,
			FormatFloat(rec.R2), FormatFloat(rec.RMSE), FormatFloat(rec.MAE),
			FormatFloat(rec.MAPE), FormatFloat(rec.NRMSEMean), FormatFloat(rec.NRMSERange),
			strconv.Itoa(rec.NTest), strconv.Itoa(rec.NFeatures),
		})
	}
	return rows
}

func summaryRows(r *RunReport) [][]string {
	rows := [][]string{{"rank", "strategy", "mean_r2", "mean_rmse", "mean_mae", "mean_mape", "count"}}
	if r.Selection == nil {
		return rows
	}
	for i, s := range r.Selection.Summaries {
		rows = append(rows, []string{
			strconv.Itoa(i + 1), s.Strategy,
			FormatFloat(s.MeanR2), FormatFloat(s.MeanRMSE), FormatFloat(s.MeanMAE), FormatFloat(s.MeanMAPE),
			strconv.Itoa(s.Count),
		})
	}
	return rows
}

func selectionRows(r *RunReport) [][]string {
	rows := [][]string{{"run_id", "best_strategy", "mean_r2", "mean_rmse", "mean_mae"}}
	if r.Selection == nil || len(r.Selection.Summaries) == 0 {
		return rows
	}
	best := r.Selection.Summaries[0]
	return append(rows, []string{
		r.RunID, r.Selection.Strategy,
		FormatFloat(best.MeanR2), FormatFloat(best.MeanRMSE), FormatFloat(best.MeanMAE),
	})
}

func predictionRows(r *RunReport) [][]string {
	rows := [][]string{{"generator_id", "strategy", "row", "y", "y_hat", "error", "abs_error"}}
	for _, p := range r.Predictions {
		rows = append(rows, []string{
			p.GeneratorID, p.Strategy, strconv.Itoa(p.Row),
			FormatFloat(p.Y), FormatFloat(p.YHat), FormatFloat(p.Error), FormatFloat(p.AbsError),
		})
	}
	return rows
}

func importanceRows(r *RunReport) [][]string {
	rows := [][]string{{"generator_id", "strategy", "feature", "importance"}}
	for _, imp := range r.Importances {
		rows = append(rows, []string{imp.GeneratorID, imp.Strategy, imp.Feature, FormatFloat(imp.Importance)})
	}
	return rows
}

func traceRows(r *RunReport) [][]string {
	rows := [][]string{{"generator_id", "policy", "step", "subset_size", "dropped", "remaining", "r2", "rmse", "best_rmse", "accepted"}}
	for _, t := range r.Traces {
		for _, s := range t.Steps {
			rows = append(rows, []string{
				t.GeneratorID, t.Policy, strconv.Itoa(s.Index), strconv.Itoa(s.SubsetSize),
				s.Dropped, strings.Join(s.Remaining, "|"),
				FormatFloat(s.R2), FormatFloat(s.RMSE), FormatFloat(s.BestRMSE),
				strconv.FormatBool(s.Accepted),
			})
		}
	}
	return rows
}
