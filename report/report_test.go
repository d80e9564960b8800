package report

import (
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/selection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(t *testing.T) *RunReport {
	t.Helper()
	r := NewRunReport()
	r.Generators = []GeneratorOutcome{
		{GeneratorID: "B", State: "evaluated", Samples: 50, Features: []string{dataset.InstalledCapacity}},
		{GeneratorID: "A", State: "ineligible", Samples: 5},
	}
	r.Records = []evaluation.Record{
		{GeneratorID: "B", Strategy: "voting", R2: 0.912345, RMSE: 0.5, MAE: 0.4, MAPE: math.NaN(), NTest: 10, NFeatures: 1},
		{GeneratorID: "B", Strategy: "blending", R2: 0.9, RMSE: 0.6, MAE: 0.5, MAPE: 3, NTest: 15, NFeatures: 1},
	}
	r.Traces = []Trace{{GeneratorID: "B", Policy: "importance_threshold", Steps: []selection.Step{
		{Index: 1, SubsetSize: 2, Remaining: dataset.FeatureSubset{dataset.InstalledCapacity, dataset.TotalSnowfall}, R2: 0.9, RMSE: 1, BestRMSE: 1, Accepted: true},
		{Index: 2, SubsetSize: 1, Dropped: dataset.TotalSnowfall, Remaining: dataset.FeatureSubset{dataset.InstalledCapacity}, R2: 0.91, RMSE: 0.9, BestRMSE: 0.9, Accepted: true},
	}}}
	sel, err := evaluation.SelectGlobal(r.Records)
	require.NoError(t, err)
	r.Selection = &sel
	r.Finish()
	return r
}

func TestRound(t *testing.T) {
	tests := []struct {
		in    float64
		want  string
		valid bool
	}{
		{0.123456, "0.1235", true},
		{-0.00005, "-0.0001", true},
		{2, "2.0000", true},
		{math.NaN(), "", false},
		{math.Inf(1), "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, Round(tt.in, Digits).Valid)
		assert.Equal(t, tt.want, FormatFloat(tt.in))
	}
}

func TestFinishSorts(t *testing.T) {
	r := sampleReport(t)
	assert.Equal(t, "A", r.Generators[0].GeneratorID)
	assert.Equal(t, "blending", r.Records[0].Strategy)
	assert.False(t, r.FinishedAt.IsZero())
	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, 1, r.Count("ineligible"))
}

func TestSummaryJSON(t *testing.T) {
	r := sampleReport(t)
	s := r.Summary()
	assert.Equal(t, "voting", s.Best)
	assert.Equal(t, map[string]int{"evaluated": 1, "ineligible": 1}, s.States)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &back))
	strategies := back["strategies"].([]interface{})
	voting := strategies[0].(map[string]interface{})
	assert.Equal(t, "voting", voting["strategy"])
	assert.Nil(t, voting["mean_mape"])
}

func TestWriter(t *testing.T) {
	r := sampleReport(t)
	w, err := NewWriter(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	paths, err := w.Write(r)
	require.NoError(t, err)
	assert.Len(t, paths, 7)

	rows := readCSV(t, filepath.Join(w.Dir, RecordsFile))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"B", "voting", "0.9123", "0.5000", "0.4000", "", "0.0000", "0.0000", "10", "1"}, rows[2][:10])

	trace := readCSV(t, filepath.Join(w.Dir, TraceFile))
	require.Len(t, trace, 3)
	assert.Equal(t, dataset.TotalSnowfall, trace[2][4])

	sel := readCSV(t, filepath.Join(w.Dir, SelectionFile))
	require.Len(t, sel, 2)
	assert.Equal(t, "voting", sel[1][1])
}

func TestWriterEmptyReport(t *testing.T) {
	r := NewRunReport()
	r.Finish()
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	_, err = w.Write(r)
	require.NoError(t, err)
	assert.Len(t, readCSV(t, filepath.Join(w.Dir, SummaryFile)), 1)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
