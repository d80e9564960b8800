package evaluation

import (
	"context"
	"math"
	"testing"

	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestEvaluatePerfect(t *testing.T) {
	y := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	rec, err := Evaluate("G", "voting", y, y)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.R2)
	assert.Equal(t, 0.0, rec.RMSE)
	assert.Equal(t, 0.0, rec.MAE)
	assert.Equal(t, 0.0, rec.MAPE)
	assert.Equal(t, 4, rec.NTest)

	m := rec.Metrics()
	assert.Len(t, m, len(MetricNames))
	for _, name := range MetricNames {
		assert.Contains(t, m, name)
	}
}

func TestEvaluateUndefinedMetrics(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	y := mat.NewVecDense(3, []float64{0, 0, 0})
	pred := mat.NewVecDense(3, []float64{0.1, 0, -0.1})
	rec, err := Evaluate("G", "stacking", y, pred)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(rec.MAPE))
	assert.True(t, math.IsNaN(rec.NRMSEMean))
	assert.True(t, math.IsNaN(rec.NRMSERange))
	assert.Len(t, warnings, 3)

	_, err = Evaluate("G", "x", &mat.VecDense{}, &mat.VecDense{})
	assert.Error(t, err)
}

func TestPredictions(t *testing.T) {
	y := mat.NewVecDense(2, []float64{3, 5})
	p := mat.NewVecDense(2, []float64{4, 5})
	rows := Predictions("G", "blending", []int{7, 2}, y, p)
	require.Len(t, rows, 2)
	assert.Equal(t, PredictionRow{GeneratorID: "G", Strategy: "blending", Row: 7, Y: 3, YHat: 4, Error: -1, AbsError: 1}, rows[0])
	assert.Equal(t, 2, rows[1].Row)
}

func TestSelectGlobal(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		want    string
	}{
		{
			name: "highest mean r2",
			records: []Record{
				{GeneratorID: "A", Strategy: "voting", R2: 0.9, RMSE: 1},
				{GeneratorID: "B", Strategy: "voting", R2: 0.7, RMSE: 1},
				{GeneratorID: "A", Strategy: "stacking", R2: 0.85, RMSE: 1},
				{GeneratorID: "B", Strategy: "stacking", R2: 0.85, RMSE: 1},
			},
			want: "stacking",
		},
		{
			name: "tie on r2 lower rmse wins",
			records: []Record{
				{Strategy: "voting", R2: 0.8, RMSE: 2, MAE: 1},
				{Strategy: "blending", R2: 0.8, RMSE: 1, MAE: 3},
			},
			want: "blending",
		},
		{
			name: "tie on r2 and rmse lower mae wins",
			records: []Record{
				{Strategy: "voting", R2: 0.8, RMSE: 1, MAE: 1},
				{Strategy: "blending", R2: 0.8, RMSE: 1, MAE: 3},
			},
			want: "voting",
		},
		{
			name: "full tie falls back to name",
			records: []Record{
				{Strategy: "voting", R2: 0.8, RMSE: 1, MAE: 1},
				{Strategy: "blending", R2: 0.8, RMSE: 1, MAE: 1},
			},
			want: "blending",
		},
		{
			name: "nan r2 ranks last",
			records: []Record{
				{Strategy: "a", R2: math.NaN()},
				{Strategy: "b", R2: -5},
			},
			want: "b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := SelectGlobal(tt.records)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Strategy)
			assert.Equal(t, tt.want, sel.Summaries[0].Strategy)
		})
	}

	_, err := SelectGlobal(nil)
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestAggregateSkipsNaN(t *testing.T) {
	sums := Aggregate([]Record{
		{Strategy: "tuned", R2: 0.5, MAPE: math.NaN()},
		{Strategy: "tuned", R2: 0.7, MAPE: 10},
		{Strategy: "base", R2: 0.1, MAPE: math.NaN()},
	})
	require.Len(t, sums, 2)
	assert.Equal(t, "base", sums[0].Strategy)
	assert.True(t, math.IsNaN(sums[0].MeanMAPE))
	assert.InDelta(t, 0.6, sums[1].MeanR2, 1e-12)
	assert.Equal(t, 10.0, sums[1].MeanMAPE)
	assert.Equal(t, 2, sums[1].Count)
}

type constPredictor float64

func (c constPredictor) PredictRows(ds *dataset.GeneratorDataset) (*mat.VecDense, error) {
	v := mat.NewVecDense(ds.Len(), nil)
	for i := 0; i < ds.Len(); i++ {
		v.SetVec(i, float64(c))
	}
	return v, nil
}

type oracle struct{}

func (oracle) PredictRows(ds *dataset.GeneratorDataset) (*mat.VecDense, error) {
	return mat.NewVecDense(ds.Len(), ds.Targets()), nil
}

func TestComparator(t *testing.T) {
	data := map[string]*dataset.GeneratorDataset{
		"A": {ID: "A", Rows: dataset.Synthetic("A", 30, 1, 0.1, nil)},
		"B": {ID: "B", Rows: dataset.Synthetic("B", 30, 2, 0.1, nil)},
	}
	load := func(_ context.Context, gen, tag string) (RowPredictor, error) {
		switch {
		case tag == "voting":
			return oracle{}, nil
		case tag == "stacking":
			return constPredictor(1), nil
		case tag == "blending" && gen == "A":
			return constPredictor(2), nil
		}
		return nil, errors.NewArtifactMissingError(tag + "_" + gen)
	}

	cmp := NewComparator([]string{"voting", "stacking", "blending"}, load)
	res, err := cmp.Compare(context.Background(), data)
	require.NoError(t, err)
	assert.Len(t, res.Records, 5)
	assert.Equal(t, "voting", res.Selection.Strategy)
	assert.Len(t, res.Warnings, 1)

	cmp.Tags = []string{"voting", "blending"}
	res, err = cmp.Compare(context.Background(), data)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2, "B has only one model and is skipped")

	cmp.Tags = []string{"missing"}
	_, err = cmp.Compare(context.Background(), data)
	assert.ErrorIs(t, err, ErrNoRecords)
}
