// Package evaluation scores trained candidates on holdout data and picks the
// strategy that does best across generators.
package evaluation

import (
	"github.com/YuminosukeSato/pvtrain/metrics"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Metric names exposed by Record.Metrics.
const (
	MetricR2         = "r2"
	MetricRMSE       = "rmse"
	MetricMAE        = "mae"
	MetricMAPE       = "mape"
	MetricNRMSEMean  = "nrmse_mean"
	MetricNRMSERange = "nrmse_range"
)

// MetricNames lists the metrics in report column order.
var MetricNames = []string{MetricR2, MetricRMSE, MetricMAE, MetricMAPE, MetricNRMSEMean, MetricNRMSERange}

// Record is the holdout score of one strategy on one generator.
type Record struct {
	GeneratorID string
	Strategy    string
	R2          float64
	RMSE        float64
	MAE         float64
	// MAPE is a percentage. NaN when every target is zero.
	MAPE       float64
	NRMSEMean  float64
	NRMSERange float64
	NTest      int
	NFeatures  int
}

// Metrics returns the named metrics of r.
func (r Record) Metrics() map[string]float64 {
	return map[string]float64{
		MetricR2:         r.R2,
		MetricRMSE:       r.RMSE,
		MetricMAE:        r.MAE,
		MetricMAPE:       r.MAPE,
		MetricNRMSEMean:  r.NRMSEMean,
		MetricNRMSERange: r.NRMSERange,
	}
}

// Evaluate scores yPred against yTrue. Undefined metrics are NaN and emit an
// UndefinedMetricWarning instead of failing.
func Evaluate(generatorID, strategy string, yTrue, yPred mat.Vector) (Record, error) {
	rec := Record{GeneratorID: generatorID, Strategy: strategy}
	if yTrue.Len() == 0 {
		return rec, errors.NewValueError("evaluation.Evaluate", "no test rows")
	}
	var err error
	if rec.R2, err = metrics.R2Score(yTrue, yPred); err != nil {
		return rec, err
	}
	if rec.RMSE, err = metrics.RMSE(yTrue, yPred); err != nil {
		return rec, err
	}
	if rec.MAE, err = metrics.MAE(yTrue, yPred); err != nil {
		return rec, err
	}
	if rec.MAPE, err = metrics.MAPE(yTrue, yPred); err != nil {
		return rec, err
	}
	if rec.NRMSEMean, err = metrics.NRMSEMean(yTrue, yPred); err != nil {
		return rec, err
	}
	if rec.NRMSERange, err = metrics.NRMSERange(yTrue, yPred); err != nil {
		return rec, err
	}
	rec.NTest = yTrue.Len()
	return rec, nil
}

// PredictionRow is one holdout prediction, kept for diagnostics.
type PredictionRow struct {
	GeneratorID string
	Strategy    string
	// Row is the index of the observation in the generator dataset.
	Row      int
	Y        float64
	YHat     float64
	Error    float64
	AbsError float64
}

// Predictions pairs targets and predictions. rows gives the dataset index of
// each element and may be nil.
func Predictions(generatorID, strategy string, rows []int, yTrue, yPred mat.Vector) []PredictionRow {
	out := make([]PredictionRow, yTrue.Len())
	for i := range out {
		row := i
		if rows != nil {
			row = rows[i]
		}
		y, yhat := yTrue.AtVec(i), yPred.AtVec(i)
		e := y - yhat
		out[i] = PredictionRow{
			GeneratorID: generatorID,
			Strategy:    strategy,
			Row:         row,
			Y:           y,
			YHat:        yhat,
			Error:       e,
			AbsError:    abs(e),
		}
	}
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Importance is one feature's importance in a trained model.
type Importance struct {
	GeneratorID string
	Strategy    string
	Feature     string
	Importance  float64
}
