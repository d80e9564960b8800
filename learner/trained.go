package learner

import (
	"time"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/metrics"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// TrainedModel is a fitted regressor together with the family, parameters and
// feature subset it was trained with. It is not modified after Fit returns it.
type TrainedModel struct {
	Family    string
	Params    Params
	Features  dataset.FeatureSubset
	Model     Estimator
	TrainedAt time.Time
}

// Fit trains a new model of family on X, whose columns must be features.
func Fit(family string, params Params, features dataset.FeatureSubset, X mat.Matrix, y mat.Vector) (tm *TrainedModel, err error) {
	defer errors.Recover(&err, "learner.Fit")

	if err := features.Validate(); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != len(features) {
		return nil, errors.NewDimensionError("learner.Fit", len(features), c, 1)
	}
	if err := errors.CheckMatrix("learner.Fit", X, r, c, 0); err != nil {
		return nil, err
	}
	name, err := Canonical(family)
	if err != nil {
		return nil, err
	}
	est, err := New(name, params)
	if err != nil {
		return nil, err
	}
	if err := est.Fit(X, y); err != nil {
		return nil, errors.NewModelError("learner.Fit", name, err)
	}
	return &TrainedModel{
		Family:    name,
		Params:    Params(est.GetParams()),
		Features:  append(dataset.FeatureSubset(nil), features...),
		Model:     est,
		TrainedAt: time.Now().UTC(),
	}, nil
}

// FitDataset projects ds onto features and fits.
func FitDataset(family string, params Params, features dataset.FeatureSubset, ds *dataset.GeneratorDataset) (*TrainedModel, error) {
	if err := features.Validate(); err != nil {
		return nil, err
	}
	X, y := ds.Matrix(features)
	return Fit(family, params, features, X, y)
}

// Predict returns one prediction per row of X. X's columns must be exactly
// tm.Features.
func (tm *TrainedModel) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if _, c := X.Dims(); c != len(tm.Features) {
		return nil, errors.NewDimensionError("TrainedModel.Predict", len(tm.Features), c, 1)
	}
	out, err := tm.Model.Predict(X)
	if err != nil {
		return nil, err
	}
	return metrics.ColumnVector("TrainedModel.Predict", out)
}

// PredictRows projects ds onto the model's features and predicts.
func (tm *TrainedModel) PredictRows(ds *dataset.GeneratorDataset) (*mat.VecDense, error) {
	if err := tm.Features.Validate(); err != nil {
		return nil, err
	}
	X, _ := ds.Matrix(tm.Features)
	return tm.Predict(X)
}

// Clone returns an unfitted estimator with the same family and parameters.
func (tm *TrainedModel) Clone() (Estimator, error) {
	return New(tm.Family, tm.Params)
}

// Importances returns per-feature importances keyed by feature name, or false
// when the model has none.
func (tm *TrainedModel) Importances() (map[string]float64, bool) {
	fi, ok := tm.Model.(model.FeatureImporter)
	if !ok {
		return nil, false
	}
	imp, err := fi.FeatureImportances()
	if err != nil || len(imp) != len(tm.Features) {
		return nil, false
	}
	out := make(map[string]float64, len(imp))
	for i, name := range tm.Features {
		out[name] = imp[i]
	}
	return out, true
}
