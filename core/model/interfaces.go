package model

import (
	"gonum.org/v1/gonum/mat"
)

// Scorer is implemented by models that can compute the R^2 of their own
// predictions.
type Scorer interface {
	Score(X, y mat.Matrix) (float64, error)
}

// FeatureImporter is the optional capability of reporting per-feature
// importances. Values are aligned with the training columns and sum to 1
// when any importance is positive.
type FeatureImporter interface {
	FeatureImportances() ([]float64, error)
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	// SetParams sets the model's hyperparameters. Unknown keys are an error.
	SetParams(params map[string]interface{}) error
}

// Fitted reports whether m carries a state that says it has been fitted.
func Fitted(m interface{}) bool {
	f, ok := m.(interface{ IsFitted() bool })
	return ok && f.IsFitted()
}
