package model

import (
	"math"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// Hyperparameters arrive from YAML grids and Go literals alike, so numeric
// values may be int, int64 or float64. These helpers coerce them and report
// a ValidationError naming the parameter otherwise.

// FloatParam coerces v to float64.
func FloatParam(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, errors.NewValidationError(name, "must be a number", v)
}

// IntParam coerces v to int. Floats are accepted only when integral.
func IntParam(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x == math.Trunc(x) {
			return int(x), nil
		}
	}
	return 0, errors.NewValidationError(name, "must be an integer", v)
}

// BoolParam coerces v to bool.
func BoolParam(name string, v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, errors.NewValidationError(name, "must be a boolean", v)
}

// UnknownParam is the error returned by SetParams for keys a model does not have.
func UnknownParam(model, name string, v interface{}) error {
	return errors.NewValidationError(name, "unknown parameter for "+model, v)
}
