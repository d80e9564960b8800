package tree

import (
	"math"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// MaxFeatures is the per-split feature budget in scikit-learn notation:
// "sqrt", "log2", an absolute count, or a fraction of the columns.
type MaxFeatures struct {
	Mode  string
	Value float64
}

// AllFeatures considers every column at every split.
var AllFeatures = MaxFeatures{Mode: "fraction", Value: 1}

// ParseMaxFeatures accepts "sqrt", "log2", "all", nil, an int count or a
// float fraction in (0, 1].
func ParseMaxFeatures(v interface{}) (MaxFeatures, error) {
	switch x := v.(type) {
	case nil:
		return AllFeatures, nil
	case MaxFeatures:
		return x, nil
	case string:
		switch x {
		case "sqrt", "log2":
			return MaxFeatures{Mode: x}, nil
		case "all", "auto", "":
			return AllFeatures, nil
		}
	case int:
		if x > 0 {
			return MaxFeatures{Mode: "count", Value: float64(x)}, nil
		}
	case float64:
		if x > 0 && x <= 1 {
			return MaxFeatures{Mode: "fraction", Value: x}, nil
		}
	}
	return MaxFeatures{}, errors.NewValidationError("max_features", `must be "sqrt", "log2", a positive int or a fraction in (0, 1]`, v)
}

// Resolve converts the budget into a feature count for n columns, at least 1.
func (m MaxFeatures) Resolve(n int) int {
	var k int
	switch m.Mode {
	case "sqrt":
		k = int(math.Sqrt(float64(n)))
	case "log2":
		k = int(math.Log2(float64(n)))
	case "count":
		k = int(m.Value)
	default:
		k = int(m.Value * float64(n))
	}
	return min(max(k, 1), n)
}

// Param is the value GetParams reports.
func (m MaxFeatures) Param() interface{} {
	switch m.Mode {
	case "sqrt", "log2":
		return m.Mode
	case "count":
		return int(m.Value)
	default:
		return m.Value
	}
}
