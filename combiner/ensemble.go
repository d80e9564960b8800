// Package combiner builds voting, stacking and blending ensembles over
// heterogeneous base learners.
package combiner

import (
	"time"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/metrics"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func init() {
	model.Register(&Ensemble{})
}

// Kind tags the ensemble variant.
type Kind string

const (
	Voting   Kind = "voting"
	Stacking Kind = "stacking"
	Blending Kind = "blending"
)

// Kinds lists the variants in pipeline order.
var Kinds = []Kind{Voting, Stacking, Blending}

// ParseKind validates an ensemble strategy name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Voting, Stacking, Blending:
		return k, nil
	}
	return "", errors.NewValidationError("ensembles.strategies", "unknown ensemble strategy", s)
}

// Member is one fitted base learner of an ensemble.
type Member struct {
	Name  string
	Model *learner.TrainedModel
}

// Ensemble is a fitted voting, stacking or blending model. Features is the
// input contract; each member reads its own columns from it.
type Ensemble struct {
	Kind     Kind
	Features dataset.FeatureSubset
	Members  []Member

	// Meta is nil for Voting.
	MetaFamily  string
	MetaParams  learner.Params
	Meta        learner.Estimator
	Passthrough bool

	TrainedAt time.Time
}

// memberColumns maps each member feature to its column in e.Features.
func (e *Ensemble) memberColumns(m Member) []int {
	pos := make(map[string]int, len(e.Features))
	for i, f := range e.Features {
		pos[f] = i
	}
	cols := make([]int, len(m.Model.Features))
	for i, f := range m.Model.Features {
		cols[i] = pos[f]
	}
	return cols
}

// memberPredictions returns one column per member.
func (e *Ensemble) memberPredictions(X mat.Matrix) (*mat.Dense, error) {
	r, _ := X.Dims()
	out := mat.NewDense(r, len(e.Members), nil)
	for k, m := range e.Members {
		Xm := selectColumns(X, e.memberColumns(m))
		pred, err := m.Model.Predict(Xm)
		if err != nil {
			return nil, errors.Wrapf(err, "member %s", m.Name)
		}
		for i := 0; i < r; i++ {
			out.Set(i, k, pred.AtVec(i))
		}
	}
	return out, nil
}

// metaInput is [member predictions | features when passthrough].
func (e *Ensemble) metaInput(X mat.Matrix, preds *mat.Dense) *mat.Dense {
	if !e.Passthrough {
		return preds
	}
	r, c := X.Dims()
	k := len(e.Members)
	out := mat.NewDense(r, k+c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < k; j++ {
			out.Set(i, j, preds.At(i, j))
		}
		for j := 0; j < c; j++ {
			out.Set(i, k+j, X.At(i, j))
		}
	}
	return out
}

// Predict returns one prediction per row of X, whose columns must be
// e.Features.
func (e *Ensemble) Predict(X mat.Matrix) (*mat.VecDense, error) {
	r, c := X.Dims()
	if c != len(e.Features) {
		return nil, errors.NewDimensionError("Ensemble.Predict", len(e.Features), c, 1)
	}
	if len(e.Members) == 0 {
		return nil, errors.NewNotFittedError("Ensemble", "Predict")
	}
	preds, err := e.memberPredictions(X)
	if err != nil {
		return nil, err
	}

	if e.Kind == Voting {
		out := mat.NewVecDense(r, nil)
		k := float64(len(e.Members))
		for i := 0; i < r; i++ {
			var s float64
			for j := range e.Members {
				s += preds.At(i, j)
			}
			out.SetVec(i, s/k)
		}
		return out, nil
	}

	if e.Meta == nil {
		return nil, errors.NewNotFittedError("Ensemble", "Predict")
	}
	out, err := e.Meta.Predict(e.metaInput(X, preds))
	if err != nil {
		return nil, errors.Wrap(err, "meta learner")
	}
	return metrics.ColumnVector("Ensemble.Predict", out)
}

// PredictRows projects ds onto e.Features and predicts.
func (e *Ensemble) PredictRows(ds *dataset.GeneratorDataset) (*mat.VecDense, error) {
	X, _ := ds.Matrix(e.Features)
	return e.Predict(X)
}

// MemberNames returns the member names in order.
func (e *Ensemble) MemberNames() []string {
	out := make([]string, len(e.Members))
	for i, m := range e.Members {
		out[i] = m.Name
	}
	return out
}

func selectColumns(X mat.Matrix, cols []int) *mat.Dense {
	r, _ := X.Dims()
	out := mat.NewDense(r, len(cols), nil)
	for i := 0; i < r; i++ {
		for k, j := range cols {
			out.Set(i, k, X.At(i, j))
		}
	}
	return out
}
