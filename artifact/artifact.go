// Package artifact persists trained models and ensembles under stable
// (generator, strategy, step) keys.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/YuminosukeSato/pvtrain/combiner"
	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// Artifact kinds.
const (
	KindModel    = "model"
	KindEnsemble = "ensemble"
)

// ErrNotFound matches every missing-artifact error returned by a Store.
var ErrNotFound = errors.ErrArtifactNotFound

// Key identifies an artifact. Step is set for per-step elimination models.
type Key struct {
	GeneratorID string
	Strategy    string
	Step        *int
}

// NewKey returns a key without a step.
func NewKey(generatorID, strategy string) Key {
	return Key{GeneratorID: generatorID, Strategy: strategy}
}

// StepKey returns the key of an elimination step with step features.
func StepKey(generatorID, strategy string, step int) Key {
	return Key{GeneratorID: generatorID, Strategy: strategy, Step: &step}
}

// String renders <strategy>_<generator>[_step<n>]. Stores use it as the
// object name, so it must stay stable across releases.
func (k Key) String() string {
	if k.Step != nil {
		return fmt.Sprintf("%s_%s_step%d", k.Strategy, k.GeneratorID, *k.Step)
	}
	return k.Strategy + "_" + k.GeneratorID
}

// fileName is String with path separators replaced.
func (k Key) fileName() string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(k.String())
}

// Artifact is one stored model or ensemble.
type Artifact struct {
	Key       Key
	Kind      string
	Model     *learner.TrainedModel
	Ensemble  *combiner.Ensemble
	CreatedAt time.Time
	RunID     string
}

// NewModelArtifact wraps a trained model.
func NewModelArtifact(key Key, tm *learner.TrainedModel, runID string) *Artifact {
	return &Artifact{Key: key, Kind: KindModel, Model: tm, CreatedAt: time.Now().UTC(), RunID: runID}
}

// NewEnsembleArtifact wraps an ensemble.
func NewEnsembleArtifact(key Key, e *combiner.Ensemble, runID string) *Artifact {
	return &Artifact{Key: key, Kind: KindEnsemble, Ensemble: e, CreatedAt: time.Now().UTC(), RunID: runID}
}

// Validate checks that the payload matches Kind.
func (a *Artifact) Validate() error {
	switch a.Kind {
	case KindModel:
		if a.Model == nil || a.Model.Model == nil {
			return errors.NewValueError("artifact", "model artifact without a model")
		}
	case KindEnsemble:
		if a.Ensemble == nil {
			return errors.NewValueError("artifact", "ensemble artifact without an ensemble")
		}
	default:
		return errors.NewValidationError("kind", "unknown artifact kind", a.Kind)
	}
	return nil
}

// Predictor returns the stored model as a row predictor.
func (a *Artifact) Predictor() evaluation.RowPredictor {
	if a.Kind == KindEnsemble {
		return a.Ensemble
	}
	return a.Model
}

// Encode serializes a with gob.
func Encode(a *Artifact) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := model.SaveModelToWriter(a, &buf); err != nil {
		return nil, errors.Wrapf(err, "encode %s", a.Key)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(b []byte) (*Artifact, error) {
	var a Artifact
	if err := model.LoadModelFromReader(&a, bytes.NewReader(b)); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Store persists artifacts. Get returns an error matching ErrNotFound for
// unknown keys. Puts to distinct keys may run concurrently.
type Store interface {
	Put(ctx context.Context, key Key, a *Artifact) error
	Get(ctx context.Context, key Key) (*Artifact, error)
}

// ModelLoader adapts s to load single models for ensemble members.
func ModelLoader(s Store) combiner.ArtifactLoader {
	return func(ctx context.Context, generatorID, tag string) (*learner.TrainedModel, error) {
		a, err := s.Get(ctx, NewKey(generatorID, tag))
		if err != nil {
			return nil, err
		}
		if a.Kind != KindModel {
			return nil, errors.NewValueError("artifact", fmt.Sprintf("%s holds an ensemble, not a model", a.Key))
		}
		return a.Model, nil
	}
}

// PredictorLoader adapts s for evaluation.Comparator.
func PredictorLoader(s Store) evaluation.Loader {
	return func(ctx context.Context, generatorID, tag string) (evaluation.RowPredictor, error) {
		a, err := s.Get(ctx, NewKey(generatorID, tag))
		if err != nil {
			return nil, err
		}
		return a.Predictor(), nil
	}
}
