package pipeline

import (
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// State is the progress of one generator through the pipeline.
type State string

const (
	StateEligible         State = "eligible"
	StateIneligible       State = "ineligible"
	StateFeatureSelecting State = "feature_selecting"
	StateEnsembleBuilding State = "ensemble_building"
	StateEvaluated        State = "evaluated"
	// StateFailed is set only when the bulkhead catches an error that
	// escaped every strategy branch.
	StateFailed State = "failed"
)

var transitions = map[State][]State{
	StateEligible:         {StateFeatureSelecting, StateFailed},
	StateFeatureSelecting: {StateEnsembleBuilding, StateFailed},
	StateEnsembleBuilding: {StateEvaluated, StateFailed},
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// machine validates the state transitions of one generator.
type machine struct {
	state State
}

func newMachine(eligible bool) *machine {
	if eligible {
		return &machine{state: StateEligible}
	}
	return &machine{state: StateIneligible}
}

func (m *machine) advance(to State) error {
	for _, next := range transitions[m.state] {
		if next == to {
			m.state = to
			return nil
		}
	}
	return errors.NewValidationError("state", "invalid transition from "+string(m.state), string(to))
}
