package deploy

import (
	"fmt"
)

// State is one stage of the deployment state machine.
type State string

const (
	StateNotStarted        State = "not_started"
	StateCheckpointCreated State = "checkpoint_created"
	StateValidated         State = "validated"
	StateActivated         State = "activated"
	StateHealthChecked     State = "health_checked"
	StateSucceeded         State = "succeeded"
	StateRolledBack        State = "rolled_back"
	StateFailed            State = "failed"
)

// transitions defines valid state transitions. Succeeded, RolledBack and
// Failed are terminal.
var transitions = map[State][]State{
	StateNotStarted:        {StateCheckpointCreated, StateFailed},
	StateCheckpointCreated: {StateValidated, StateRolledBack, StateFailed},
	StateValidated:         {StateActivated, StateRolledBack, StateFailed},
	StateActivated:         {StateHealthChecked, StateRolledBack, StateFailed},
	StateHealthChecked:     {StateSucceeded, StateRolledBack, StateFailed},
	StateSucceeded:         {},
	StateRolledBack:        {},
	StateFailed:            {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends a deployment attempt.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// attempt tracks one deployment's progress through the state machine.
type attempt struct {
	state State
	steps []string
}

func newAttempt() *attempt {
	return &attempt{state: StateNotStarted}
}

// advance moves the attempt to the next state, rejecting invalid transitions.
func (a *attempt) advance(to State) error {
	if !CanTransition(a.state, to) {
		return fmt.Errorf("invalid transition from %s to %s", a.state, to)
	}
	a.state = to
	a.steps = append(a.steps, string(to))
	return nil
}
