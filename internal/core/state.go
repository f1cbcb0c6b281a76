package core

import "fmt"

// State is a stage of the run state machine.
type State string

const (
	StateIdle          State = "idle"
	StateValidating    State = "validating"
	StateReadingHeader State = "reading_header"
	StateReconciling   State = "reconciling"
	StateLoading       State = "loading"
	StateCommitted     State = "committed"
	StateFailed        State = "failed"
)

// transitions lists the forward edge out of every non-terminal state. Failed
// is reachable from all of them and is checked separately.
var transitions = map[State]State{
	StateIdle:          StateValidating,
	StateValidating:    StateReadingHeader,
	StateReadingHeader: StateReconciling,
	StateReconciling:   StateLoading,
	StateLoading:       StateCommitted,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// CanTransition reports whether the machine may move from s to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return transitions[s] == next
}

// machine tracks the current state of one run.
type machine struct {
	state State
}

func (m *machine) transition(next State) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("illegal state transition %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}
