package core

import "testing"

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateValidating, true},
		{StateValidating, StateReadingHeader, true},
		{StateReadingHeader, StateReconciling, true},
		{StateReconciling, StateLoading, true},
		{StateLoading, StateCommitted, true},
		{StateIdle, StateFailed, true},
		{StateValidating, StateFailed, true},
		{StateReadingHeader, StateFailed, true},
		{StateReconciling, StateFailed, true},
		{StateLoading, StateFailed, true},
		{StateIdle, StateLoading, false},
		{StateValidating, StateReconciling, false},
		{StateLoading, StateReconciling, false},
		{StateCommitted, StateFailed, false},
		{StateFailed, StateValidating, false},
		{StateFailed, StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMachine_RejectsSkippedStage(t *testing.T) {
	m := &machine{state: StateIdle}
	if err := m.transition(StateValidating); err != nil {
		t.Fatalf("transition error = %v", err)
	}
	if err := m.transition(StateLoading); err == nil {
		t.Fatal("expected error skipping from validating to loading")
	}
	if m.state != StateValidating {
		t.Errorf("state = %s, want %s", m.state, StateValidating)
	}
}
