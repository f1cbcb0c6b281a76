package core

import (
	"fmt"
	"testing"
)

func TestHistory_AddGetList(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 4; i++ {
		h.Add(Outcome{RunID: fmt.Sprintf("r%d", i), Rows: int64(i)})
	}

	if got := h.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
	if _, ok := h.Get("r1"); ok {
		t.Error("r1 should have been evicted")
	}
	if o, ok := h.Get("r4"); !ok || o.Rows != 4 {
		t.Errorf("Get(r4) = %+v, %v", o, ok)
	}

	var ids []string
	for _, o := range h.List(0) {
		ids = append(ids, o.RunID)
	}
	if fmt.Sprint(ids) != "[r4 r3 r2]" {
		t.Errorf("List = %v, want [r4 r3 r2]", ids)
	}
	if got := len(h.List(2)); got != 2 {
		t.Errorf("List(2) returned %d items", got)
	}
}

func TestHistory_ReplaceSameRun(t *testing.T) {
	h := NewHistory(2)
	h.Add(Outcome{RunID: "a", State: StateLoading})
	h.Add(Outcome{RunID: "a", State: StateCommitted})

	if got := h.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
	if o, _ := h.Get("a"); o.State != StateCommitted {
		t.Errorf("State = %s, want %s", o.State, StateCommitted)
	}
}

func TestHistory_Empty(t *testing.T) {
	h := NewHistory(0)
	if got := h.List(10); len(got) != 0 {
		t.Errorf("List on empty history = %v", got)
	}
	if _, ok := h.Get("x"); ok {
		t.Error("Get on empty history found something")
	}
}
