package core

import (
	"sync"
)

// DefaultHistorySize is used when NewHistory is given a non-positive size.
const DefaultHistorySize = 100

// History keeps the most recent outcomes in memory, oldest evicted first.
// Safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	items []Outcome
	next  int
	full  bool
	index map[string]int
}

// NewHistory returns a History holding at most size outcomes.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		items: make([]Outcome, size),
		index: make(map[string]int, size),
	}
}

// Add records o, replacing an earlier entry with the same RunID.
func (h *History) Add(o Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i, ok := h.index[o.RunID]; ok {
		h.items[i] = o
		return
	}
	if h.full {
		delete(h.index, h.items[h.next].RunID)
	}
	h.items[h.next] = o
	h.index[o.RunID] = h.next
	h.next++
	if h.next == len(h.items) {
		h.next = 0
		h.full = true
	}
}

// Get returns the outcome recorded for runID.
func (h *History) Get(runID string) (Outcome, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i, ok := h.index[runID]
	if !ok {
		return Outcome{}, false
	}
	return h.items[i], true
}

// List returns up to limit outcomes, newest first. A non-positive limit
// returns everything held.
func (h *History) List(limit int) []Outcome {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.next
	if h.full {
		n = len(h.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Outcome, 0, limit)
	for i := 0; i < limit; i++ {
		j := (h.next - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[j])
	}
	return out
}

// Len returns the number of outcomes held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.items)
	}
	return h.next
}
