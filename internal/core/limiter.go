package core

// limiter.go bounds how many ingestions run at once and keeps two runs from
// loading the same table concurrently.
//
// Slots use a semaphore: when all are taken, Acquire waits up to maxWait
// before failing with ErrTooManyRuns. Table locks never wait; a second run
// against a busy table fails fast with ErrTableBusy.
//
// WaitForDrain blocks until all active runs complete, for graceful shutdown.

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrTooManyRuns is returned when all run slots are occupied and the wait
// timeout expires. Clients should retry after a short delay.
var ErrTooManyRuns = errors.New("too many concurrent ingestions, please try again later")

// ErrTableBusy is returned when another run is already loading the table.
var ErrTableBusy = errors.New("another ingestion is loading this table")

// DefaultMaxConcurrentRuns is the default limit for parallel runs.
const DefaultMaxConcurrentRuns = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// Limiter controls concurrent runs using a semaphore plus a set of busy
// tables.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
	tables map[string]struct{}
}

// NewLimiter creates a limiter that allows at most maxConcurrent simultaneous
// runs. Requests that cannot acquire a slot within maxWait receive
// ErrTooManyRuns.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		tables:    make(map[string]struct{}),
	}
}

// Acquire attempts to acquire a run slot.
// The caller MUST call Release when the run completes.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyRuns
	}
}

// TryAcquire attempts to acquire a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful Acquire/TryAcquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// LockTable marks t as busy. The returned func releases it and is safe to
// call more than once. Table names compare case-insensitively.
func (l *Limiter) LockTable(t TableIdentifier) (func(), error) {
	key := strings.ToLower(t.String())

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.tables[key]; busy {
		return nil, ErrTableBusy
	}
	l.tables[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.tables, key)
			l.mu.Unlock()
		})
	}, nil
}

// ActiveCount returns the number of currently active runs.
func (l *Limiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all active runs complete or ctx is cancelled.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter's state.
type LimiterStatus struct {
	Active        int      `json:"active"`
	Available     int      `json:"available"`
	MaxConcurrent int      `json:"max_concurrent"`
	BusyTables    []string `json:"busy_tables,omitempty"`
}

// Status returns the current limiter state for monitoring.
func (l *Limiter) Status() LimiterStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	busy := make([]string, 0, len(l.tables))
	for k := range l.tables {
		busy = append(busy, k)
	}
	return LimiterStatus{
		Active:        l.active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
		BusyTables:    busy,
	}
}
