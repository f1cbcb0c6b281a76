package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of a diagnostic event.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// EventKind names the point in a run an event was emitted from.
type EventKind string

const (
	EventRunStarted            EventKind = "run_started"
	EventConnectionEstablished EventKind = "connection_established"
	EventTableCreated          EventKind = "table_created"
	EventTableTruncated        EventKind = "table_truncated"
	EventLoadCompleted         EventKind = "load_completed"
	EventCommitted             EventKind = "committed"
	EventError                 EventKind = "error"
)

// Event is one diagnostic record. Formatting and destination belong to the
// Sink.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   Level          `json:"level"`
	Kind    EventKind      `json:"kind"`
	RunID   string         `json:"run_id"`
	State   State          `json:"state"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Sink receives diagnostic events. Emit is called synchronously from the
// run and must not block for long.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// SlogSink writes events through a slog.Logger.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ctx context.Context, ev Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if ev.Level == LevelError {
		level = slog.LevelError
	}

	args := make([]any, 0, 6+2*len(ev.Attrs))
	args = append(args, "event", string(ev.Kind), "run_id", ev.RunID, "state", string(ev.State))
	for k, v := range ev.Attrs {
		args = append(args, k, v)
	}
	logger.Log(ctx, level, ev.Message, args...)
}

// MemorySink keeps every event in memory. Safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Emit(_ context.Context, ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Events returns a copy of the events emitted so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Kinds returns the kinds of the events emitted so far, in order.
func (m *MemorySink) Kinds() []EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]EventKind, len(m.events))
	for i, ev := range m.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (ms MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range ms {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}
