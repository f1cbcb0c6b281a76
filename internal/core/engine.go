package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tableload/internal/delimited"
)

// DefaultRollbackTimeout bounds a rollback issued after the caller's context
// has ended.
const DefaultRollbackTimeout = 30 * time.Second

// Engine runs ingestions. It holds no per-run state and is safe for
// concurrent use; coordinating runs against the same table is left to the
// caller.
type Engine struct {
	sink           Sink
	logger         *slog.Logger
	connectTimeout time.Duration
	lookup         func(name string) (Driver, error)
	now            func() time.Time
	newID          func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sends diagnostic events to s instead of the logger.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger used for state transitions and, unless WithSink
// is given, for events.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConnectTimeout bounds each connection attempt. Zero disables it.
func WithConnectTimeout(d time.Duration) Option {
	return func(e *Engine) { e.connectTimeout = d }
}

// WithDriverLookup replaces the global driver registry.
func WithDriverLookup(fn func(name string) (Driver, error)) Option {
	return func(e *Engine) { e.lookup = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an Engine using the global driver registry.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		connectTimeout: DefaultConnectTimeout,
		lookup:         LookupDriver,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.sink == nil {
		e.sink = SlogSink{Logger: e.logger}
	}
	return e
}

// RunIngestion loads req.FilePath into req.Table using profile and a default
// Engine.
func RunIngestion(ctx context.Context, profile ConnectionProfile, req IngestionRequest) Outcome {
	req.Profile = profile
	return NewEngine().Run(ctx, req)
}

// Validate checks p with the engine's driver registry and connect timeout.
func (e *Engine) Validate(ctx context.Context, p ConnectionProfile) (bool, error) {
	d, err := e.lookup(driverName(p))
	if err != nil {
		return false, newError(KindRequest, StateValidating, p.Driver, err)
	}
	return validateWith(ctx, d, p, e.connectTimeout)
}

// ResolveTable fills in the driver's default schema when t has none. An
// unknown driver leaves t unchanged; Run reports it.
func (e *Engine) ResolveTable(p ConnectionProfile, t TableIdentifier) TableIdentifier {
	if t.Schema != "" {
		return t
	}
	if d, err := e.lookup(driverName(p)); err == nil {
		t.Schema = d.DefaultSchema(p)
	}
	return t
}

// Run executes one ingestion to completion. It always returns an Outcome;
// errors and panics become a failed Outcome. A zero Delimiter means comma.
func (e *Engine) Run(ctx context.Context, req IngestionRequest) (out Outcome) {
	if req.Delimiter == 0 {
		req.Delimiter = delimited.Comma
	}
	r := e.newRun(ctx, req)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic during ingestion", "panic", p, "state", r.m.state)
			out = r.fail(newError(KindInternal, r.m.state, "", fmt.Errorf("panic: %v", p)))
		}
	}()
	return r.execute(req)
}

// run is the mutable state of one Run call.
type run struct {
	e      *Engine
	ctx    context.Context
	m      machine
	out    Outcome
	logger *slog.Logger
	// tx is the open transaction, nil outside Reconciling and Loading.
	tx *txGuard
}

func (e *Engine) newRun(ctx context.Context, req IngestionRequest) *run {
	id := e.newID()
	r := &run{
		e:   e,
		ctx: ContextWithRunID(ctx, id),
		m:   machine{state: StateIdle},
		out: Outcome{
			RunID:     id,
			State:     StateIdle,
			Driver:    driverName(req.Profile),
			Database:  req.Profile.Database,
			Table:     req.Table,
			FilePath:  req.FilePath,
			StartedAt: e.now(),
		},
	}
	r.logger = e.logger.With("run_id", id, "file", req.FilePath, "table", req.Table.String())
	return r
}

func (r *run) execute(req IngestionRequest) Outcome {
	ctx := r.ctx
	r.emit(LevelInfo, EventRunStarted, "ingestion started", map[string]any{
		"file":      req.FilePath,
		"table":     req.Table.String(),
		"driver":    r.out.Driver,
		"delimiter": req.Delimiter.Name(),
	})

	driver, table, err := r.prepare(req)
	if err != nil {
		return r.fail(err)
	}
	r.out.Table = table
	profile := req.Profile

	r.enter(StateValidating)
	if ok, err := validateWith(ctx, driver, profile, r.e.connectTimeout); !ok {
		return r.fail(err)
	}
	r.emit(LevelInfo, EventConnectionEstablished, "connection established", map[string]any{
		"target": profile.String(),
	})

	r.enter(StateReadingHeader)
	cols, err := ReadHeader(req.FilePath, req.Delimiter, req.Encoding)
	if err != nil {
		return r.fail(err)
	}
	if bad, err := ValidateColumns(cols); err != nil {
		return r.fail(newError(KindIdentifier, StateReadingHeader, bad, err))
	}
	r.out.Columns = cols

	r.enter(StateReconciling)
	conn, err := connect(ctx, driver, profile, r.e.connectTimeout, StateReconciling)
	if err != nil {
		return r.fail(err)
	}
	defer func() {
		if err := conn.Close(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("failed to close connection", "error", err)
		}
	}()

	sess, err := conn.Begin(ctx)
	if err != nil {
		return r.fail(classify(ctx, KindTransaction, StateReconciling, table.String(), err))
	}
	r.tx = &txGuard{sess: sess}
	defer r.tx.release(ctx, r.logger)

	action, err := Reconcile(ctx, sess, table, cols)
	if err != nil {
		return r.abort(err)
	}
	r.out.Action = action
	switch action {
	case ActionCreated:
		r.emit(LevelInfo, EventTableCreated, "table created", map[string]any{"columns": len(cols)})
	case ActionTruncated:
		r.emit(LevelInfo, EventTableTruncated, "table truncated", nil)
	}

	r.enter(StateLoading)
	st, err := load(ctx, sess, table, cols, req.FilePath, req.Delimiter, req.Encoding)
	if err != nil {
		if action == ActionCreated && !driver.Capabilities().TransactionalDDL {
			r.out.Residual = true
		}
		return r.abort(err)
	}
	rows := st.rows
	r.emit(LevelInfo, EventLoadCompleted, "load completed", map[string]any{
		"rows":       rows,
		"bytes_read": st.bytes,
		"file_bytes": st.size,
	})

	if err := r.tx.commit(ctx); err != nil {
		return r.fail(classify(ctx, KindTransaction, StateLoading, table.String(), err))
	}

	r.enter(StateCommitted)
	r.out.Status = StatusSuccess
	r.out.State = StateCommitted
	r.out.Rows = rows
	r.out.Duration = r.e.now().Sub(r.out.StartedAt)
	r.emit(LevelInfo, EventCommitted, r.out.Summary(), map[string]any{
		"rows":        rows,
		"action":      string(action),
		"duration_ms": r.out.Duration.Milliseconds(),
	})
	return r.out
}

// prepare checks the request and resolves the driver and the
// schema-qualified table before any connection is made.
func (r *run) prepare(req IngestionRequest) (Driver, TableIdentifier, error) {
	t := req.Table
	switch {
	case req.FilePath == "":
		return nil, t, errorf(KindRequest, StateIdle, "", "file path is required")
	case t.Name == "":
		return nil, t, errorf(KindRequest, StateIdle, "", "table name is required")
	case !req.Delimiter.Valid():
		return nil, t, errorf(KindRequest, StateIdle, req.Delimiter.String(), "unsupported delimiter %q", req.Delimiter.String())
	}
	if err := delimited.CheckEncoding(req.Encoding); err != nil {
		return nil, t, newError(KindRequest, StateIdle, req.Encoding, err)
	}

	driver, err := r.e.lookup(driverName(req.Profile))
	if err != nil {
		return nil, t, newError(KindRequest, StateIdle, req.Profile.Driver, err)
	}

	if t.Schema == "" {
		t.Schema = driver.DefaultSchema(req.Profile)
	}
	if t.Schema == "" {
		return nil, t, errorf(KindRequest, StateIdle, t.Name, "schema is required for driver %s", driver.Name())
	}
	if err := ValidateTable(t); err != nil {
		return nil, t, newError(KindIdentifier, StateIdle, t.String(), err)
	}
	return driver, t, nil
}

// enter moves the machine forward. An illegal transition is a bug and panics
// into Run's recover.
func (r *run) enter(next State) {
	from := r.m.state
	if err := r.m.transition(next); err != nil {
		panic(err)
	}
	r.out.State = next
	r.logger.Debug("state transition", "from", from, "to", next)
}

// abort rolls back the open transaction and fails the run. A rollback error
// is joined to the original one.
func (r *run) abort(err error) Outcome {
	if rbErr := r.tx.rollback(r.ctx); rbErr != nil {
		err = errors.Join(err, newError(KindTransaction, r.m.state, r.out.Table.String(), rbErr))
	}
	if r.out.Residual {
		r.logger.Warn("created table left behind after failed load; backend commits DDL implicitly",
			"table", r.out.Table.String())
	}
	return r.fail(err)
}

func (r *run) fail(err error) Outcome {
	stage := r.m.state
	if !stage.Terminal() {
		_ = r.m.transition(StateFailed)
	}

	kind := KindOf(err)
	if kind == "" {
		kind = KindInternal
	}
	r.out.Status = StatusFailure
	r.out.State = StateFailed
	r.out.FailedAt = stage
	r.out.Kind = kind
	r.out.Message = err.Error()
	r.out.Rows = 0
	r.out.Action = ActionNone
	r.out.Duration = r.e.now().Sub(r.out.StartedAt)
	r.out.err = err

	attrs := map[string]any{"error_kind": string(kind), "failed_at": string(stage)}
	if r.out.Residual {
		attrs["residual_table"] = r.out.Table.String()
	}
	r.emit(LevelError, EventError, err.Error(), attrs)
	return r.out
}

func (r *run) emit(level Level, kind EventKind, msg string, attrs map[string]any) {
	r.e.sink.Emit(r.ctx, Event{
		Time:    r.e.now(),
		Level:   level,
		Kind:    kind,
		RunID:   r.out.RunID,
		State:   r.m.state,
		Message: msg,
		Attrs:   attrs,
	})
}

// txGuard ends a Session exactly once.
type txGuard struct {
	sess Session
	done bool
}

func (g *txGuard) commit(ctx context.Context) error {
	g.done = true
	return g.sess.Commit(ctx)
}

// rollback uses a context detached from ctx so a cancelled run still
// releases its transaction.
func (g *txGuard) rollback(ctx context.Context) error {
	if g.done {
		return nil
	}
	g.done = true
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultRollbackTimeout)
	defer cancel()
	return g.sess.Rollback(rbCtx)
}

// release rolls back a transaction that was neither committed nor rolled
// back, which only happens when a stage panics.
func (g *txGuard) release(ctx context.Context, logger *slog.Logger) {
	if g.done {
		return
	}
	if err := g.rollback(ctx); err != nil {
		logger.Error("rollback after panic failed", "error", err)
	}
}
