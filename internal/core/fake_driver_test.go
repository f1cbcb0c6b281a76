package core

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/JonMunkholm/tableload/internal/delimited"
)

// fakeStore is an in-memory backend. Tables become visible to other
// sessions on commit, except CREATE when transactionalDDL is false.
type fakeStore struct {
	mu     sync.Mutex
	tables map[string]*fakeTable

	transactionalDDL bool

	connectErr  error
	pingErr     error
	beginErr    error
	existsErr   error
	createErr   error
	truncateErr error
	copyErr     error
	commitErr   error
	rollbackErr error
	copyPanic   any

	// statements records every call a session makes, in order.
	statements []string
	connects   int
	closes     int
}

type fakeTable struct {
	cols ColumnSpec
	rows [][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: make(map[string]*fakeTable), transactionalDDL: true}
}

func (s *fakeStore) record(stmt string) {
	s.mu.Lock()
	s.statements = append(s.statements, stmt)
	s.mu.Unlock()
}

func (s *fakeStore) table(t TableIdentifier) (*fakeTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.tables[t.String()]
	return tbl, ok
}

func (s *fakeStore) seed(t TableIdentifier, cols ColumnSpec, rows ...[]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.String()] = &fakeTable{cols: cols, rows: rows}
}

type fakeDriver struct {
	name  string
	store *fakeStore
}

func (d *fakeDriver) Name() string                           { return d.name }
func (d *fakeDriver) DefaultSchema(ConnectionProfile) string { return "public" }
func (d *fakeDriver) Capabilities() Capabilities {
	return Capabilities{TransactionalDDL: d.store.transactionalDDL, NativeBulkCopy: true}
}

func (d *fakeDriver) Connect(ctx context.Context, _ ConnectionProfile) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.store.connectErr != nil {
		return nil, d.store.connectErr
	}
	d.store.mu.Lock()
	d.store.connects++
	d.store.mu.Unlock()
	return &fakeConn{store: d.store}, nil
}

type fakeConn struct {
	store *fakeStore
}

func (c *fakeConn) Ping(context.Context) error { return c.store.pingErr }

func (c *fakeConn) Begin(context.Context) (Session, error) {
	if c.store.beginErr != nil {
		return nil, c.store.beginErr
	}
	return &fakeSession{store: c.store, pending: make(map[string]*fakeTable)}, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.store.mu.Lock()
	c.store.closes++
	c.store.mu.Unlock()
	return nil
}

// fakeSession buffers changes in pending until Commit.
type fakeSession struct {
	store   *fakeStore
	pending map[string]*fakeTable
}

func (s *fakeSession) lookup(t TableIdentifier) (*fakeTable, bool) {
	if tbl, ok := s.pending[t.String()]; ok {
		return tbl, true
	}
	return s.store.table(t)
}

func (s *fakeSession) TableExists(_ context.Context, t TableIdentifier) (bool, error) {
	s.store.record("exists " + t.String())
	if s.store.existsErr != nil {
		return false, s.store.existsErr
	}
	_, ok := s.lookup(t)
	return ok, nil
}

func (s *fakeSession) CreateTable(_ context.Context, t TableIdentifier, cols ColumnSpec) error {
	s.store.record("create " + t.String())
	if s.store.createErr != nil {
		return s.store.createErr
	}
	tbl := &fakeTable{cols: append(ColumnSpec(nil), cols...)}
	if !s.store.transactionalDDL {
		s.store.seed(t, tbl.cols)
		tbl = &fakeTable{cols: tbl.cols}
	}
	s.pending[t.String()] = tbl
	return nil
}

func (s *fakeSession) TruncateTable(_ context.Context, t TableIdentifier) error {
	s.store.record("truncate " + t.String())
	if s.store.truncateErr != nil {
		return s.store.truncateErr
	}
	tbl, ok := s.lookup(t)
	if !ok {
		return errors.New("relation does not exist")
	}
	s.pending[t.String()] = &fakeTable{cols: tbl.cols}
	return nil
}

func (s *fakeSession) CopyFrom(_ context.Context, t TableIdentifier, _ ColumnSpec, src io.Reader, d delimited.Delimiter) (int64, error) {
	s.store.record("copy " + t.String())
	if s.store.copyPanic != nil {
		panic(s.store.copyPanic)
	}
	if s.store.copyErr != nil {
		return 0, s.store.copyErr
	}
	tbl, ok := s.pending[t.String()]
	if !ok {
		return 0, errors.New("table not prepared in this session")
	}
	var rows [][]string
	n, err := delimited.ForEach(src, d, func(rec []string) error {
		rows = append(rows, append([]string(nil), rec...))
		return nil
	})
	if err != nil {
		return 0, err
	}
	tbl.rows = append(tbl.rows, rows...)
	return n, nil
}

func (s *fakeSession) Commit(context.Context) error {
	s.store.record("commit")
	if s.store.commitErr != nil {
		return s.store.commitErr
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for name, tbl := range s.pending {
		s.store.tables[name] = tbl
	}
	return nil
}

func (s *fakeSession) Rollback(context.Context) error {
	s.store.record("rollback")
	s.pending = nil
	return s.store.rollbackErr
}

func newFakeEngine(store *fakeStore, sink Sink, opts ...Option) *Engine {
	d := &fakeDriver{name: "fake", store: store}
	return NewEngine(append([]Option{
		WithSink(sink),
		WithDriverLookup(func(name string) (Driver, error) {
			if name != "fake" {
				return nil, errors.New("unknown driver " + name)
			}
			return d, nil
		}),
	}, opts...)...)
}
