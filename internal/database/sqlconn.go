// Package database holds the pieces shared by the database/sql backends:
// a single dedicated connection, a transaction-scoped session, and row
// streaming for backends without a text bulk-copy protocol.
//
// Each backend lives in its own subpackage and registers itself with
// core.RegisterDriver at init. Import internal/database/all to get every
// backend.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

// Dialect supplies the statements a database/sql backend runs inside a
// session. Identifiers reaching a Dialect have already passed
// core.ValidateIdentifier; dialects still quote them.
type Dialect interface {
	// ExistsQuery returns a catalog query taking schema and table as its two
	// parameters and yielding a single count.
	ExistsQuery() string
	CreateTableSQL(t core.TableIdentifier, cols core.ColumnSpec) string
	TruncateSQL(t core.TableIdentifier) string
	// Load streams src, header included, into t on tx.
	Load(ctx context.Context, tx *sql.Tx, t core.TableIdentifier, cols core.ColumnSpec, src io.Reader, d delimited.Delimiter) (int64, error)
}

// ImplicitCommitter is implemented by dialects whose DDL commits the open
// transaction on the server. After such a statement the session commits its
// handle and begins a fresh transaction on the same connection, so the load
// that follows can still be rolled back.
type ImplicitCommitter interface {
	DDLCommitsImplicitly() bool
}

func commitsImplicitly(d Dialect) bool {
	ic, ok := d.(ImplicitCommitter)
	return ok && ic.DDLCommitsImplicitly()
}

// Conn pins one connection from db so the whole run shares a session.
type Conn struct {
	db      *sql.DB
	conn    *sql.Conn
	dialect Dialect
}

// Open takes a dedicated connection from db. db is closed with the Conn.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Conn{db: db, conn: conn, dialect: dialect}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

func (c *Conn) Begin(ctx context.Context) (core.Session, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Session{conn: c.conn, tx: tx, dialect: c.dialect}, nil
}

func (c *Conn) Close(context.Context) error {
	return errors.Join(c.conn.Close(), c.db.Close())
}

// Session is a core.Session over a database/sql transaction.
type Session struct {
	conn    *sql.Conn
	tx      *sql.Tx
	dialect Dialect
}

func (s *Session) TableExists(ctx context.Context, t core.TableIdentifier) (bool, error) {
	var n int
	if err := s.tx.QueryRowContext(ctx, s.dialect.ExistsQuery(), t.Schema, t.Name).Scan(&n); err != nil {
		return false, fmt.Errorf("look up %s: %w", t, err)
	}
	return n > 0, nil
}

func (s *Session) CreateTable(ctx context.Context, t core.TableIdentifier, cols core.ColumnSpec) error {
	if _, err := s.tx.ExecContext(ctx, s.dialect.CreateTableSQL(t, cols)); err != nil {
		return fmt.Errorf("create %s: %w", t, err)
	}
	if commitsImplicitly(s.dialect) {
		return s.restart(ctx)
	}
	return nil
}

// restart ends the current transaction handle and opens a new one on the
// pinned connection.
func (s *Session) restart(ctx context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit ddl: %w", err)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

func (s *Session) TruncateTable(ctx context.Context, t core.TableIdentifier) error {
	if _, err := s.tx.ExecContext(ctx, s.dialect.TruncateSQL(t)); err != nil {
		return fmt.Errorf("truncate %s: %w", t, err)
	}
	return nil
}

func (s *Session) CopyFrom(ctx context.Context, t core.TableIdentifier, cols core.ColumnSpec, src io.Reader, d delimited.Delimiter) (int64, error) {
	n, err := s.dialect.Load(ctx, s.tx, t, cols, src, d)
	if err != nil {
		return n, fmt.Errorf("load %s: %w", t, err)
	}
	return n, nil
}

func (s *Session) Commit(context.Context) error { return s.tx.Commit() }

func (s *Session) Rollback(context.Context) error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// ExecRows parses src, skipping its header, and executes stmt once per
// record with the fields as arguments. It returns the number of records
// executed.
func ExecRows(ctx context.Context, stmt *sql.Stmt, src io.Reader, d delimited.Delimiter) (int64, error) {
	var args []any
	return delimited.ForEach(src, d, func(rec []string) error {
		if cap(args) < len(rec) {
			args = make([]any, len(rec))
		}
		args = args[:len(rec)]
		for i, v := range rec {
			args[i] = v
		}
		_, err := stmt.ExecContext(ctx, args...)
		return err
	})
}

// Placeholders returns n copies of p joined by ", ".
func Placeholders(p string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat(p+", ", n), ", ")
}

// ColumnList renders cols with quote applied and the given type appended
// to each, e.g. `"a" TEXT, "b" TEXT`.
func ColumnList(cols core.ColumnSpec, quote func(string) string, typ string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = quote(c)
		if typ != "" {
			parts[i] += " " + typ
		}
	}
	return strings.Join(parts, ", ")
}
