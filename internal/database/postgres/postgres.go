// Package postgres is the PostgreSQL backend. Loads stream the file through
// COPY ... FROM STDIN on the run's transaction, so the server does the CSV
// parsing and a bad row aborts the whole copy.
package postgres

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

const (
	name        = "postgres"
	defaultPort = 5432
)

func init() {
	core.RegisterDriver(Driver{}, "postgresql", "pg")
}

// Driver implements core.Driver on pgx.
type Driver struct{}

func (Driver) Name() string { return name }

func (Driver) DefaultSchema(core.ConnectionProfile) string { return "public" }

func (Driver) Capabilities() core.Capabilities {
	return core.Capabilities{TransactionalDDL: true, NativeBulkCopy: true}
}

func (Driver) Connect(ctx context.Context, p core.ConnectionProfile) (core.Conn, error) {
	cfg, err := pgx.ParseConfig(ConnString(p))
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// ConnString renders p as a postgres:// URL. Params become query
// parameters (sslmode, application_name, ...).
func ConnString(p core.ConnectionProfile) string {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	if len(p.Params) > 0 {
		q := url.Values{}
		for k, v := range p.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Conn is one pgx connection.
type Conn struct {
	conn *pgx.Conn
}

func (c *Conn) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }

func (c *Conn) Begin(ctx context.Context) (core.Session, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Session{tx: tx}, nil
}

func (c *Conn) Close(ctx context.Context) error { return c.conn.Close(ctx) }

// Session runs every statement on one pgx transaction.
type Session struct {
	tx pgx.Tx
}

func (s *Session) TableExists(ctx context.Context, t core.TableIdentifier) (bool, error) {
	var exists bool
	if err := s.tx.QueryRow(ctx, ExistsQuery, t.Schema, t.Name).Scan(&exists); err != nil {
		return false, fmt.Errorf("look up %s: %w", t, err)
	}
	return exists, nil
}

func (s *Session) CreateTable(ctx context.Context, t core.TableIdentifier, cols core.ColumnSpec) error {
	if _, err := s.tx.Exec(ctx, CreateTableSQL(t, cols)); err != nil {
		return fmt.Errorf("create %s: %w", t, err)
	}
	return nil
}

func (s *Session) TruncateTable(ctx context.Context, t core.TableIdentifier) error {
	if _, err := s.tx.Exec(ctx, TruncateSQL(t)); err != nil {
		return fmt.Errorf("truncate %s: %w", t, err)
	}
	return nil
}

// CopyFrom hands src to the server unparsed; the HEADER option skips the
// first record.
func (s *Session) CopyFrom(ctx context.Context, t core.TableIdentifier, _ core.ColumnSpec, src io.Reader, d delimited.Delimiter) (int64, error) {
	tag, err := s.tx.Conn().PgConn().CopyFrom(ctx, src, CopySQL(t, d))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", t, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Session) Commit(ctx context.Context) error { return s.tx.Commit(ctx) }

func (s *Session) Rollback(ctx context.Context) error { return s.tx.Rollback(ctx) }
