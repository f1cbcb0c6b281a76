// Package sqlite is the SQLite backend, built on the pure-Go
// modernc.org/sqlite driver. SQLite has no bulk-copy protocol, so loads run
// a prepared INSERT per record inside the run's transaction.
//
// ConnectionProfile.Database is the database file path; Params are passed
// as DSN query parameters (for example _pragma=busy_timeout(5000)).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/database"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

const name = "sqlite"

func init() {
	core.RegisterDriver(Driver{}, "sqlite3")
}

// Driver implements core.Driver for SQLite.
type Driver struct{}

func (Driver) Name() string { return name }

// DefaultSchema is the main database of the connection.
func (Driver) DefaultSchema(core.ConnectionProfile) string { return "main" }

func (Driver) Capabilities() core.Capabilities {
	return core.Capabilities{TransactionalDDL: true, NativeBulkCopy: false}
}

func (Driver) Connect(ctx context.Context, p core.ConnectionProfile) (core.Conn, error) {
	dsn, err := DSN(p)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	return database.Open(ctx, db, Dialect{})
}

// DSN builds the driver connection string for p.
func DSN(p core.ConnectionProfile) (string, error) {
	path := strings.TrimSpace(p.Database)
	if path == "" {
		return "", fmt.Errorf("sqlite: database file path must not be empty")
	}
	if len(p.Params) == 0 {
		return path, nil
	}
	q := url.Values{}
	for k, v := range p.Params {
		q.Set(k, v)
	}
	if strings.HasPrefix(path, "file:") {
		return path + "?" + q.Encode(), nil
	}
	return "file:" + path + "?" + q.Encode(), nil
}

// Dialect renders SQLite statements.
type Dialect struct{}

func (Dialect) ExistsQuery() string {
	return `SELECT COUNT(*) FROM pragma_table_list WHERE schema = ? AND name = ? AND type = 'table'`
}

func (Dialect) CreateTableSQL(t core.TableIdentifier, cols core.ColumnSpec) string {
	return fmt.Sprintf("CREATE TABLE %s (%s)", QualifiedName(t), database.ColumnList(cols, QuoteIdent, "TEXT"))
}

func (Dialect) TruncateSQL(t core.TableIdentifier) string {
	return "DELETE FROM " + QualifiedName(t)
}

// InsertSQL is a positional insert of len(cols) values.
func InsertSQL(t core.TableIdentifier, cols core.ColumnSpec) string {
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", QualifiedName(t), database.Placeholders("?", len(cols)))
}

func (Dialect) Load(ctx context.Context, tx *sql.Tx, t core.TableIdentifier, cols core.ColumnSpec, src io.Reader, d delimited.Delimiter) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, InsertSQL(t, cols))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	return database.ExecRows(ctx, stmt, src, d)
}

// QuoteIdent double-quotes an identifier, doubling embedded quotes.
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QualifiedName renders "schema"."table".
func QualifiedName(t core.TableIdentifier) string {
	return QuoteIdent(t.Schema) + "." + QuoteIdent(t.Name)
}
