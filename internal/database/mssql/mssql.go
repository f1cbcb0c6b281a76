// Package mssql is the SQL Server backend. Loads parse the file client-side
// and stream rows through the TDS bulk-copy protocol (mssql.CopyIn) on the
// run's transaction.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/database"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

const (
	name        = "sqlserver"
	defaultPort = 1433
)

func init() {
	core.RegisterDriver(Driver{}, "mssql")
}

// Driver implements core.Driver for SQL Server.
type Driver struct{}

func (Driver) Name() string { return name }

func (Driver) DefaultSchema(core.ConnectionProfile) string { return "dbo" }

func (Driver) Capabilities() core.Capabilities {
	return core.Capabilities{TransactionalDDL: true, NativeBulkCopy: true}
}

func (Driver) Connect(ctx context.Context, p core.ConnectionProfile) (core.Conn, error) {
	dsn := DSN(p)
	// Fail fast on obvious mistakes before dialing.
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	connector, err := mssql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: %w", err)
	}
	return database.Open(ctx, sql.OpenDB(connector), Dialect{})
}

// DSN renders p as a sqlserver:// URL.
func DSN(p core.ConnectionProfile) string {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	q := url.Values{}
	if p.Database != "" {
		q.Set("database", p.Database)
	}
	for k, v := range p.Params {
		q.Set(k, v)
	}
	u := url.URL{
		Scheme:   "sqlserver",
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String()
}

// Dialect renders T-SQL statements.
type Dialect struct{}

func (Dialect) ExistsQuery() string {
	return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 AND TABLE_TYPE = 'BASE TABLE'`
}

// CreateTableSQL uses NVARCHAR(MAX), SQL Server's unbounded text type.
func (Dialect) CreateTableSQL(t core.TableIdentifier, cols core.ColumnSpec) string {
	return fmt.Sprintf("CREATE TABLE %s (%s)", QualifiedName(t), database.ColumnList(cols, QuoteIdent, "NVARCHAR(MAX)"))
}

func (Dialect) TruncateSQL(t core.TableIdentifier) string {
	return "TRUNCATE TABLE " + QualifiedName(t)
}

// Load bulk-copies every record after the header. Columns are matched by
// the header names.
func (Dialect) Load(ctx context.Context, tx *sql.Tx, t core.TableIdentifier, cols core.ColumnSpec, src io.Reader, d delimited.Delimiter) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(QualifiedName(t), mssql.BulkOptions{}, cols...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	defer stmt.Close()

	if _, err := database.ExecRows(ctx, stmt, src, d); err != nil {
		return 0, err
	}
	// An argument-less Exec flushes the batch and reports the row count.
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	return res.RowsAffected()
}

// QuoteIdent brackets an identifier, escaping ].
func QuoteIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// QualifiedName renders [schema].[table].
func QualifiedName(t core.TableIdentifier) string {
	return QuoteIdent(t.Schema) + "." + QuoteIdent(t.Name)
}
