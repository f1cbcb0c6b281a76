// Package mysql is the MySQL backend. Loads use LOAD DATA LOCAL INFILE with
// the file streamed through a registered reader handler, so the server needs
// local_infile enabled.
//
// MySQL commits DDL implicitly, so the session commits after CREATE TABLE
// and loads in a fresh transaction: a table created by a run whose load
// later fails stays behind, empty. Existing tables are emptied with DELETE
// rather than TRUNCATE so a failed load leaves their rows intact.
package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/database"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

const (
	name        = "mysql"
	defaultPort = 3306
)

func init() {
	core.RegisterDriver(Driver{}, "mariadb")
}

// Driver implements core.Driver for MySQL and MariaDB.
type Driver struct{}

func (Driver) Name() string { return name }

// DefaultSchema is the database named in the profile; MySQL has no separate
// schema level.
func (Driver) DefaultSchema(p core.ConnectionProfile) string { return p.Database }

func (Driver) Capabilities() core.Capabilities {
	return core.Capabilities{TransactionalDDL: false, NativeBulkCopy: true}
}

func (Driver) Connect(ctx context.Context, p core.ConnectionProfile) (core.Conn, error) {
	connector, err := mysql.NewConnector(Config(p))
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return database.Open(ctx, sql.OpenDB(connector), Dialect{})
}

// Config maps p onto the driver configuration.
func Config(p core.ConnectionProfile) *mysql.Config {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(port))
	cfg.DBName = p.Database
	if len(p.Params) > 0 {
		cfg.Params = make(map[string]string, len(p.Params))
		for k, v := range p.Params {
			cfg.Params[k] = v
		}
	}
	return cfg
}

// Dialect renders MySQL statements.
type Dialect struct{}

// DDLCommitsImplicitly makes the session reopen its transaction after
// CREATE TABLE.
func (Dialect) DDLCommitsImplicitly() bool { return true }

func (Dialect) ExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`
}

func (Dialect) CreateTableSQL(t core.TableIdentifier, cols core.ColumnSpec) string {
	return fmt.Sprintf("CREATE TABLE %s (%s)", QualifiedName(t), database.ColumnList(cols, QuoteIdent, "TEXT"))
}

func (Dialect) TruncateSQL(t core.TableIdentifier) string {
	return "DELETE FROM " + QualifiedName(t)
}

// LoadSQL reads CSV from the named reader handler, skipping the header.
// Backslash escaping is disabled to keep RFC 4180 semantics. eol is "\n" or
// "\r\n".
func LoadSQL(handler string, t core.TableIdentifier, d delimited.Delimiter, eol string) string {
	lines := `\n`
	if eol == "\r\n" {
		lines = `\r\n`
	}
	return fmt.Sprintf(
		"LOAD DATA LOCAL INFILE 'Reader::%s' INTO TABLE %s CHARACTER SET utf8mb4 "+
			"FIELDS TERMINATED BY '%s' OPTIONALLY ENCLOSED BY '\"' ESCAPED BY '' "+
			"LINES TERMINATED BY '%s' IGNORE 1 LINES",
		handler, QualifiedName(t), d.String(), lines,
	)
}

func (Dialect) Load(ctx context.Context, tx *sql.Tx, t core.TableIdentifier, _ core.ColumnSpec, src io.Reader, d delimited.Delimiter) (int64, error) {
	br := bufio.NewReaderSize(src, delimited.PeekSize)
	eol := delimited.LineTerminator(br)

	handler := "tableload-" + uuid.NewString()
	mysql.RegisterReaderHandler(handler, func() io.Reader { return br })
	defer mysql.DeregisterReaderHandler(handler)

	res, err := tx.ExecContext(ctx, LoadSQL(handler, t, d, eol))
	if err != nil {
		return 0, err
	}
	// LOCAL loads downgrade bad rows to warnings; any warning fails the load.
	if err := firstWarning(ctx, tx); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func firstWarning(ctx context.Context, tx *sql.Tx) error {
	var level, message string
	var code int
	err := tx.QueryRowContext(ctx, "SHOW WARNINGS LIMIT 1").Scan(&level, &code, &message)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read warnings: %w", err)
	}
	return fmt.Errorf("%s %d: %s", level, code, message)
}

// QuoteIdent backtick-quotes an identifier, doubling embedded backticks.
func QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// QualifiedName renders `schema`.`table`.
func QualifiedName(t core.TableIdentifier) string {
	return QuoteIdent(t.Schema) + "." + QuoteIdent(t.Name)
}
