package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/database"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

// ExistsQuery is scoped to one schema so a same-named table elsewhere on the
// search path does not count.
const ExistsQuery = `SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = $1 AND table_name = $2
)`

// QuoteIdent quotes a single identifier.
func QuoteIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

// QualifiedName renders "schema"."table".
func QualifiedName(t core.TableIdentifier) string {
	return pgx.Identifier{t.Schema, t.Name}.Sanitize()
}

// CreateTableSQL creates t with one TEXT column per header field.
func CreateTableSQL(t core.TableIdentifier, cols core.ColumnSpec) string {
	return fmt.Sprintf("CREATE TABLE %s (%s)", QualifiedName(t), database.ColumnList(cols, QuoteIdent, "TEXT"))
}

// TruncateSQL empties t. TRUNCATE is transactional in PostgreSQL.
func TruncateSQL(t core.TableIdentifier) string {
	return "TRUNCATE TABLE " + QualifiedName(t)
}

// CopySQL loads CSV with a header row. Columns are matched by position.
func CopySQL(t core.TableIdentifier, d delimited.Delimiter) string {
	return fmt.Sprintf("COPY %s FROM STDIN WITH (FORMAT csv, HEADER true, DELIMITER '%s')", QualifiedName(t), d.String())
}
