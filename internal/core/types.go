package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/tableload/internal/delimited"
)

// ConnectionProfile describes how to reach the target store. It is a plain
// value passed into each run; nothing in this package keeps credentials
// between runs.
type ConnectionProfile struct {
	Driver   string            `json:"driver" yaml:"driver"`
	Host     string            `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int               `json:"port,omitempty" yaml:"port,omitempty"`
	Database string            `json:"database,omitempty" yaml:"database,omitempty"`
	User     string            `json:"user,omitempty" yaml:"user,omitempty"`
	Password string            `json:"password,omitempty" yaml:"password,omitempty"`
	Params   map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// String returns a representation safe for logs; the password is masked.
func (p ConnectionProfile) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s://", p.Driver)
	if p.User != "" {
		b.WriteString(p.User)
		if p.Password != "" {
			b.WriteString(":[MASKED]")
		}
		b.WriteByte('@')
	}
	b.WriteString(p.Host)
	if p.Port != 0 {
		fmt.Fprintf(&b, ":%d", p.Port)
	}
	if p.Database != "" {
		b.WriteByte('/')
		b.WriteString(p.Database)
	}
	if len(p.Params) > 0 {
		keys := make([]string, 0, len(p.Params))
		for k := range p.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		b.WriteString(strings.Join(keys, "&"))
	}
	return b.String()
}

// TableIdentifier names the target table. An empty Schema is replaced with
// the driver's default schema before the run starts.
type TableIdentifier struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// String returns "schema.name", or just the name when no schema is set.
func (t TableIdentifier) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnSpec is the ordered list of column names taken from the header. All
// columns are created as unconstrained text.
type ColumnSpec []string

// IngestionRequest is everything one run needs. It is not modified by the
// engine.
type IngestionRequest struct {
	FilePath  string              `json:"file_path"`
	Table     TableIdentifier     `json:"table"`
	Delimiter delimited.Delimiter `json:"delimiter"`
	// Encoding of the source file; empty means UTF-8.
	Encoding string            `json:"encoding,omitempty"`
	Profile  ConnectionProfile `json:"-"`
}

// Status is the top-level result of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ReconcileAction records what the reconciler did to the table.
type ReconcileAction string

const (
	ActionNone      ReconcileAction = ""
	ActionCreated   ReconcileAction = "created"
	ActionTruncated ReconcileAction = "truncated"
)

// Outcome is the terminal result of a run. Rows and Action are set on
// success; Kind and Message on failure.
type Outcome struct {
	RunID     string          `json:"run_id"`
	Status    Status          `json:"status"`
	State     State           `json:"state"`
	Driver    string          `json:"driver,omitempty"`
	Database  string          `json:"database,omitempty"`
	Table     TableIdentifier `json:"table"`
	FilePath  string          `json:"file_path"`
	Columns   ColumnSpec      `json:"columns,omitempty"`
	Action    ReconcileAction `json:"action,omitempty"`
	Rows      int64           `json:"rows"`
	Kind      ErrorKind       `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`

	// FailedAt is the stage that was running when the run failed.
	FailedAt State `json:"failed_at,omitempty"`
	// Residual is set when a failed run left a created table behind because
	// the backend commits DDL implicitly.
	Residual bool `json:"residual,omitempty"`

	err error
}

// Succeeded reports whether the run committed.
func (o Outcome) Succeeded() bool { return o.Status == StatusSuccess }

// Err returns the error behind a failed outcome, or nil on success.
func (o Outcome) Err() error { return o.err }

// Summary is a one-line description suitable for a status bar or dialog.
func (o Outcome) Summary() string {
	if o.Succeeded() {
		where := o.Table.String()
		if o.Database != "" {
			where = o.Database + "." + where
		}
		return fmt.Sprintf("Loaded %d rows into %s (table %s)", o.Rows, where, o.Action)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Message)
}
