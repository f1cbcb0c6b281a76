package core

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/tableload/internal/delimited"
)

// Capabilities describes backend behaviour the engine reports on.
type Capabilities struct {
	// TransactionalDDL is false when CREATE TABLE commits implicitly, so a
	// failed load leaves a created table behind.
	TransactionalDDL bool `json:"transactional_ddl"`
	// NativeBulkCopy is false when the backend has no bulk-copy protocol and
	// the session loads rows with prepared statements instead.
	NativeBulkCopy bool `json:"native_bulk_copy"`
}

// Driver is a storage backend. Implementations register themselves with
// RegisterDriver at init time.
type Driver interface {
	Name() string
	// DefaultSchema is used when a request leaves the schema empty.
	DefaultSchema(p ConnectionProfile) string
	Capabilities() Capabilities
	Connect(ctx context.Context, p ConnectionProfile) (Conn, error)
}

// Conn is one open connection to the store.
type Conn interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (Session, error)
	Close(ctx context.Context) error
}

// Session is an open transaction. Nothing it does is visible to other
// connections until Commit.
type Session interface {
	// TableExists performs a schema-qualified catalog lookup with the names
	// passed as query parameters.
	TableExists(ctx context.Context, t TableIdentifier) (bool, error)
	// CreateTable creates t with one TEXT column per entry of cols, in order.
	CreateTable(ctx context.Context, t TableIdentifier, cols ColumnSpec) error
	// TruncateTable removes every row of t.
	TruncateTable(ctx context.Context, t TableIdentifier) error
	// CopyFrom streams src, whose first record is a header to be skipped,
	// into t and returns the number of rows stored.
	CopyFrom(ctx context.Context, t TableIdentifier, cols ColumnSpec, src io.Reader, d delimited.Delimiter) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

var (
	drivers   = make(map[string]Driver)
	aliases   = make(map[string]string)
	driversMu sync.RWMutex
)

// RegisterDriver adds a backend under its name and optional aliases.
// Panics if any of the names is already taken.
func RegisterDriver(d Driver, alias ...string) {
	driversMu.Lock()
	defer driversMu.Unlock()

	name := strings.ToLower(d.Name())
	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("driver already registered: %s", name))
	}
	drivers[name] = d

	for _, a := range alias {
		a = strings.ToLower(a)
		if _, exists := aliases[a]; exists {
			panic(fmt.Sprintf("driver alias already registered: %s", a))
		}
		aliases[a] = name
	}
}

// LookupDriver returns the driver registered under name or one of its
// aliases. Matching is case-insensitive.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	d, ok := drivers[key]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q (registered: %s)", name, strings.Join(driverNamesLocked(), ", "))
	}
	return d, nil
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return driverNamesLocked()
}

// DriverCapabilities returns the capabilities of every registered driver,
// keyed by name.
func DriverCapabilities() map[string]Capabilities {
	driversMu.RLock()
	defer driversMu.RUnlock()
	caps := make(map[string]Capabilities, len(drivers))
	for name, d := range drivers {
		caps[name] = d.Capabilities()
	}
	return caps
}

func driverNamesLocked() []string {
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// unregisterDriver removes a driver and its aliases. Tests only.
func unregisterDriver(name string) {
	driversMu.Lock()
	defer driversMu.Unlock()
	name = strings.ToLower(name)
	delete(drivers, name)
	for a, n := range aliases {
		if n == name {
			delete(aliases, a)
		}
	}
}
