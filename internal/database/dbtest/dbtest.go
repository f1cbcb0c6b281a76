// Package dbtest runs the same end-to-end ingestion checks against any
// registered backend. Backend packages call Run from an integration test
// gated on an environment variable holding a connection URL.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tableload/internal/config"
	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

// Backend gives the suite the access it needs beyond the engine itself.
type Backend struct {
	Profile core.ConnectionProfile
	// CountRows returns the number of rows in t.
	CountRows func(ctx context.Context, t core.TableIdentifier) (int64, error)
	// Drop removes t if it exists.
	Drop func(ctx context.Context, t core.TableIdentifier) error
}

// ProfileFromEnv parses the URL in env, skipping the test when it is unset.
func ProfileFromEnv(t *testing.T, env string) core.ConnectionProfile {
	t.Helper()
	raw := os.Getenv(env)
	if raw == "" {
		t.Skipf("%s not set; skipping integration test", env)
	}
	p, err := config.ParseURL(raw)
	if err != nil {
		t.Fatalf("%s: %v", env, err)
	}
	return p
}

// Run executes the suite against b.
func Run(t *testing.T, b Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	driver, err := core.LookupDriver(b.Profile.Driver)
	if err != nil {
		t.Fatalf("LookupDriver: %v", err)
	}
	engine := core.NewEngine(core.WithSink(&core.MemorySink{}))
	table := core.TableIdentifier{
		Schema: driver.DefaultSchema(b.Profile),
		Name:   "tableload_it_" + uuid.NewString()[:8],
	}
	t.Cleanup(func() {
		if err := b.Drop(context.Background(), table); err != nil {
			t.Logf("drop %s: %v", table, err)
		}
	})

	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}
	run := func(path string, d delimited.Delimiter) core.Outcome {
		return engine.Run(ctx, core.IngestionRequest{FilePath: path, Table: table, Delimiter: d, Profile: b.Profile})
	}
	count := func(t *testing.T) int64 {
		t.Helper()
		n, err := b.CountRows(ctx, table)
		if err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		return n
	}

	exists := func(t *testing.T, tbl core.TableIdentifier) bool {
		t.Helper()
		conn, err := driver.Connect(ctx, b.Profile)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer conn.Close(ctx)
		sess, err := conn.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer sess.Rollback(ctx)
		ok, err := sess.TableExists(ctx, tbl)
		if err != nil {
			t.Fatalf("lookup %s: %v", tbl, err)
		}
		return ok
	}

	t.Run("validate", func(t *testing.T) {
		if ok, err := engine.Validate(ctx, b.Profile); !ok {
			t.Fatalf("Validate: %v", err)
		}
	})

	bad := write("bad.csv", "a,b\n5,6\n7\n")

	t.Run("failed load on absent table", func(t *testing.T) {
		fresh := core.TableIdentifier{Schema: table.Schema, Name: table.Name + "_new"}
		t.Cleanup(func() {
			if err := b.Drop(context.Background(), fresh); err != nil {
				t.Logf("drop %s: %v", fresh, err)
			}
		})

		out := engine.Run(ctx, core.IngestionRequest{FilePath: bad, Table: fresh, Delimiter: delimited.Comma, Profile: b.Profile})
		if out.Kind != core.KindLoad {
			t.Fatalf("Kind = %s, want %s (%s)", out.Kind, core.KindLoad, out.Message)
		}

		if driver.Capabilities().TransactionalDDL {
			if exists(t, fresh) {
				t.Errorf("%s exists after a failed load, want it rolled back", fresh)
			}
			if out.Residual {
				t.Error("Residual = true on a backend with transactional DDL")
			}
			return
		}
		if !out.Residual {
			t.Error("Residual = false, want true when DDL commits immediately")
		}
		if !exists(t, fresh) {
			t.Fatalf("%s absent, want the created table left behind", fresh)
		}
		n, err := b.CountRows(ctx, fresh)
		if err != nil {
			t.Fatalf("count %s: %v", fresh, err)
		}
		if n != 0 {
			t.Errorf("%s holds %d rows after a failed load, want 0", fresh, n)
		}
	})

	good := write("good.csv", "a,b\n1,2\n3,4\n")

	t.Run("create path load", func(t *testing.T) {
		out := run(good, delimited.Comma)
		if !out.Succeeded() {
			t.Fatalf("Run failed: %s", out.Message)
		}
		if out.Action != core.ActionCreated || out.Rows != 2 {
			t.Errorf("Action = %q Rows = %d, want created 2", out.Action, out.Rows)
		}
		if n := count(t); n != 2 {
			t.Errorf("row count = %d, want 2", n)
		}
	})

	t.Run("second run truncates", func(t *testing.T) {
		out := run(good, delimited.Comma)
		if !out.Succeeded() || out.Action != core.ActionTruncated {
			t.Fatalf("Run = %s %q: %s", out.Status, out.Action, out.Message)
		}
		if n := count(t); n != 2 {
			t.Errorf("row count = %d, want 2", n)
		}
	})

	t.Run("failed load keeps rows", func(t *testing.T) {
		out := run(bad, delimited.Comma)
		if out.Kind != core.KindLoad {
			t.Fatalf("Kind = %s, want %s (%s)", out.Kind, core.KindLoad, out.Message)
		}
		if n := count(t); n != 2 {
			t.Errorf("row count after failed load = %d, want 2", n)
		}
	})

	t.Run("crlf line endings", func(t *testing.T) {
		out := run(write("crlf.csv", "a,b\r\n1,x\r\n2,y\r\n"), delimited.Comma)
		if !out.Succeeded() || out.Rows != 2 {
			t.Fatalf("Run = %s rows=%d: %s", out.Status, out.Rows, out.Message)
		}
		if n := count(t); n != 2 {
			t.Errorf("row count = %d, want 2", n)
		}
	})

	t.Run("pipe delimiter", func(t *testing.T) {
		out := run(write("pipe.txt", "a|b\n\"x|y\"|2\n"), delimited.Pipe)
		if !out.Succeeded() || out.Rows != 1 {
			t.Fatalf("Run = %s rows=%d: %s", out.Status, out.Rows, out.Message)
		}
	})
}

// Qualified is a convenience for CountRows/Drop implementations.
func Qualified(quote func(string) string, t core.TableIdentifier) string {
	return fmt.Sprintf("%s.%s", quote(t.Schema), quote(t.Name))
}
