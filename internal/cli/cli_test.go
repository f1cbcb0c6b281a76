package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/tableload/internal/config"
	"github.com/JonMunkholm/tableload/internal/core"
	_ "github.com/JonMunkholm/tableload/internal/database/sqlite"
)

// env isolates a test from the user's profile file and environment.
type env struct {
	dir      string
	db       string
	profiles string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv(envURL, "")
	t.Setenv(envPassword, "")
	return &env{
		dir:      dir,
		db:       filepath.Join(dir, "cli.db"),
		profiles: filepath.Join(dir, "profiles.yaml"),
	}
}

func (e *env) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (e *env) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	args = append(args, "--profiles-file", e.profiles)
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Success(t *testing.T) {
	e := newEnv(t)
	path := e.file(t, "in.csv", "a,b\n1,2\n3,4\n")

	code, stdout, stderr := e.run("run", path, "--table", "t1", "--driver", "sqlite", "--db", e.db)
	if code != ExitOK {
		t.Fatalf("exit = %d, stderr %s, stdout %s", code, stderr, stdout)
	}
	if !strings.Contains(stdout, "Loaded 2 rows") || !strings.Contains(stdout, "main.t1") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRun_VerbosePrintsStages(t *testing.T) {
	e := newEnv(t)
	path := e.file(t, "in.csv", "a,b\n1,2\n3,4\n")

	code, _, stderr := e.run("run", path, "-t", "t1", "--driver", "sqlite", "--db", e.db, "-v")
	if code != ExitOK {
		t.Fatalf("exit = %d, stderr %s", code, stderr)
	}
	for _, want := range []string{"run_started", "table_created", "load_completed", "(2 rows)", "committed"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr)
		}
	}

	_, _, quiet := e.run("run", path, "-t", "t1", "--driver", "sqlite", "--db", e.db)
	if strings.Contains(quiet, "load_completed") {
		t.Errorf("stderr without -v = %q, want no progress lines", quiet)
	}
}

func TestRun_JSONOutput(t *testing.T) {
	e := newEnv(t)
	path := e.file(t, "in.txt", "id~name\n1~x\n")

	code, stdout, _ := e.run("run", path, "-t", "main.people", "-d", "tilde",
		"--url", "sqlite:"+e.db, "-o", "json")
	if code != ExitOK {
		t.Fatalf("exit = %d, stdout %s", code, stdout)
	}
	var res struct {
		Status string `json:"status"`
		Rows   int64  `json:"rows"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if res.Status != "success" || res.Rows != 1 || res.Action != "created" {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_FailureExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		args     []string
		wantCode int
		wantOut  string
	}{
		{name: "empty file", content: "", args: []string{"--table", "t1"}, wantCode: ExitInput, wantOut: "FILE003"},
		{name: "unsafe header", content: "a;b\n1\n", args: []string{"--table", "t1"}, wantCode: ExitInput, wantOut: "IDENT001"},
		{name: "ragged row", content: "a,b\n1\n", args: []string{"--table", "t1"}, wantCode: ExitLoad, wantOut: "LOAD001"},
		{name: "missing table", content: "a\n1\n", args: nil, wantCode: ExitUsage, wantOut: "REQ001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			path := e.file(t, "in.csv", tt.content)
			args := append([]string{"run", path, "--driver", "sqlite", "--db", e.db}, tt.args...)

			code, stdout, _ := e.run(args...)
			if code != tt.wantCode {
				t.Errorf("exit = %d, want %d (stdout %s)", code, tt.wantCode, stdout)
			}
			if !strings.Contains(stdout, tt.wantOut) {
				t.Errorf("stdout = %q, want it to mention %s", stdout, tt.wantOut)
			}
		})
	}
}

func TestRun_UsageErrors(t *testing.T) {
	e := newEnv(t)
	path := e.file(t, "in.csv", "a\n1\n")

	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"run", path, "--nope"}},
		{"no file", []string{"run", "--table", "t1"}},
		{"bad delimiter", []string{"run", path, "-t", "t1", "-d", ";"}},
		{"bad output", []string{"drivers", "-o", "yaml"}},
		{"bad param", []string{"run", path, "-t", "t1", "--param", "novalue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, stderr := e.run(tt.args...); code != ExitUsage {
				t.Errorf("exit = %d, want %d (stderr %s)", code, ExitUsage, stderr)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	e := newEnv(t)

	code, stdout, _ := e.run("check", "--driver", "sqlite", "--db", e.db)
	if code != ExitOK || !strings.HasPrefix(stdout, "ok: sqlite://") {
		t.Errorf("check = %d, %q", code, stdout)
	}

	code, _, stderr := e.run("check", "--driver", "sqlite")
	if code != ExitConnection {
		t.Errorf("check without a path = %d, want %d", code, ExitConnection)
	}
	if !strings.Contains(stderr, "CONN") {
		t.Errorf("stderr = %q, want a CONN code", stderr)
	}
}

func TestDrivers(t *testing.T) {
	e := newEnv(t)
	code, stdout, _ := e.run("drivers", "-o", "json")
	if code != ExitOK {
		t.Fatalf("exit = %d", code)
	}
	var res struct {
		Drivers      []string                     `json:"drivers"`
		Delimiters   []string                     `json:"delimiters"`
		Capabilities map[string]core.Capabilities `json:"capabilities"`
	}
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatal(err)
	}
	if !contains(res.Drivers, "sqlite") || !contains(res.Delimiters, "pipe") {
		t.Errorf("drivers output = %+v", res)
	}
	if c := res.Capabilities["sqlite"]; c.NativeBulkCopy || !c.TransactionalDDL {
		t.Errorf("sqlite capabilities = %+v, want row inserts with transactional DDL", c)
	}

	_, stdout, _ = e.run("drivers")
	if !strings.Contains(stdout, "sqlite") || !strings.Contains(stdout, "row inserts, transactional DDL") {
		t.Errorf("drivers text output = %q", stdout)
	}
}

func TestProfiles(t *testing.T) {
	e := newEnv(t)
	path := e.file(t, "in.csv", "a\n1\n2\n")

	if code, _, stderr := e.run("profile", "add", "local", "--driver", "sqlite", "--db", e.db, "--schema", "main"); code != ExitOK {
		t.Fatalf("profile add = %d: %s", code, stderr)
	}
	if code, _, _ := e.run("profile", "add", "other", "--url", "postgres://u:secret@h/db"); code != ExitUsage {
		t.Errorf("adding a URL with a password = %d, want %d", code, ExitUsage)
	}
	if code, _, _ := e.run("profile", "add", "pg", "--url", "postgres://u@h/db"); code != ExitOK {
		t.Errorf("profile add pg = %d", code)
	}

	_, stdout, _ := e.run("profile", "list")
	if !strings.Contains(stdout, "* local") || !strings.Contains(stdout, "  pg") {
		t.Errorf("list = %q", stdout)
	}

	// The current profile supplies the connection.
	code, stdout, stderr := e.run("run", path, "-t", "t1")
	if code != ExitOK || !strings.Contains(stdout, "Loaded 2 rows") {
		t.Fatalf("run with profile = %d, %q, %q", code, stdout, stderr)
	}

	if code, _, _ := e.run("profile", "use", "pg"); code != ExitOK {
		t.Errorf("profile use = %d", code)
	}
	f, err := config.LoadProfiles(e.profiles)
	if err != nil {
		t.Fatal(err)
	}
	if f.CurrentProfile != "pg" {
		t.Errorf("current = %q, want pg", f.CurrentProfile)
	}

	if code, _, _ := e.run("profile", "rm", "pg"); code != ExitOK {
		t.Errorf("profile rm = %d", code)
	}
	if code, _, _ := e.run("profile", "use", "pg"); code != ExitUsage {
		t.Errorf("use of removed profile = %d, want %d", code, ExitUsage)
	}
	if code, _, _ := e.run("run", path, "-t", "t1", "--profile", "missing"); code != ExitUsage {
		t.Errorf("run with unknown profile = %d, want %d", code, ExitUsage)
	}
}

func TestResolveTarget_Precedence(t *testing.T) {
	e := newEnv(t)
	t.Setenv("WAREHOUSE_PW", "from-profile-env")

	err := config.SaveProfiles(e.profiles, &config.ProfileFile{
		CurrentProfile: "wh",
		Profiles: map[string]config.Profile{
			"wh": {
				ConnectionProfile: core.ConnectionProfile{Driver: "postgres", Host: "db", Database: "analytics", User: "loader"},
				PasswordEnv:       "WAREHOUSE_PW",
				Schema:            "staging",
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	o := &options{profilesFile: e.profiles, host: "override", params: []string{"sslmode=disable"}, stderr: io.Discard}
	tgt, err := o.resolveTarget()
	if err != nil {
		t.Fatal(err)
	}
	want := core.ConnectionProfile{
		Driver: "postgres", Host: "override", Database: "analytics", User: "loader",
		Password: "from-profile-env", Params: map[string]string{"sslmode": "disable"},
	}
	if tgt.profile.String() != want.String() || tgt.profile.Password != want.Password {
		t.Errorf("profile = %+v, want %+v", tgt.profile, want)
	}
	if tgt.schema != "staging" {
		t.Errorf("schema = %q, want staging", tgt.schema)
	}

	t.Setenv(envURL, "mysql://app@mysql:3307/shop")
	tgt, err = (&options{profilesFile: e.profiles, stderr: io.Discard}).resolveTarget()
	if err != nil {
		t.Fatal(err)
	}
	if tgt.profile.Driver != "mysql" || tgt.profile.Port != 3307 || tgt.profile.Password != "" {
		t.Errorf("env URL profile = %+v", tgt.profile)
	}
}

func TestResolveTarget_PasswordPrompt(t *testing.T) {
	e := newEnv(t)
	t.Setenv(envPassword, "from-env")

	orig := readPassword
	defer func() { readPassword = orig }()

	var prompted string
	readPassword = func(prompt string, _ io.Writer) (string, error) {
		prompted = prompt
		return "typed", nil
	}

	o := &options{profilesFile: e.profiles, url: "postgres://loader@db/x", stderr: io.Discard}
	tgt, err := o.resolveTarget()
	if err != nil || tgt.profile.Password != "from-env" {
		t.Errorf("without -W: password = %q, err %v", tgt.profile.Password, err)
	}

	o.askPassword = true
	tgt, err = o.resolveTarget()
	if err != nil || tgt.profile.Password != "typed" {
		t.Errorf("with -W: password = %q, err %v", tgt.profile.Password, err)
	}
	if !strings.Contains(prompted, "loader@db") {
		t.Errorf("prompt = %q", prompted)
	}

	readPassword = func(string, io.Writer) (string, error) { return "", errors.New("no tty") }
	if _, err := o.resolveTarget(); exitCode(err) != ExitUsage {
		t.Errorf("prompt failure exit = %d, want %d", exitCode(err), ExitUsage)
	}
}

func TestExitCodeForKind(t *testing.T) {
	tests := []struct {
		kind core.ErrorKind
		want int
	}{
		{core.KindRequest, ExitUsage},
		{core.KindConnection, ExitConnection},
		{core.KindFileAccess, ExitInput},
		{core.KindEmptyFile, ExitInput},
		{core.KindIdentifier, ExitInput},
		{core.KindSchema, ExitLoad},
		{core.KindLoad, ExitLoad},
		{core.KindTransaction, ExitLoad},
		{core.KindCancelled, ExitCancelled},
		{core.KindInternal, ExitFailure},
		{"", ExitFailure},
	}
	for _, tt := range tests {
		if got := exitCodeForKind(tt.kind); got != tt.want {
			t.Errorf("exitCodeForKind(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
