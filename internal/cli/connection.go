package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/JonMunkholm/tableload/internal/config"
	"github.com/JonMunkholm/tableload/internal/core"
)

// Environment variables read by the CLI.
const (
	envURL      = "TABLELOAD_URL"
	envPassword = "TABLELOAD_PASSWORD"
)

// readPassword prompts on stderr and reads a line from the terminal without
// echo. Replaced in tests.
var readPassword = func(prompt string, stderr io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("cannot prompt for a password: stdin is not a terminal (set " + envPassword + ")")
	}
	fmt.Fprint(stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// target is a resolved connection plus the profile's default schema.
type target struct {
	profile core.ConnectionProfile
	schema  string
}

// resolveTarget builds the connection from, in increasing precedence, the
// profile file, TABLELOAD_URL or --url, and individual flags. The password
// comes from the URL or profile, then TABLELOAD_PASSWORD, then the prompt.
func (o *options) resolveTarget() (target, error) {
	var t target

	p, err := o.loadProfile()
	if err != nil {
		return t, err
	}
	if p != nil {
		conn, err := p.Connection()
		if err != nil {
			return t, &exitError{code: ExitUsage, err: fmt.Errorf("profile: %w", err)}
		}
		t.profile = conn
		t.schema = p.Schema
	}

	rawURL := o.url
	if rawURL == "" {
		rawURL = os.Getenv(envURL)
	}
	if rawURL != "" {
		conn, err := config.ParseURL(rawURL)
		if err != nil {
			return t, &exitError{code: ExitUsage, err: err}
		}
		t.profile = conn
	}

	if err := o.applyFlags(&t.profile); err != nil {
		return t, err
	}

	if t.profile.Password == "" {
		t.profile.Password = os.Getenv(envPassword)
	}
	if o.askPassword {
		pw, err := readPassword(fmt.Sprintf("Password for %s: ", t.profile.String()), o.stderr)
		if err != nil {
			return t, &exitError{code: ExitUsage, err: err}
		}
		t.profile.Password = pw
	}
	return t, nil
}

// loadProfile returns the selected profile, or nil when no profile file
// exists and none was asked for by name.
func (o *options) loadProfile() (*config.Profile, error) {
	f, err := config.LoadProfiles(o.profilesFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && o.profileName == "" {
			return nil, nil
		}
		return nil, &exitError{code: ExitUsage, err: err}
	}
	if o.profileName == "" && f.CurrentProfile == "" {
		return nil, nil
	}
	p, err := f.Active(o.profileName)
	if err != nil {
		return nil, &exitError{code: ExitUsage, err: err}
	}
	return &p, nil
}

// applyFlags overlays the connection flags that were given.
func (o *options) applyFlags(p *core.ConnectionProfile) error {
	if o.driver != "" {
		p.Driver = o.driver
	}
	if o.host != "" {
		p.Host = o.host
	}
	if o.port != 0 {
		p.Port = o.port
	}
	if o.database != "" {
		p.Database = o.database
	}
	if o.user != "" {
		p.User = o.user
	}
	for _, kv := range o.params {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return usageErrorf("--param %q is not key=value", kv)
		}
		if p.Params == nil {
			p.Params = map[string]string{}
		}
		p.Params[k] = strings.TrimSpace(v)
	}
	return nil
}
