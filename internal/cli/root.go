// Package cli implements the tableload command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/logging"
)

// options holds the persistent flags shared by every command.
type options struct {
	profileName    string
	profilesFile   string
	url            string
	driver         string
	host           string
	port           int
	database       string
	user           string
	params         []string
	askPassword    bool
	connectTimeout time.Duration
	output         string
	logLevel       string
	logFormat      string

	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// Execute runs the CLI with the process arguments and returns the exit code.
func Execute() int {
	return Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes args and returns the exit code. Results go to stdout;
// diagnostics and errors go to stderr, except in JSON mode where errors are
// written to stdout as a JSON object.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	o := &options{stdout: stdout, stderr: stderr}
	cmd := newRootCmd(o)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) && ee.reported {
		return ee.code
	}
	o.printError(err)
	return exitCode(err)
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "tableload",
		Short:         "Load delimited text files into database tables",
		Long:          "tableload creates or truncates a table from a file's header row and bulk loads the file into it in one transaction.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env is optional
			_ = godotenv.Load()

			if o.output != "text" && o.output != "json" {
				return usageErrorf("unsupported output format %q: use 'text' or 'json'", o.output)
			}
			o.logger = logging.New(o.stderr, o.logLevel, o.logFormat)
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: ExitUsage, err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&o.profileName, "profile", "P", "", "connection profile to use (default: current-profile)")
	pf.StringVar(&o.profilesFile, "profiles-file", "", "profile file (default: ~/.tableload/profiles.yaml)")
	pf.StringVar(&o.url, "url", "", "connection URL, e.g. postgres://user@host/db (env TABLELOAD_URL)")
	pf.StringVar(&o.driver, "driver", "", "database driver: postgres, mysql, sqlserver, sqlite")
	pf.StringVarP(&o.host, "host", "H", "", "database host")
	pf.IntVar(&o.port, "port", 0, "database port (default: the driver's)")
	pf.StringVar(&o.database, "db", "", "database name, or file path for sqlite")
	pf.StringVarP(&o.user, "user", "U", "", "database user")
	pf.StringArrayVar(&o.params, "param", nil, "extra driver parameter key=value (repeatable)")
	pf.BoolVarP(&o.askPassword, "password", "W", false, "prompt for the password (env TABLELOAD_PASSWORD)")
	pf.DurationVar(&o.connectTimeout, "connect-timeout", core.DefaultConnectTimeout, "bound on each connection attempt")
	pf.StringVarP(&o.output, "output", "o", "text", "output format (text, json)")
	pf.StringVar(&o.logLevel, "log-level", "warn", "diagnostic log level (debug, info, warn, error)")
	pf.StringVar(&o.logFormat, "log-format", "text", "diagnostic log format (text, json)")

	root.AddCommand(newRunCmd(o))
	root.AddCommand(newCheckCmd(o))
	root.AddCommand(newDriversCmd(o))
	root.AddCommand(newProfileCmd(o))
	return root
}

// engine builds an Engine logging to stderr.
func (o *options) engine(opts ...core.Option) *core.Engine {
	return core.NewEngine(append([]core.Option{
		core.WithLogger(o.logger),
		core.WithConnectTimeout(o.connectTimeout),
	}, opts...)...)
}

func (o *options) printError(err error) {
	msg := core.MapError(err)
	if o.output == "json" {
		o.printJSON(map[string]any{
			"error":   err.Error(),
			"code":    msg.Code,
			"message": msg.Message,
			"action":  msg.Action,
		})
		return
	}
	fmt.Fprintf(o.stderr, "Error: %v\n", err)
	if kind := core.KindOf(err); kind != "" {
		fmt.Fprintf(o.stderr, "%s\n", core.FormatUserError(err))
	}
}

func (o *options) printJSON(v any) {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(o.stderr, "Error: encoding output: %v\n", err)
	}
}

// exactArgs wraps cobra.ExactArgs so a wrong argument count exits with
// ExitUsage.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &exitError{code: ExitUsage, err: err}
		}
		return nil
	}
}
