package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

// runResult is the JSON form of an outcome.
type runResult struct {
	core.Outcome
	Summary string            `json:"summary"`
	Hint    *core.UserMessage `json:"hint,omitempty"`
}

func newRunCmd(o *options) *cobra.Command {
	var (
		table     string
		schema    string
		delimiter string
		encoding  string
		timeout   time.Duration
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Load FILE into a table, creating or truncating it first",
		Long: `Load FILE into a table. The first line of FILE names the columns. An absent
table is created with one text column per header field; an existing table
is emptied. The whole run is one transaction: on failure the table is left
as it was.`,
		Example: `  tableload run orders.csv --table orders --url postgres://loader@db/warehouse -W
  tableload run export.txt -t staging.items -d pipe --driver sqlite --db ./local.db`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := delimited.ParseDelimiter(delimiter)
			if err != nil {
				return &exitError{code: ExitUsage, err: err}
			}
			tgt, err := o.resolveTarget()
			if err != nil {
				return err
			}

			tbl := core.TableIdentifier{Schema: schema, Name: table}
			if tbl.Schema == "" {
				if s, n, ok := strings.Cut(table, "."); ok {
					tbl = core.TableIdentifier{Schema: s, Name: n}
				}
			}
			if tbl.Schema == "" {
				tbl.Schema = tgt.schema
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var opts []core.Option
			if verbose {
				opts = append(opts, core.WithSink(core.MultiSink{
					core.SlogSink{Logger: o.logger},
					core.SinkFunc(o.printProgress),
				}))
			}
			out := o.engine(opts...).Run(ctx, core.IngestionRequest{
				FilePath:  args[0],
				Table:     tbl,
				Delimiter: d,
				Encoding:  encoding,
				Profile:   tgt.profile,
			})
			o.printOutcome(out)
			if !out.Succeeded() {
				return &exitError{code: exitCodeForKind(out.Kind), err: out.Err(), reported: true}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&table, "table", "t", "", "target table, optionally schema-qualified")
	f.StringVarP(&schema, "schema", "s", "", "target schema (default: the profile's, then the driver's)")
	f.StringVarP(&delimiter, "delimiter", "d", "comma", "field delimiter: comma, pipe, tilde")
	f.StringVarP(&encoding, "encoding", "e", "", "source encoding, e.g. windows-1252 (default: UTF-8)")
	f.DurationVar(&timeout, "timeout", 0, "abandon the run after this long (0: no limit)")
	f.BoolVarP(&verbose, "verbose", "v", false, "print each stage to stderr as it finishes")
	return cmd
}

// printProgress writes one stderr line per engine event.
func (o *options) printProgress(_ context.Context, ev core.Event) {
	line := fmt.Sprintf("%s %-22s %s", ev.Time.Format("15:04:05"), ev.Kind, ev.Message)
	if rows, ok := ev.Attrs["rows"]; ok && ev.Kind == core.EventLoadCompleted {
		line += fmt.Sprintf(" (%v rows)", rows)
	}
	fmt.Fprintln(o.stderr, line)
}

func (o *options) printOutcome(out core.Outcome) {
	if o.output == "json" {
		res := runResult{Outcome: out, Summary: out.Summary()}
		if err := out.Err(); err != nil {
			msg := core.MapError(err)
			res.Hint = &msg
		}
		o.printJSON(res)
		return
	}

	if out.Succeeded() {
		fmt.Fprintln(o.stdout, out.Summary())
		return
	}
	fmt.Fprintf(o.stdout, "Ingestion failed while %s.\n", out.FailedAt)
	fmt.Fprintf(o.stdout, "  %s\n", core.FormatUserError(out.Err()))
	fmt.Fprintf(o.stdout, "  %s\n", out.Message)
	if out.Residual {
		fmt.Fprintf(o.stdout, "  Table %s was created and left empty; this backend commits DDL immediately.\n", out.Table)
	}
}
