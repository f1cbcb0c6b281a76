package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

func newDriversCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the supported drivers, delimiters and encodings",
		Args:  exactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			delims := make([]string, len(delimited.Delimiters))
			for i, d := range delimited.Delimiters {
				delims[i] = d.Name()
			}

			caps := core.DriverCapabilities()
			if o.output == "json" {
				o.printJSON(map[string]any{
					"drivers":      core.Drivers(),
					"capabilities": caps,
					"delimiters":   delims,
					"encodings":    delimited.Encodings(),
				})
				return nil
			}
			fmt.Fprintf(o.stdout, "drivers:    %s\n", strings.Join(core.Drivers(), ", "))
			for _, name := range core.Drivers() {
				fmt.Fprintf(o.stdout, "  %-10s %s\n", name, describeCapabilities(caps[name]))
			}
			fmt.Fprintf(o.stdout, "delimiters: %s\n", strings.Join(delims, ", "))
			fmt.Fprintf(o.stdout, "encodings:  %s\n", strings.Join(delimited.Encodings(), ", "))
			return nil
		},
	}
}

func describeCapabilities(c core.Capabilities) string {
	load := "row inserts"
	if c.NativeBulkCopy {
		load = "bulk copy"
	}
	ddl := "transactional DDL"
	if !c.TransactionalDDL {
		ddl = "DDL commits immediately"
	}
	return load + ", " + ddl
}
