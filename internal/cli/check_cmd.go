package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the target database accepts a connection",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			tgt, err := o.resolveTarget()
			if err != nil {
				return err
			}
			if ok, err := o.engine().Validate(cmd.Context(), tgt.profile); !ok {
				return err
			}
			if o.output == "json" {
				o.printJSON(map[string]any{"ok": true, "target": tgt.profile.String()})
				return nil
			}
			fmt.Fprintf(o.stdout, "ok: %s\n", tgt.profile.String())
			return nil
		},
	}
}
