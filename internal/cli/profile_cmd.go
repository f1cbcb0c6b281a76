package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tableload/internal/config"
)

func newProfileCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage named connection profiles",
	}
	cmd.AddCommand(newProfileListCmd(o))
	cmd.AddCommand(newProfileAddCmd(o))
	cmd.AddCommand(newProfileUseCmd(o))
	cmd.AddCommand(newProfileRemoveCmd(o))
	return cmd
}

// loadOrEmpty reads the profile file, treating a missing file as empty.
func (o *options) loadOrEmpty() (*config.ProfileFile, error) {
	f, err := config.LoadProfiles(o.profilesFile)
	if errors.Is(err, fs.ErrNotExist) {
		return &config.ProfileFile{Profiles: map[string]config.Profile{}}, nil
	}
	return f, err
}

func newProfileListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles; the current one is marked with *",
		Args:  exactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			f, err := o.loadOrEmpty()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(f.Profiles))
			for n := range f.Profiles {
				names = append(names, n)
			}
			sort.Strings(names)

			if o.output == "json" {
				o.printJSON(map[string]any{"current": f.CurrentProfile, "profiles": names})
				return nil
			}
			for _, n := range names {
				mark := " "
				if n == f.CurrentProfile {
					mark = "*"
				}
				p := f.Profiles[n]
				desc := p.URL
				if desc == "" {
					desc = p.ConnectionProfile.String()
				}
				fmt.Fprintf(o.stdout, "%s %-16s %s\n", mark, n, desc)
			}
			return nil
		},
	}
}

func newProfileAddCmd(o *options) *cobra.Command {
	var (
		passwordEnv string
		schema      string
		use         bool
	)
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Save the connection flags as a named profile",
		Long: `Save --url or --driver/--host/--port/--db/--user/--param as profile NAME.
Passwords are never written; use --password-env to name a variable holding it.`,
		Example: `  tableload profile add warehouse --url postgres://loader@db/warehouse --password-env WAREHOUSE_PW --use`,
		Args:    exactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := o.loadOrEmpty()
			if err != nil {
				return err
			}

			p := config.Profile{URL: o.url, PasswordEnv: passwordEnv, Schema: schema}
			if err := o.applyFlags(&p.ConnectionProfile); err != nil {
				return err
			}
			if p.URL != "" {
				parsed, err := config.ParseURL(p.URL)
				if err != nil {
					return &exitError{code: ExitUsage, err: err}
				}
				if parsed.Password != "" {
					return usageErrorf("refusing to store a password from --url; use --password-env")
				}
			} else if p.Driver == "" {
				return usageErrorf("give --url or --driver")
			}

			f.Profiles[args[0]] = p
			if use || f.CurrentProfile == "" {
				f.CurrentProfile = args[0]
			}
			if err := config.SaveProfiles(o.profilesFile, f); err != nil {
				return err
			}
			fmt.Fprintf(o.stdout, "saved profile %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "environment variable holding the password")
	cmd.Flags().StringVar(&schema, "schema", "", "default schema for runs with this profile")
	cmd.Flags().BoolVar(&use, "use", false, "make this the current profile")
	return cmd
}

func newProfileUseCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "use NAME",
		Short: "Make NAME the current profile",
		Args:  exactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := o.loadOrEmpty()
			if err != nil {
				return err
			}
			if _, ok := f.Profiles[args[0]]; !ok {
				return usageErrorf("profile %q not found", args[0])
			}
			f.CurrentProfile = args[0]
			if err := config.SaveProfiles(o.profilesFile, f); err != nil {
				return err
			}
			fmt.Fprintf(o.stdout, "current profile: %s\n", args[0])
			return nil
		},
	}
}

func newProfileRemoveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "remove NAME",
		Aliases: []string{"rm"},
		Short:   "Delete profile NAME",
		Args:    exactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := o.loadOrEmpty()
			if err != nil {
				return err
			}
			if _, ok := f.Profiles[args[0]]; !ok {
				return usageErrorf("profile %q not found", args[0])
			}
			delete(f.Profiles, args[0])
			if f.CurrentProfile == args[0] {
				f.CurrentProfile = ""
			}
			if err := config.SaveProfiles(o.profilesFile, f); err != nil {
				return err
			}
			fmt.Fprintf(o.stdout, "removed profile %s\n", args[0])
			return nil
		},
	}
}
