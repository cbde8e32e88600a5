// Package cli implements the rbacd command line
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbacd",
		Short: "Role permission service of the medical console",
		Long: `rbacd keeps which permissions each console role holds, and answers
whether a role may perform an action. Admins manage the assignment over http.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, settings could also come from RBAC_ environment variables")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newPermissionsCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}
