package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medconsole/rbac/internal/config"
	"github.com/medconsole/rbac/types"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check ROLE PERMISSION",
		Short: "Tell whether a role holds a permission in the configured storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			role, err := types.ParseRole(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())

			authz, closePersister, err := newAuthorizer(ctx, cfg, newLogger(cfg.Log, cmd.ErrOrStderr()))
			if err != nil {
				cancel()
				return err
			}
			defer closePersister()
			defer cancel()

			// a fresh deployment is seeded here, keep those writes
			defer authz.Flush(ctx)

			if err := authz.Validate(args[1]); err != nil {
				return err
			}
			granted, err := authz.HasPermission(role, args[1])
			if err != nil {
				return err
			}

			if granted {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is allowed to %s\n", role, args[1])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is not allowed to %s\n", role, args[1])
			return fmt.Errorf("denied")
		},
	}
}
