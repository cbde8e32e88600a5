package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/medconsole/rbac/internal/config"
	"github.com/medconsole/rbac/internal/server"
	"github.com/medconsole/rbac/types"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token ROLE",
		Short: "Issue a bearer token for a role, signed with auth.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			role, err := types.ParseRole(args[0])
			if err != nil {
				return err
			}

			tok, err := server.IssueToken([]byte(cfg.Auth.JWTSecret), subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "rbacd", "subject claim of the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "how long the token is valid")
	return cmd
}
