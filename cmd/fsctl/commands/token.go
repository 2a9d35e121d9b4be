package commands

import (
	"fmt"
	"strings"
	"time"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/config"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		userID int64
		orgID  int64
		roles  string
		expiry time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			var roleList []string
			for _, r := range strings.Split(roles, ",") {
				r = strings.TrimSpace(r)
				if !auth.IsValidRole(r) {
					return fmt.Errorf("unknown role %q (want one of %s)", r, strings.Join(auth.ValidRoles, ", "))
				}
				roleList = append(roleList, r)
			}

			jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, expiry)
			if err := jwtManager.ValidateConfig(); err != nil {
				return err
			}
			token, err := jwtManager.GenerateToken(userID, orgID, roleList)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User ID: %d\nOrg ID: %d\nRoles: %s\nExpiry: %s\n\n",
				userID, orgID, strings.Join(roleList, ", "), expiry)
			fmt.Fprintln(out, token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "user id")
	cmd.Flags().Int64Var(&orgID, "org", 1, "organization id")
	cmd.Flags().StringVar(&roles, "roles", auth.RoleSalesRep, "comma-separated roles")
	cmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "token lifetime")
	return cmd
}
