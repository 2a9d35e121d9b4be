package commands

import (
	"errors"
	"fmt"
	"strings"

	"fieldsales-api/internal/models"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func passwdCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Set a user's password",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" {
				return errors.New("--email is required")
			}
			if len(password) < models.MinPasswordLength {
				return fmt.Errorf("password must be at least %d characters", models.MinPasswordLength)
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := db.ExecContext(ctx,
				`UPDATE users SET password_hash = $1, updated_at = now() WHERE lower(email) = $2`,
				string(hash), email)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("no user with email %s", email)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	return cmd
}
