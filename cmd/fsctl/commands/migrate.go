package commands

import (
	"fmt"

	"fieldsales-api/internal/migrate"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var (
		dir      string
		seedsDir string
		seed     bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := migrate.Apply(ctx, db, dir, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied\n", len(applied))

			if seed {
				if err := migrate.Seed(ctx, db, seedsDir); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seeds applied")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "db/migrations", "migrations directory")
	cmd.Flags().StringVar(&seedsDir, "seeds-dir", "db/seeds", "seeds directory")
	cmd.Flags().BoolVar(&seed, "seed", false, "also apply seed files")
	return cmd
}
