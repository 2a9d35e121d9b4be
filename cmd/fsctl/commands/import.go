package commands

import (
	"errors"
	"fmt"
	"os"

	"fieldsales-api/pkg/importer"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func importRetailersCmd() *cobra.Command {
	var opts importer.Options
	var file string
	cmd := &cobra.Command{
		Use:   "import-retailers",
		Short: "Upsert the retailer master list from an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" || opts.OrgID <= 0 {
				return errors.New("--file and --org-id are required")
			}
			if dsn == "" {
				return errors.New("no database: pass --dsn or set DB_DSN")
			}

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			sum, err := importer.ImportRetailers(ctx, pool, f, opts)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sheet=%s inserted=%d updated=%d skipped=%d errors=%d dry_run=%v\n",
				sum.Sheet, sum.Inserted, sum.Updated, sum.Skipped, sum.Errors, sum.DryRun)
			for _, e := range sum.Samples {
				fmt.Fprintf(out, "  row %d: %s\n", e.Row, e.Message)
			}
			if err != nil {
				return err
			}
			logger.Info("retailer import",
				zap.String("file", file),
				zap.Int64("org_id", opts.OrgID),
				zap.Int("inserted", sum.Inserted),
				zap.Int("updated", sum.Updated))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the .xlsx workbook")
	cmd.Flags().Int64Var(&opts.OrgID, "org-id", 0, "organization to import into")
	cmd.Flags().StringVar(&opts.MappingPath, "mapping", importer.DefaultMappingPath, "column mapping YAML")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate and count without committing")
	cmd.Flags().IntVar(&opts.MaxErrors, "max-errors", 50, "abort when more rows than this are invalid")
	return cmd
}
