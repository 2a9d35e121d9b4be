// Package commands implements fsctl, the operator CLI for the field sales API.
package commands

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	"fieldsales-api/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dsn      string
	logLevel string
	logger   *zap.Logger
)

func Execute() error {
	root := newRootCmd()
	defer func() {
		if logger != nil {
			logger.Sync()
		}
	}()
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fsctl",
		Short:         "Operator tooling for the field sales API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = os.Getenv("DB_DSN")
			}
			var err error
			logger, err = logging.New(logLevel, false)
			return err
		},
	}

	root.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (default $DB_DSN)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	root.AddCommand(tokenCmd(), migrateCmd(), importRetailersCmd(), passwdCmd())
	return root
}

func openDB(ctx context.Context) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("no database: pass --dsn or set DB_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
