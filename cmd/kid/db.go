package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/kid-extractor/internal/repository"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Open the analysis store and ping it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		db, err := repository.Open(ctx, repository.Config{
			DSN:              cfg.Database.DSN,
			MaxConns:         cfg.Database.MaxConns,
			MinConns:         cfg.Database.MinConns,
			DialTimeout:      cfg.Database.DialTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("DB health: FAIL (%w)", err)
		}
		defer db.Close(logger)

		if err := repository.HealthCheck(ctx, db, cfg.Database.DialTimeout, logger); err != nil {
			return fmt.Errorf("DB health: FAIL (%w)", err)
		}
		if _, err := repository.NewAnalysisRepository(db, logger).List(ctx, 1); err != nil {
			return fmt.Errorf("DB health: FAIL (%w)", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "DB health: OK (%s)\n", db.Dialect)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbHealthCmd)
	rootCmd.AddCommand(dbCmd)
}
