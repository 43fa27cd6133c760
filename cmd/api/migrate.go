package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tails/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		dialect, err := store.ParseDialect(cfg.DatabaseDriver)
		if err != nil {
			return err
		}
		db, err := store.Open(cmd.Context(), dialect, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(cmd.Context(), db, dialect); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		logger.Info().Str("driver", string(dialect)).Msg("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
