package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/mcp-gateway/storage/postgres"
)

func newMigrateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(v, os.Stderr)
			if err != nil {
				return err
			}
			databaseURL := v.GetString(keyDatabaseURL)
			if databaseURL == "" {
				return fmt.Errorf("--database-url (DATABASE_URL) is required")
			}
			if err := postgres.Migrate(cmd.Context(), databaseURL); err != nil {
				return err
			}
			logger.Info("Database migrations applied")
			return nil
		},
	}
}
