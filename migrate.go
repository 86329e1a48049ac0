package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return runMigrate(cmd.Context(), a)
	},
}

func runMigrate(ctx context.Context, a *app) error {
	if err := repository.AutoMigrate(ctx, a.db); err != nil {
		a.logger.Error("auto migrate failed", zap.Error(err))
		return err
	}
	a.logger.Info("schema migrated")
	return nil
}
