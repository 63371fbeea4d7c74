package main

import (
	"github.com/spf13/cobra"

	"servicesift-backend/internal/shared/storage/db"
)

func migrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			sqlDB, err := db.Open(cmd.Context(), cfg.DatabaseURL, db.ProfileCLI)
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			if status {
				return db.MigrationStatus(cmd.Context(), sqlDB)
			}
			return db.RunMigrations(cmd.Context(), sqlDB)
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of applying")
	return cmd
}
