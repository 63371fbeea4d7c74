package main

// Apply schema migrations as a deploy step:
//   go run ./cmd/migrate
// siftctl migrate --status reports the applied state.

import (
	"context"
	"os"
	"time"

	"servicesift-backend/internal/shared/config"
	"servicesift-backend/internal/shared/storage/db"
	"servicesift-backend/internal/shared/telemetry"
)

const migrateTimeout = 2 * time.Minute

func run(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.ProfileCLI)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return db.RunMigrations(ctx, sqlDB)
}

func main() {
	cfg := config.Load()
	if err := telemetry.Init(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		telemetry.Error("migrate.logger_init_failed", map[string]any{"error": err.Error()})
	}
	defer telemetry.Sync()

	start := time.Now()
	if err := run(context.Background(), cfg); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		telemetry.Sync()
		os.Exit(1)
	}
	telemetry.Info("migrate.done", map[string]any{"duration_ms": time.Since(start).Milliseconds()})
}
