package main

// Apply pending migrations:
//   go run ./cmd/migrate

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/storage/db"
	"docchat-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	if pending, err := db.Pending(ctx, sqlDB); err == nil {
		telemetry.Info("migrate.pending", map[string]any{"versions": pending, "count": len(pending)})
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
