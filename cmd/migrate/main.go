package main

// Run database migrations:
//   go run ./cmd/migrate
// DATABASE_URL selects the dialect: sqlite:<path> for SQLite, anything else for Postgres.

import (
	"context"
	"os"

	"litigation-backend/internal/shared/config"
	"litigation-backend/internal/shared/storage/db"
	"litigation-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Setup(cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	dialect := db.DialectFor(cfg.DatabaseURL)
	if err := db.RunMigrations(ctx, sqlDB, dialect); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error(), "dialect": string(dialect)})
		os.Exit(1)
	}
	telemetry.Info("migrate.completed", map[string]any{"dialect": string(dialect)})
}
