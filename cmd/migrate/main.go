package main

import (
	"log/slog"
	"os"

	"github.com/aiox-platform/quotaguard/internal/config"
	"github.com/aiox-platform/quotaguard/internal/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(cfg.DB.Driver, database.MigrationURL(cfg.DB)); err != nil {
		slog.Error("migrating", "driver", cfg.DB.Driver, "error", err)
		os.Exit(1)
	}
}
