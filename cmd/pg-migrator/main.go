package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"thirdcoast.systems/ytharvest/internal/application"
	"thirdcoast.systems/ytharvest/internal/config"
	"thirdcoast.systems/ytharvest/internal/db"
	"thirdcoast.systems/ytharvest/internal/logging"
)

func main() {
	startupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conf, err := config.LoadConfig(startupCtx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Install(conf.LogLevel, conf.LogFormat)
	slog.Info("Starting warehouse migrator")

	pool, err := application.OpenDBPoolWithRetry(startupCtx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	databaseConnection, err := db.NewDatabaseConnection(startupCtx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer databaseConnection.Close()
	slog.Info("Database connection established")

	if err := databaseConnection.Migrate(startupCtx); err != nil {
		slog.Error("failed to run warehouse migrations", "error", err)
		os.Exit(1)
	}

	slog.Info("Warehouse migrations completed successfully")
}
