package main

import (
	"context"
	"net/http"
	"os"

	"github.com/nvp85/payments-api/internal/api"
	"github.com/nvp85/payments-api/internal/config"
	"github.com/nvp85/payments-api/internal/logging"
	"github.com/nvp85/payments-api/internal/service"
	"github.com/nvp85/payments-api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := store.RunMigrations(cfg.DBSource); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	pg, err := store.NewPostgresStore(context.Background(), cfg.DBSource)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	transfers := service.NewTransferService(pg, logger)
	handler := api.NewHandler(pg, transfers, logger)
	router := api.NewRouter(handler, logger)

	logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
