// Package main provides the API server entry point for the lead scanner service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lead-scanner/internal/api"
	"github.com/lead-scanner/internal/app"
	"github.com/lead-scanner/internal/config"
	"github.com/lead-scanner/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":        cfg.Logging.Level,
		"format":       cfg.Logging.Format,
		"embed_worker": cfg.Server.EmbedWorker,
	}).Info("Lead scanner API server starting")

	application, err := app.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer application.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Server.EmbedWorker {
		if err := application.StartWorkers(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start embedded workers")
		}
		logger.WithField("workers", cfg.Jobs.Workers).Info("Embedded job workers started")
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		InternalAPIKey:  cfg.Server.InternalAPIKey,
		RateLimits:      cfg.RateLimit,
		ZoneLimits:      application.ZoneLimits(),
	}
	server := api.NewServer(serverConfig, application.APIServices())

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if cfg.Server.EmbedWorker {
		if err := application.Workers.StopWithin(cfg.Jobs.ShutdownGrace); err != nil {
			logger.WithError(err).Warn("Worker pool did not drain")
		}
	}
	stop()

	logger.Info("Server exited")
}
