// Package main provides the scrape job worker entry point for the lead scanner service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lead-scanner/internal/app"
	"github.com/lead-scanner/internal/config"
	"github.com/lead-scanner/internal/logging"
)

const statusInterval = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	application, err := app.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.StartWorkers(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start workers")
	}
	logger.WithFields(map[string]interface{}{
		"workers":        cfg.Jobs.Workers,
		"queue":          cfg.Jobs.QueueKey,
		"sweep_interval": cfg.Jobs.SweepInterval.String(),
	}).Info("Scrape job worker started")

	go reportStatus(ctx, application)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	// in-flight jobs drain before the sweeper and status loop stop
	if err := application.Workers.StopWithin(cfg.Jobs.ShutdownGrace); err != nil {
		logger.WithError(err).Warn("Worker pool did not drain")
	}
	cancel()
	logger.Info("Worker exited")
}

// reportStatus logs queue depth and busy workers until ctx is done
func reportStatus(ctx context.Context, application *app.App) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := application.Queue.Len(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logging.WithError(err).Warn("Failed to read queue depth")
				}
				continue
			}
			logging.GetGlobalLogger().WithFields(map[string]interface{}{
				"queued": depth,
				"active": application.Workers.ActiveJobs(),
			}).Info("Worker status")
		}
	}
}
