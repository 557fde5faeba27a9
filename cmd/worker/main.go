package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/retail-chat-bot/cmd/mainconfig"
	"github.com/wolfman30/retail-chat-bot/internal/app/bootstrap"
	appconfig "github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

func main() {
	mainconfig.LoadEnv(nil)
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.IngestQueueURL == "" || cfg.UseMemoryQueue {
		logger.Error("ingest worker requires INGEST_QUEUE_URL; the API consumes the in-memory queue itself")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	app, err := bootstrap.Build(ctx, cfg, awsConfig, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	app.StartCatalogRefresh(ctx)
	app.StartIngest(ctx)
	app.StartJobs(ctx)
	logger.Info("ingest worker started", "workers", cfg.WorkerCount, "jobs", cfg.EnableJobs)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down ingest worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		app.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("ingest worker stopped")
	case <-doneCtx.Done():
		logger.Error("ingest worker shutdown timed out", "error", doneCtx.Err())
	}
}
