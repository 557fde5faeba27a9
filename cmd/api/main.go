package main

import (
	"context"
	"errors"
	"net/http"
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
	logger.Info("starting retail chat bot API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	app, err := bootstrap.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	app.StartRelay(ctx)
	app.StartCatalogRefresh(ctx)
	if app.InProcessQueue() {
		// Without SQS the API process also consumes webhooks and runs jobs.
		app.StartIngest(ctx)
		app.StartJobs(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	waitWithTimeout(app, 15*time.Second, logger)
	logger.Info("server stopped")
}

func waitWithTimeout(app *bootstrap.App, timeout time.Duration, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		app.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Error("background loops did not stop in time", "timeout", timeout.String())
	}
}
