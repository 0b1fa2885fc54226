package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vpool/pkg/logger"
)

// shutdownTimeout bounds draining HTTP requests, jobs and queue workers
const shutdownTimeout = 30 * time.Second

func main() {
	app := NewApplication()

	if err := app.Initialize(); err != nil {
		logger.FatalCtx(context.Background(), "vpool initialization failed: %v", err)
	}
	if err := app.Start(); err != nil {
		logger.FatalCtx(app.ctx, "vpool startup failed: %v", err)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()
	logger.InfoCtx(app.ctx, "shutdown signal received, draining")

	if err := app.Shutdown(shutdownTimeout); err != nil {
		logger.ErrorCtx(app.ctx, "vpool shutdown failed: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.InfoCtx(app.ctx, "vpool stopped")
	_ = logger.Sync()
}
