package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"docflow/internal/activities"
	"docflow/internal/app"
	"docflow/internal/config"
	"docflow/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	app.SetupLogging(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	a, err := app.New(ctx, cfg)
	cancel()
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	c, err := a.TemporalClient()
	if err != nil {
		slog.Error("temporal unavailable", "error", err)
		os.Exit(1)
	}

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Service))

	llm, embed := a.Providers.ProviderNames()
	slog.Info("docflow worker listening",
		"temporal", cfg.TemporalAddress,
		"queue", cfg.TemporalTaskQueue,
		"llm_providers", llm,
		"embed_providers", embed)
	if err := w.Run(worker.InterruptCh()); err != nil {
		slog.Error("worker stopped", "error", err)
	}
}
