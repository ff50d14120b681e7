package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docflow/internal/api"
	"docflow/internal/app"
	"docflow/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	app.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := app.New(bootCtx, cfg)
	cancel()
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var opts []api.Option
	switch cfg.Executor {
	case "temporal":
		ts, err := a.UseTemporalScheduler()
		if err != nil {
			slog.Error("temporal scheduler unavailable", "error", err)
			os.Exit(1)
		}
		opts = append(opts, api.WithProgress(ts))
	default:
		if _, err := a.UseLocalScheduler(); err != nil {
			slog.Error("local scheduler unavailable", "error", err)
			os.Exit(1)
		}
	}

	llm, embed := a.Providers.ProviderNames()
	slog.Info("docflow api listening",
		"addr", cfg.APIAddr,
		"executor", cfg.Executor,
		"llm_providers", llm,
		"embed_providers", embed)

	srv := &http.Server{Addr: cfg.APIAddr, Handler: api.NewServer(a.Service, opts...).Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("api server stopped", "error", err)
	}
}
