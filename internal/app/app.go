package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	tclient "go.temporal.io/sdk/client"

	"docflow/internal/blob"
	"docflow/internal/config"
	"docflow/internal/extract"
	"docflow/internal/pipeline"
	"docflow/internal/providers"
	"docflow/internal/storage"
	"docflow/internal/vector"
	"docflow/internal/workflows"
)

// App holds the process-wide pipeline dependencies shared by the binaries.
type App struct {
	Config    config.Config
	DB        *storage.DB
	Providers *providers.Manager
	Mirror    *vector.Mirror
	Service   *pipeline.Service

	local    *pipeline.LocalScheduler
	temporal tclient.Client
}

// SetupLogging installs the default slog handler at the named level.
func SetupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db}

	pm, err := providers.NewManager(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build providers: %w", err)
	}
	pm.SetRecorder(storage.NewLLMAuditRepo(db))
	a.Providers = pm

	embedder, err := providers.NewEmbedManager(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build %s vectorizer: %w", cfg.Vectorizer, err)
	}
	embedder.SetRecorder(storage.NewLLMAuditRepo(db))

	mirror, err := vector.NewMirror(db.Pool, embedder, vector.Options{
		Collection: cfg.VectorCollection,
		Vectorizer: cfg.Vectorizer,
		Dim:        cfg.EmbedDim,
		BatchSize:  cfg.IndexBatchSize,
		Alpha:      cfg.HybridAlpha,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Mirror = mirror

	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build blob store: %w", err)
	}

	svc, err := pipeline.NewService(pipeline.Deps{
		Documents: storage.NewDocumentRepo(db),
		Chunks:    storage.NewChunkRepo(db),
		Index:     mirror,
		Blobs:     blobs,
		Extractor: extract.Default(cfg.ExtractBackup),
		LLM:       pm,
	}, pipeline.OptionsFromConfig(cfg))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = svc
	return a, nil
}

// Migrate creates the relational schema and the vector collection.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.DB.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure relational schema: %w", err)
	}
	if err := a.Mirror.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure vector collection: %w", err)
	}
	return nil
}

// UseLocalScheduler runs deferred batches on an in-process pool.
func (a *App) UseLocalScheduler() (*pipeline.LocalScheduler, error) {
	ls, err := pipeline.NewLocalScheduler(a.Config.WorkerPoolSize, a.Config.DeferredQueueSize, a.Service.ProcessDeferred)
	if err != nil {
		return nil, err
	}
	a.local = ls
	a.Service.SetScheduler(ls)
	return ls, nil
}

// UseTemporalScheduler hands deferred batches to DeferredChunksWorkflow.
func (a *App) UseTemporalScheduler() (*workflows.TemporalScheduler, error) {
	c, err := a.TemporalClient()
	if err != nil {
		return nil, err
	}
	ts := workflows.NewTemporalScheduler(c, a.Config)
	a.Service.SetScheduler(ts)
	return ts, nil
}

// TemporalClient dials Temporal once per App.
func (a *App) TemporalClient() (tclient.Client, error) {
	if a.temporal != nil {
		return a.temporal, nil
	}
	c, err := tclient.Dial(tclient.Options{HostPort: a.Config.TemporalAddress})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", a.Config.TemporalAddress, err)
	}
	a.temporal = c
	return c, nil
}

// Close drains the local pool before releasing connections.
func (a *App) Close() {
	if a.local != nil {
		a.local.Close()
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	a.DB.Close()
}
