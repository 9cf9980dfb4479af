package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/galileoChr/ai-model-builder-app/internal/config"
	"github.com/galileoChr/ai-model-builder-app/internal/core"
	"github.com/galileoChr/ai-model-builder-app/internal/events"
	"github.com/galileoChr/ai-model-builder-app/internal/security"
	"github.com/galileoChr/ai-model-builder-app/internal/stages"
	"github.com/galileoChr/ai-model-builder-app/internal/storage"
)

// App is the scheduler with everything it runs on, built from a Config.
type App struct {
	Config    config.Config
	Store     core.JobStore
	Logs      core.ProgressLog
	Scheduler *core.Scheduler

	closers []func() error
}

// NewApp opens storage, loads keys and the pipeline, and starts a scheduler.
// ids overrides the default UUIDv7 generator when non-nil.
func NewApp(ctx context.Context, cfg config.Config, ids core.IDGenerator) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	switch cfg.Storage.Driver {
	case "sqlite":
		st, err := storage.OpenSQLite(cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		app.Store = st
		app.closers = append(app.closers, st.Close)
		slog.Info("using sqlite job store", "path", cfg.SQLitePath())
	default:
		st, err := storage.NewFileStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		app.Store = st
		slog.Info("using file job store", "dir", cfg.Storage.DataDir)
	}
	logs, err := storage.NewLogStorage(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open progress logs: %w", err)
	}
	app.Logs = logs

	spec, err := core.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		return nil, err
	}
	pipeline, err := stages.Pipeline(spec, stages.Options{DatasetDir: cfg.DatasetDir()})
	if err != nil {
		return nil, fmt.Errorf("bind pipeline: %w", err)
	}

	runnerOpts := []core.RunnerOption{core.WithStageTimeout(cfg.Scheduler.StageTimeout)}
	schedOpts := []core.SchedulerOption{core.WithMaxConcurrent(cfg.Scheduler.MaxConcurrent)}
	if ids != nil {
		schedOpts = append(schedOpts, core.WithIDGenerator(ids))
	}

	if cfg.Security.SignArtifacts {
		pub, priv, generated, err := security.EnsureKeyPair(cfg.KeyDir())
		if err != nil {
			return nil, fmt.Errorf("load signing keys: %w", err)
		}
		if generated {
			slog.Info("generated new signing key pair", "dir", cfg.KeyDir())
		}
		runnerOpts = append(runnerOpts, core.WithSigner(security.NewSigner(pub, priv)))
	}

	if cfg.Redis.Addr != "" {
		client, err := events.NewRedisClient(ctx, events.RedisConfig{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		notifier := events.NewRedisNotifier(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		runnerOpts = append(runnerOpts, core.WithNotifier(notifier))
		schedOpts = append(schedOpts, core.WithSchedulerNotifier(notifier))
		slog.Info("mirroring job status to redis", "addr", cfg.Redis.Addr)
	}

	runner := core.NewRunner(pipeline, app.Store, app.Logs, runnerOpts...)
	app.Scheduler = core.NewScheduler(app.Store, app.Logs, runner, schedOpts...)
	ok = true
	return app, nil
}

// Close releases storage and client connections. Shut the scheduler down first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
