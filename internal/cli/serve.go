package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/galileoChr/ai-model-builder-app/internal/api"
	"github.com/galileoChr/ai-model-builder-app/internal/config"
)

// NewServeCommand runs the API server from the modelforge command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and job scheduler",
		Long: `Run the API server and job scheduler until interrupted.

Jobs left submitted or running by a previous process are marked failed on
startup. On SIGINT or SIGTERM the server stops accepting jobs and waits up to
server.shutdown_timeout for running jobs before cancelling them.

Example:
  modelforge serve --config modelforge.yaml
  MODELFORGE_STORAGE_DRIVER=sqlite modelforge serve -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(rootOpts, cmd)
		},
	}
}

func runServer(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	setupLogging(cfg.Log, opts.Verbose, cmd.ErrOrStderr())

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("error closing storage", "error", err)
		}
	}()

	if _, err := app.Scheduler.Recover(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to recover interrupted jobs", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	server := api.NewServer(api.Config{
		Port:               cfg.Server.Port,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, app.Scheduler)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := app.Scheduler.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "scheduler shutdown", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}
