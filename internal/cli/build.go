package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/galileoChr/ai-model-builder-app/internal/config"
	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	ConfigJSON   string
	DataDir      string
	PollInterval time.Duration

	// IDs overrides the job id generator (for testing).
	IDs core.IDGenerator
}

// BuildResult is what build prints once the job is finished.
type BuildResult struct {
	Job      core.Job             `json:"job"`
	Logs     []core.ProgressEntry `json:"logs"`
	Artifact *core.Artifact       `json:"artifact,omitempty"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build <prompt>",
		Short: "Run one build in-process and wait for it",
		Long: `Run one model build job without a server, against a local data
directory, and wait for it to finish. The job is stored like any other and can
be inspected later by a server using the same data directory.

Example:
  modelforge build "sentiment classifier" --data-dir /tmp/mf
  modelforge build "tiny model" --config-json '{"layers": 1}' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.ConfigJSON, "config-json", "", "job configuration as a JSON object")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "data directory (overrides storage.data_dir)")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll", 100*time.Millisecond, "status poll interval")
	return cmd
}

func runBuild(opts *BuildOptions, prompt string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return out.Error(ExitCommandError, "failed to load configuration", err)
	}
	if opts.DataDir != "" {
		cfg.Storage.DataDir = opts.DataDir
	}
	setupLogging(cfg.Log, opts.Verbose, cmd.ErrOrStderr())

	jobCfg, err := parseConfigJSON(opts.ConfigJSON)
	if err != nil {
		return out.Error(ExitCommandError, "invalid --config-json", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := NewApp(ctx, cfg, opts.IDs)
	if err != nil {
		return out.Error(ExitCommandError, "failed to start", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("error closing storage", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = app.Scheduler.Shutdown(shutdownCtx)
	}()

	job, err := app.Scheduler.Submit(ctx, prompt, jobCfg)
	if err != nil {
		return out.Error(ExitCommandError, "submit failed", err)
	}
	slog.Debug("waiting for job", "job_id", job.ID)

	job, err = waitForJob(ctx, app.Scheduler, job.ID, opts.PollInterval)
	if err != nil {
		if cerr := app.Scheduler.Cancel(context.WithoutCancel(ctx), job.ID); cerr == nil {
			slog.Info("cancelled job", "job_id", job.ID)
		}
		return out.Error(ExitFailure, "build interrupted", err)
	}

	res := BuildResult{Job: job}
	if seq, err := app.Scheduler.Logs(ctx, job.ID); err == nil {
		res.Logs, _ = core.Collect(seq)
	}
	if job.State == core.StateSucceeded {
		artifact, err := app.Scheduler.Artifact(ctx, job.ID)
		if err != nil {
			return out.Error(ExitFailure, "read artifact", err)
		}
		res.Artifact = &artifact
	}

	if err := out.Success(res, func(w io.Writer) {
		printEntries(w, res.Logs)
		fmt.Fprintf(w, "%s %s\n", job.ID, job.State)
		if res.Artifact != nil {
			fmt.Fprintf(w, "digest: %s\n", res.Artifact.Digest)
		}
	}); err != nil {
		return err
	}
	if job.State != core.StateSucceeded {
		return WrapExitError(ExitFailure, "build failed", fmt.Errorf("%s", job.Reason))
	}
	return nil
}

// settlePolls bounds how long waitForJob waits for the closing log entry
// after the job itself is terminal.
const settlePolls = 20

// waitForJob polls until the job reaches a terminal state and its log has the
// closing entry, or ctx ends.
func waitForJob(ctx context.Context, sched *core.Scheduler, id string, every time.Duration) (core.Job, error) {
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	extra := 0
	for {
		job, err := sched.Status(ctx, id)
		if err != nil {
			return core.Job{ID: id}, err
		}
		if job.State.Terminal() {
			if logClosed(ctx, sched, id) || extra >= settlePolls {
				return job, nil
			}
			extra++
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func logClosed(ctx context.Context, sched *core.Scheduler, id string) bool {
	seq, err := sched.Logs(ctx, id)
	if err != nil {
		return false
	}
	entries, err := core.Collect(seq)
	return err == nil && len(entries) > 0 && entries[len(entries)-1].Terminal()
}
