package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Runner executes a job's pipeline, recording progress and the final artifact.
type Runner struct {
	pipeline Pipeline
	executor *Executor
	store    JobStore
	logs     ProgressLog
	signer   Signer
	notifier Notifier
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSigner signs every artifact before it is saved.
func WithSigner(s Signer) RunnerOption {
	return func(r *Runner) {
		r.signer = s
	}
}

// WithNotifier reports state changes made by the runner.
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// WithStageTimeout bounds each stage.
func WithStageTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.executor = NewExecutor(d)
	}
}

func NewRunner(pipeline Pipeline, store JobStore, logs ProgressLog, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline: pipeline,
		executor: NewExecutor(DefaultStageTimeout),
		store:    store,
		logs:     logs,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Signer returns the configured artifact signer, or nil.
func (r *Runner) Signer() Signer {
	return r.signer
}

// Run executes every stage in order. Any fault stops the pipeline, is recorded
// as the job's terminal progress entry, moves the job to failed and is returned.
func (r *Runner) Run(ctx context.Context, job Job) error {
	job, err := r.transition(ctx, job.ID, StateRunning, "")
	if err != nil {
		return r.Fail(ctx, job, err)
	}
	if err := r.progress(ctx, job.ID, 0.0, "", "Build started"); err != nil {
		return r.Fail(ctx, job, err)
	}

	jc := JobContext{
		Job: job,
		Input: StageOutput{
			"prompt": job.Prompt,
			"config": job.Config,
		},
		Outputs: make(map[string]StageOutput, len(r.pipeline.Stages)),
	}

	stages := r.pipeline.Stages
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return r.Fail(ctx, job, ErrCancelled)
		}

		slog.Debug("running stage", "job_id", job.ID, "stage", stage.Name, "index", i)
		out, err := r.executor.RunStage(ctx, stage, jc)
		if err != nil {
			return r.Fail(ctx, job, err)
		}
		if stage.Gate {
			if valid, _ := out[ValidKey].(bool); !valid {
				return r.Fail(ctx, job, fmt.Errorf("stage %s: %w", stage.Name, ErrInvalidArchitecture))
			}
		}

		jc.Outputs[stage.Name] = out
		jc.Input = out

		if i == len(stages)-1 {
			return r.complete(ctx, job, stage, out)
		}
		msg := fmt.Sprintf("Stage %s complete", stage.Name)
		if err := r.progress(ctx, job.ID, stage.Checkpoint, stage.Name, msg); err != nil {
			return r.Fail(ctx, job, err)
		}
	}
	// Unreachable for a validated pipeline; an empty one has nothing to build.
	return r.Fail(ctx, job, fmt.Errorf("pipeline has no stages"))
}

// complete stores the artifact, marks the job succeeded and then writes the
// terminal 1.0 entry. Once the last stage has returned, cancellation no longer applies.
func (r *Runner) complete(ctx context.Context, job Job, last Stage, out StageOutput) error {
	ctx = context.WithoutCancel(ctx)

	artifact, err := r.buildArtifact(job, out)
	if err != nil {
		return r.Fail(ctx, job, err)
	}
	if err := r.store.SaveArtifact(ctx, job.ID, artifact); err != nil {
		r.discardArtifact(ctx, job.ID)
		return r.Fail(ctx, job, storageFault("save artifact", job.ID, err))
	}
	if _, err := r.transition(ctx, job.ID, StateSucceeded, ""); err != nil {
		r.discardArtifact(ctx, job.ID)
		return r.Fail(ctx, job, err)
	}
	if err := r.progress(ctx, job.ID, 1.0, last.Name, "Model build complete"); err != nil {
		// The job is already succeeded; a failure entry would contradict it.
		slog.Error("cannot record completion entry", "job_id", job.ID, "error", err)
		return err
	}
	slog.Info("job succeeded", "job_id", job.ID)
	return nil
}

// discardArtifact removes an artifact saved for a run that then failed, so a
// failed job never exposes one.
func (r *Runner) discardArtifact(ctx context.Context, jobID string) {
	if err := r.store.DeleteArtifact(ctx, jobID); err != nil {
		slog.Error("cannot remove artifact of failed job", "job_id", jobID, "error", err)
	}
}

func (r *Runner) buildArtifact(job Job, out StageOutput) (Artifact, error) {
	spec, _ := out[SpecKey].(map[string]any)
	if spec == nil {
		if s, ok := out[SpecKey].(StageOutput); ok {
			spec = s
		}
	}
	if spec == nil {
		return Artifact{}, fmt.Errorf("final stage output has no %s", SpecKey)
	}
	build := make(map[string]any, len(out))
	for k, v := range out {
		if k != SpecKey {
			build[k] = v
		}
	}

	a := Artifact{
		JobID:            job.ID,
		ArchitectureSpec: spec,
		Build:            build,
		CreatedAt:        r.now().UTC(),
	}
	digest, err := a.ComputeDigest()
	if err != nil {
		return Artifact{}, err
	}
	a.Digest = digest
	if r.signer != nil {
		sig, pub, err := r.signer.Sign(digest)
		if err != nil {
			return Artifact{}, fmt.Errorf("sign artifact: %w", err)
		}
		a.Signature = sig
		a.PublicKey = pub
	}
	return a, nil
}

// Fail records cause as the job's terminal failure: a negative progress entry
// first, then the failed state. It returns cause so callers can keep their own books.
// Bookkeeping uses a context detached from cancellation so a cancelled job still
// gets its failure recorded.
func (r *Runner) Fail(ctx context.Context, job Job, cause error) error {
	ctx = context.WithoutCancel(ctx)
	msg := failureMessage(cause)

	if err := r.progress(ctx, job.ID, FailedProgress, "", msg); err != nil && !errors.Is(err, ErrLogClosed) {
		slog.Error("cannot record failure entry", "job_id", job.ID, "error", err)
	}
	if _, err := r.transition(ctx, job.ID, StateFailed, msg); err != nil && !errors.Is(err, ErrInvalidTransition) {
		slog.Error("cannot mark job failed", "job_id", job.ID, "error", err)
	}
	slog.Warn("job failed", "job_id", job.ID, "error", cause)
	return cause
}

func (r *Runner) progress(ctx context.Context, jobID string, fraction float64, stage, msg string) error {
	entry := ProgressEntry{
		Timestamp: r.now().UTC(),
		Progress:  fraction,
		Stage:     stage,
		Message:   msg,
	}
	if err := r.logs.Append(ctx, jobID, entry); err != nil {
		return storageFault("append progress", jobID, err)
	}
	return nil
}

func (r *Runner) transition(ctx context.Context, jobID string, to State, reason string) (Job, error) {
	job, err := r.store.UpdateState(ctx, jobID, to, reason)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return Job{ID: jobID}, err
		}
		return Job{ID: jobID}, storageFault("update state", jobID, err)
	}
	if r.notifier != nil {
		if nerr := r.notifier.JobChanged(ctx, job); nerr != nil {
			slog.Warn("notify job change", "job_id", jobID, "state", to, "error", nerr)
		}
	}
	return job, nil
}

func storageFault(op, jobID string, err error) error {
	if IsStorageError(err) {
		return err
	}
	return &StorageError{Op: op, JobID: jobID, Err: err}
}
