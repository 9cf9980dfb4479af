package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultMaxConcurrent is the number of jobs allowed to run at once when not configured.
const DefaultMaxConcurrent = 4

// Scheduler turns submissions into running jobs, exactly once each.
//
// Every submitted job gets its own goroutine; a semaphore bounds how many run
// stages at the same time. Jobs waiting for a slot stay submitted.
type Scheduler struct {
	store    JobStore
	logs     ProgressLog
	runner   *Runner
	ids      IDGenerator
	notifier Notifier
	now      func() time.Time
	slots    chan struct{}

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	stopJobs context.CancelFunc
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithIDGenerator overrides the default UUIDv7 job ids.
func WithIDGenerator(g IDGenerator) SchedulerOption {
	return func(s *Scheduler) {
		s.ids = g
	}
}

// WithMaxConcurrent bounds the number of jobs executing stages at once.
func WithMaxConcurrent(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithSchedulerNotifier reports state changes made by the scheduler.
func WithSchedulerNotifier(n Notifier) SchedulerOption {
	return func(s *Scheduler) {
		s.notifier = n
	}
}

// WithSchedulerClock overrides time.Now, for tests.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(store JobStore, logs ProgressLog, runner *Runner, opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:    store,
		logs:     logs,
		runner:   runner,
		ids:      UUIDv7Generator{Prefix: DefaultIDPrefix},
		now:      time.Now,
		slots:    make(chan struct{}, DefaultMaxConcurrent),
		active:   make(map[string]context.CancelFunc),
		baseCtx:  ctx,
		stopJobs: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records a new job and starts it in the background. It returns as soon
// as the job is stored; the pipeline outcome is only visible through polling.
func (s *Scheduler) Submit(ctx context.Context, prompt string, config map[string]any) (Job, error) {
	if strings.TrimSpace(prompt) == "" {
		return Job{}, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Job{}, ErrShuttingDown
	}

	now := s.now().UTC()
	job := Job{
		ID:        s.ids.Generate(),
		Prompt:    prompt,
		Config:    config,
		State:     StateSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			slog.Error("job id collision", "job_id", job.ID)
		}
		return Job{}, storageFault("create job", job.ID, err)
	}
	entry := ProgressEntry{Timestamp: now, Progress: 0.0, Message: "Job submitted"}
	if err := s.logs.Append(ctx, job.ID, entry); err != nil {
		err = storageFault("append progress", job.ID, err)
		s.runner.Fail(ctx, job, err)
		return Job{}, err
	}
	s.notify(ctx, job)

	if err := s.dispatch(job); err != nil {
		// Shutdown won the race; the stored job must not stay submitted.
		s.runner.Fail(ctx, job, err)
		return Job{}, err
	}
	slog.Info("job submitted", "job_id", job.ID)
	return job, nil
}

// dispatch hands job to a background goroutine unless it already has one.
func (s *Scheduler) dispatch(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShuttingDown
	}
	if _, dup := s.active[job.ID]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyDispatched, job.ID)
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.active[job.ID] = cancel
	s.wg.Add(1)
	go s.execute(ctx, cancel, job)
	return nil
}

func (s *Scheduler) execute(ctx context.Context, cancel context.CancelFunc, job Job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
		cancel()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.runner.Fail(ctx, job, fmt.Errorf("internal error: %v", r))
		}
	}()

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.runner.Fail(ctx, job, ErrCancelled)
		return
	}

	// Run records its own failures; the error is only logged here.
	if err := s.runner.Run(ctx, job); err != nil {
		slog.Debug("job run ended with error", "job_id", job.ID, "error", err)
	}
}

// Status returns the latest known record of a job.
func (s *Scheduler) Status(ctx context.Context, id string) (Job, error) {
	return s.store.Get(ctx, id)
}

// List returns every job, newest first.
func (s *Scheduler) List(ctx context.Context) ([]Job, error) {
	return s.store.List(ctx)
}

// Artifact returns the output of a succeeded job. Jobs in any other state have none.
func (s *Scheduler) Artifact(ctx context.Context, id string) (Artifact, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return Artifact{}, err
	}
	if job.State != StateSucceeded {
		return Artifact{}, fmt.Errorf("artifact %s (%s): %w", id, job.State, ErrNotFound)
	}
	return s.store.GetArtifact(ctx, id)
}

// Logs returns the job's progress entries. A job that exists but has not
// logged yet yields an empty sequence rather than ErrNotFound.
func (s *Scheduler) Logs(ctx context.Context, id string) (iter.Seq2[ProgressEntry, error], error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	seq, err := s.logs.ReadAll(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return func(func(ProgressEntry, error) bool) {}, nil
	}
	return seq, err
}

// VerifyResult reports the integrity of a job's log and artifact.
type VerifyResult struct {
	LogVerified      bool   `json:"log_verified"`
	ArtifactVerified bool   `json:"artifact_verified"`
	Error            string `json:"error,omitempty"`
}

// Verify checks the job's progress log chain and, once it exists, its artifact digest and signature.
func (s *Scheduler) Verify(ctx context.Context, id string) (VerifyResult, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return VerifyResult{}, err
	}
	var res VerifyResult
	if err := s.logs.Verify(ctx, id); err != nil {
		res.Error = err.Error()
		return res, nil
	}
	res.LogVerified = true

	artifact, err := s.store.GetArtifact(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return VerifyResult{}, err
	}
	if err := VerifyArtifact(artifact, s.runner.Signer()); err != nil {
		res.Error = err.Error()
		return res, nil
	}
	res.ArtifactVerified = true
	return res, nil
}

// Cancel asks a running or queued job to stop at the next stage boundary.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, id, job.State)
	}
	s.mu.Lock()
	cancel, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		// Not owned by this process; leave it to Recover.
		return fmt.Errorf("%w: %s has no active run", ErrJobFinished, id)
	}
	cancel()
	slog.Info("job cancellation requested", "job_id", id)
	return nil
}

// Recover fails jobs a previous process left submitted or running. There is no
// retry: the caller resubmits if it wants another attempt.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if job.State.Terminal() {
			continue
		}
		s.mu.Lock()
		_, running := s.active[job.ID]
		s.mu.Unlock()
		if running {
			continue
		}
		s.runner.Fail(ctx, job, ErrInterrupted)
		n++
	}
	if n > 0 {
		slog.Info("recovered interrupted jobs", "count", n)
	}
	return n, nil
}

// Shutdown stops accepting submissions and waits for running jobs. If ctx
// expires first, remaining jobs are cancelled and awaited so each records its failure.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.stopJobs()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) notify(ctx context.Context, job Job) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.JobChanged(ctx, job); err != nil {
		slog.Warn("notify job change", "job_id", job.ID, "state", job.State, "error", err)
	}
}
