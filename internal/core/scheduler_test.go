package core_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

func newScheduler(t *testing.T, e env, p core.Pipeline, opts ...core.SchedulerOption) *core.Scheduler {
	t.Helper()
	runner := core.NewRunner(p, e.store, e.logs, core.WithStageTimeout(5*time.Second))
	opts = append([]core.SchedulerOption{core.WithIDGenerator(core.NewSequenceGenerator("model_"))}, opts...)
	s := core.NewScheduler(e.store, e.logs, runner, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func waitTerminal(t *testing.T, s *core.Scheduler, id string) core.Job {
	t.Helper()
	var job core.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = s.Status(context.Background(), id)
		if err != nil || !job.State.Terminal() {
			return false
		}
		return lastEntryTerminal(s, id)
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

// lastEntryTerminal reports whether the job's log has its closing entry yet.
func lastEntryTerminal(s *core.Scheduler, id string) bool {
	seq, err := s.Logs(context.Background(), id)
	if err != nil {
		return false
	}
	entries, err := core.Collect(seq)
	return err == nil && len(entries) > 0 && entries[len(entries)-1].Terminal()
}

// echoPrompt builds a spec that carries the job's own prompt.
var echoPrompt core.StageFunc = func(_ context.Context, jc core.JobContext) (core.StageOutput, error) {
	return core.StageOutput{"architecture_spec": map[string]any{"prompt": jc.Job.Prompt}}, nil
}

func TestSubmitReturnsBeforeRunning(t *testing.T) {
	e := newEnv(t)
	release := make(chan struct{})
	p := fourStages(validOK, func(ctx context.Context, jc core.JobContext) (core.StageOutput, error) {
		<-release
		return echoPrompt(ctx, jc)
	})
	s := newScheduler(t, e, p)

	job, err := s.Submit(context.Background(), "build a classifier", map[string]any{"layers": 4})
	require.NoError(t, err)
	assert.Equal(t, "model_0001", job.ID)
	assert.Equal(t, core.StateSubmitted, job.State)

	got, err := s.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, got.State.Terminal())
	_, err = s.Artifact(context.Background(), job.ID)
	assert.ErrorIs(t, err, core.ErrNotFound, "no artifact before the job succeeds")

	close(release)
	done := waitTerminal(t, s, job.ID)
	assert.Equal(t, core.StateSucceeded, done.State)

	seq, err := s.Logs(context.Background(), job.ID)
	require.NoError(t, err)
	entries, err := core.Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, "Job submitted", entries[0].Message)
	assert.Equal(t, 1.0, entries[len(entries)-1].Progress)

	res, err := s.Verify(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, res.LogVerified)
	assert.True(t, res.ArtifactVerified)
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	s := newScheduler(t, newEnv(t), fourStages(validOK, echoPrompt))
	for _, prompt := range []string{"", "   \n\t"} {
		_, err := s.Submit(context.Background(), prompt, nil)
		assert.ErrorIs(t, err, core.ErrInvalidRequest)
	}
	jobs, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestConcurrentSubmissionsStayIsolated(t *testing.T) {
	e := newEnv(t)
	s := newScheduler(t, e, fourStages(validOK, echoPrompt), core.WithMaxConcurrent(3))

	const n = 12
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.Submit(context.Background(), fmt.Sprintf("prompt %d", i), nil)
			if assert.NoError(t, err) {
				ids[i] = job.ID
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true

		job := waitTerminal(t, s, id)
		require.Equal(t, core.StateSucceeded, job.State)
		assert.Equal(t, fmt.Sprintf("prompt %d", i), job.Prompt)

		artifact, err := s.Artifact(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, job.Prompt, artifact.ArchitectureSpec["prompt"])
		assert.Equal(t, id, artifact.JobID)
	}

	jobs, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, n)
}

func TestMaxConcurrentIsRespected(t *testing.T) {
	e := newEnv(t)
	var running, peak atomic.Int32
	slow := func(ctx context.Context, jc core.JobContext) (core.StageOutput, error) {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return echoPrompt(ctx, jc)
	}
	s := newScheduler(t, e, fourStages(validOK, slow), core.WithMaxConcurrent(1))

	var ids []string
	for i := 0; i < 4; i++ {
		job, err := s.Submit(context.Background(), "build", nil)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		assert.Equal(t, core.StateSucceeded, waitTerminal(t, s, id).State)
	}
	assert.Equal(t, int32(1), peak.Load())
}

func TestFailedJobHasNoArtifact(t *testing.T) {
	e := newEnv(t)
	s := newScheduler(t, e, fourStages(output("valid", false), echoPrompt))

	job, err := s.Submit(context.Background(), "build", nil)
	require.NoError(t, err)
	done := waitTerminal(t, s, job.ID)
	assert.Equal(t, core.StateFailed, done.State)
	assert.Equal(t, "Invalid architecture specification", done.Reason)

	_, err = s.Artifact(context.Background(), job.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	res, err := s.Verify(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, res.LogVerified)
	assert.False(t, res.ArtifactVerified)
}

func TestCancel(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{}, 4)
	blocking := func(ctx context.Context, _ core.JobContext) (core.StageOutput, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := newScheduler(t, e, fourStages(validOK, blocking), core.WithMaxConcurrent(1))

	running, err := s.Submit(context.Background(), "first", nil)
	require.NoError(t, err)
	<-started
	queued, err := s.Submit(context.Background(), "second", nil)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), queued.ID))
	require.NoError(t, s.Cancel(context.Background(), running.ID))

	for _, id := range []string{running.ID, queued.ID} {
		job := waitTerminal(t, s, id)
		assert.Equal(t, core.StateFailed, job.State)
		assert.Equal(t, "Job cancelled", job.Reason)
	}

	err = s.Cancel(context.Background(), running.ID)
	assert.ErrorIs(t, err, core.ErrJobFinished)
	err = s.Cancel(context.Background(), "model_9999")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRecoverFailsInterruptedJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	submitted := e.createJob(t, "model_old1")
	running := e.createJob(t, "model_old2")
	_, err := e.store.UpdateState(ctx, running.ID, core.StateRunning, "")
	require.NoError(t, err)
	finished := e.createJob(t, "model_old3")
	_, err = e.store.UpdateState(ctx, finished.ID, core.StateFailed, "earlier")
	require.NoError(t, err)

	s := newScheduler(t, e, fourStages(validOK, echoPrompt))
	n, err := s.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{submitted.ID, running.ID} {
		job, err := s.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.StateFailed, job.State)
		assert.Equal(t, "Job interrupted before completion", job.Reason)

		entries := e.entries(t, id)
		assert.Equal(t, core.FailedProgress, entries[len(entries)-1].Progress)
	}
	job, err := s.Status(ctx, finished.ID)
	require.NoError(t, err)
	assert.Equal(t, "earlier", job.Reason)
}

func TestShutdown(t *testing.T) {
	e := newEnv(t)
	blocking := func(ctx context.Context, _ core.JobContext) (core.StageOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := newScheduler(t, e, fourStages(validOK, blocking))

	job, err := s.Submit(context.Background(), "build", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)

	got, err := s.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got.State, "shutdown waits for the cancelled job to record its failure")
	assert.Equal(t, "Job cancelled", got.Reason)

	_, err = s.Submit(context.Background(), "late", nil)
	assert.ErrorIs(t, err, core.ErrShuttingDown)
}

func TestLogsAndVerifyUnknownJob(t *testing.T) {
	s := newScheduler(t, newEnv(t), fourStages(validOK, echoPrompt))
	_, err := s.Logs(context.Background(), "model_missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.Verify(context.Background(), "model_missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.Status(context.Background(), "model_missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// closingGenerator shuts the scheduler down while Submit is between its
// shutdown check and dispatch.
type closingGenerator struct {
	s *core.Scheduler
}

func (g *closingGenerator) Generate() string {
	_ = g.s.Shutdown(context.Background())
	return "model_late"
}

func TestSubmitRacingShutdownFailsJob(t *testing.T) {
	e := newEnv(t)
	gen := &closingGenerator{}
	s := newScheduler(t, e, fourStages(validOK, echoPrompt), core.WithIDGenerator(gen))
	gen.s = s

	_, err := s.Submit(context.Background(), "build", nil)
	require.ErrorIs(t, err, core.ErrShuttingDown)

	job, err := s.Status(context.Background(), "model_late")
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, job.State, "a stored but undispatched job is not left submitted")
	entries := e.entries(t, "model_late")
	assert.Equal(t, core.FailedProgress, entries[len(entries)-1].Progress)
}
