package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
	"github.com/galileoChr/ai-model-builder-app/internal/stages"
	"github.com/galileoChr/ai-model-builder-app/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	logs, err := storage.NewLogStorage(dir)
	require.NoError(t, err)
	pipeline, err := stages.Pipeline(core.DefaultPipelineSpec(), stages.Options{})
	require.NoError(t, err)

	runner := core.NewRunner(pipeline, store, logs)
	sched := core.NewScheduler(store, logs, runner, core.WithIDGenerator(core.NewSequenceGenerator("model_")))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})

	ts := httptest.NewServer(NewServer(Config{}, sched).Handler())
	t.Cleanup(ts.Close)
	return ts, NewClient(ts.URL)
}

func waitForState(t *testing.T, c *Client, id string) core.Job {
	t.Helper()
	var job core.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = c.Status(context.Background(), id)
		if err != nil || !job.State.Terminal() {
			return false
		}
		entries, err := c.Logs(context.Background(), id)
		return err == nil && len(entries) > 0 && entries[len(entries)-1].Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSubmitAndBuild(t *testing.T) {
	ts, c := newTestServer(t)
	ctx := context.Background()

	resp := post(t, ts.URL+"/jobs", `{"prompt":"Sentiment classifier for product reviews"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, "model_0001", accepted.ID)
	assert.Equal(t, "processing", accepted.Status)
	assert.Equal(t, 0.0, accepted.Progress)

	job := waitForState(t, c, accepted.ID)
	require.Equal(t, core.StateSucceeded, job.State)

	artifact, err := c.Artifact(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, artifact.JobID)
	assert.Equal(t, "transformer", artifact.ArchitectureSpec["type"])
	assert.Equal(t, "built", artifact.Build["status"])

	entries, err := c.Logs(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, 1.0, entries[len(entries)-1].Progress)
	for i := 1; i < len(entries); i++ {
		assert.GreaterOrEqual(t, entries[i].Progress, entries[i-1].Progress)
	}

	res, err := c.Verify(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, res.LogVerified)
	assert.True(t, res.ArtifactVerified)
}

func TestInvalidArchitectureHasNoArtifact(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	accepted, err := c.Submit(ctx, "tiny transformer", map[string]any{"heads": 7})
	require.NoError(t, err)

	job := waitForState(t, c, accepted.ID)
	assert.Equal(t, core.StateFailed, job.State)
	assert.Equal(t, "Invalid architecture specification", job.Reason)

	_, err = c.Artifact(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	entries, err := c.Logs(ctx, job.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, core.FailedProgress, last.Progress)
	assert.Equal(t, "Invalid architecture specification", last.Message)
}

func TestSubmitRejectsBadBodies(t *testing.T) {
	ts, _ := newTestServer(t)
	for name, body := range map[string]string{
		"empty prompt":   `{"prompt":""}`,
		"blank prompt":   `{"prompt":"   "}`,
		"missing prompt": `{"config":{}}`,
		"extra field":    `{"prompt":"x","priority":1}`,
		"config array":   `{"prompt":"x","config":[]}`,
		"not json":       `{prompt`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := post(t, ts.URL+"/jobs", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestUnknownJob(t *testing.T) {
	ts, c := newTestServer(t)
	for _, path := range []string{"/jobs/nope", "/jobs/nope/logs", "/jobs/nope/status", "/jobs/nope/verify"} {
		resp := get(t, ts.URL+path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		var e ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
		assert.Equal(t, "not found", e.Error)
	}
	assert.ErrorIs(t, c.Cancel(context.Background(), "nope"), core.ErrNotFound)

	resp := get(t, ts.URL+"/jobs/..%2F..%2Fetc%2Fpasswd")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListNewestFirst(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	empty, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first, err := c.Submit(ctx, "first model", nil)
	require.NoError(t, err)
	second, err := c.Submit(ctx, "second model", map[string]any{"layers": 2})
	require.NoError(t, err)

	jobs, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
	assert.Equal(t, float64(2), jobs[0].Config["layers"])
	assert.NotNil(t, jobs[1].Config)
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	accepted, err := c.Submit(ctx, "a model", nil)
	require.NoError(t, err)
	waitForState(t, c, accepted.ID)

	err = c.Cancel(ctx, accepted.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.ErrorIs(t, err, core.ErrJobFinished)
}

func TestHealthAndCORS(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://ui.test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

type failingService struct {
	Service
	err error
}

func (f failingService) Submit(context.Context, string, map[string]any) (core.Job, error) {
	return core.Job{}, f.err
}

func (f failingService) Logs(context.Context, string) (iter.Seq2[core.ProgressEntry, error], error) {
	return nil, f.err
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{core.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
		{&core.StorageError{Op: "create job", Err: errors.New("disk on fire")}, http.StatusInternalServerError},
		{core.ErrInvalidRequest, http.StatusBadRequest},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(NewServer(Config{}, failingService{err: tc.err}).Handler())
		resp := post(t, ts.URL+"/jobs", `{"prompt":"x"}`)
		assert.Equal(t, tc.code, resp.StatusCode, tc.err.Error())
		if tc.code == http.StatusInternalServerError {
			var e ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, "internal server error", e.Error)
		}
		ts.Close()
	}

	assert.Equal(t, http.StatusNotFound, StatusCode(&core.StorageError{Op: "get", Err: core.ErrNotFound}))
	assert.Equal(t, http.StatusConflict, StatusCode(core.ErrJobFinished))
}
