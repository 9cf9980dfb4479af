package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

type buildResponse struct {
	Status string      `json:"status"`
	Data   BuildResult `json:"data"`
}

func runBuildCommand(t *testing.T, args ...string) (buildResponse, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"build", "--format", "json", "--poll", "5ms"}, args...))

	err := cmd.Execute()
	var resp buildResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp), stdout.String())
	return resp, err
}

func TestBuildSucceeds(t *testing.T) {
	dir := t.TempDir()
	resp, err := runBuildCommand(t, "sentiment classifier for reviews", "--data-dir", dir)
	require.NoError(t, err)

	assert.Equal(t, "ok", resp.Status)
	job := resp.Data.Job
	assert.Equal(t, core.StateSucceeded, job.State)
	require.NotNil(t, resp.Data.Artifact)
	assert.NotEmpty(t, resp.Data.Artifact.Signature)
	assert.NotEmpty(t, resp.Data.Artifact.Digest)

	logs := resp.Data.Logs
	require.NotEmpty(t, logs)
	assert.Equal(t, 1.0, logs[len(logs)-1].Progress)

	assert.FileExists(t, filepath.Join(dir, "jobs", job.ID+".json"))
	assert.FileExists(t, filepath.Join(dir, "logs", job.ID+".log"))
	assert.FileExists(t, filepath.Join(dir, "generated", job.ID+".json"))
	assert.FileExists(t, filepath.Join(dir, "keys", "server.pub"))
}

func TestBuildInvalidArchitecture(t *testing.T) {
	dir := t.TempDir()
	resp, err := runBuildCommand(t, "odd transformer", "--data-dir", dir, "--config-json", `{"heads": 7}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	job := resp.Data.Job
	assert.Equal(t, core.StateFailed, job.State)
	assert.Equal(t, "Invalid architecture specification", job.Reason)
	assert.Nil(t, resp.Data.Artifact)
	assert.NoFileExists(t, filepath.Join(dir, "generated", job.ID+".json"))
}

func TestBuildWithSQLite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MODELFORGE_STORAGE_DRIVER", "sqlite")
	t.Setenv("MODELFORGE_SECURITY_SIGN_ARTIFACTS", "false")

	resp, err := runBuildCommand(t, "image classifier", "--data-dir", dir, "--config-json", `{"type": "cnn", "layers": 4}`)
	require.NoError(t, err)
	assert.Equal(t, core.StateSucceeded, resp.Data.Job.State)
	require.NotNil(t, resp.Data.Artifact)
	assert.Empty(t, resp.Data.Artifact.Signature)
	assert.Equal(t, "cnn", resp.Data.Artifact.ArchitectureSpec["type"])
	assert.FileExists(t, filepath.Join(dir, "modelforge.db"))
}

func TestBuildWithDataset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "datasets"), 0o755))
	records := make([]any, 20)
	for i := range records {
		records[i] = map[string]any{"text": "review", "label": i % 2}
	}
	data, err := json.Marshal(map[string]any{"records": records})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "datasets", "reviews.json"), data, 0o644))

	resp, err := runBuildCommand(t, "review classifier", "--data-dir", dir, "--config-json", `{"dataset_id": "reviews"}`)
	require.NoError(t, err)
	assert.Equal(t, core.StateSucceeded, resp.Data.Job.State)

	resp, err = runBuildCommand(t, "review classifier", "--data-dir", dir, "--config-json", `{"dataset_id": "missing"}`)
	require.Error(t, err)
	assert.Equal(t, core.StateFailed, resp.Data.Job.State)
	assert.Contains(t, resp.Data.Job.Reason, "knowledge-extraction")
}

func TestBuildRejectsBadConfigJSON(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"build", "x", "--data-dir", t.TempDir(), "--config-json", "[1,2]"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
