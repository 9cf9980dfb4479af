package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

// APIError is a non-2xx answer from the server. It unwraps to the core error
// the status code stands for, so callers can use errors.Is(err, core.ErrNotFound).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return core.ErrNotFound
	case http.StatusBadRequest:
		return core.ErrInvalidRequest
	case http.StatusConflict:
		return core.ErrJobFinished
	case http.StatusServiceUnavailable:
		return core.ErrShuttingDown
	}
	return nil
}

// Client talks to a running API server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Submit(ctx context.Context, prompt string, config map[string]any) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/jobs", SubmitRequest{Prompt: prompt, Config: config}, &out)
	return out, err
}

func (c *Client) List(ctx context.Context) ([]JobSummary, error) {
	var out []JobSummary
	err := c.do(ctx, http.MethodGet, "/jobs", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, id string) (core.Job, error) {
	var out core.Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+id+"/status", nil, &out)
	return out, err
}

func (c *Client) Logs(ctx context.Context, id string) ([]core.ProgressEntry, error) {
	var out []core.ProgressEntry
	err := c.do(ctx, http.MethodGet, "/jobs/"+id+"/logs", nil, &out)
	return out, err
}

func (c *Client) Artifact(ctx context.Context, id string) (core.Artifact, error) {
	var out core.Artifact
	err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+id+"/cancel", nil, nil)
}

func (c *Client) Verify(ctx context.Context, id string) (core.VerifyResult, error) {
	var out core.VerifyResult
	err := c.do(ctx, http.MethodGet, "/jobs/"+id+"/verify", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
