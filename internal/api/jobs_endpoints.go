package api

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

// Service is the job API the endpoints serve. *core.Scheduler implements it.
type Service interface {
	Submit(ctx context.Context, prompt string, config map[string]any) (core.Job, error)
	List(ctx context.Context) ([]core.Job, error)
	Status(ctx context.Context, id string) (core.Job, error)
	Artifact(ctx context.Context, id string) (core.Artifact, error)
	Logs(ctx context.Context, id string) (iter.Seq2[core.ProgressEntry, error], error)
	Cancel(ctx context.Context, id string) error
	Verify(ctx context.Context, id string) (core.VerifyResult, error)
}

// SubmitRequest is the body of POST /jobs.
type SubmitRequest struct {
	Prompt string         `json:"prompt"`
	Config map[string]any `json:"config,omitempty"`
}

// SubmitResponse acknowledges an accepted job. Status is always "processing":
// the outcome is only known by polling.
type SubmitResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

// JobSummary is one element of GET /jobs.
type JobSummary struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Config    map[string]any `json:"config"`
	State     core.State     `json:"state"`
}

type JobsEndpoints struct {
	SubmitSchemaLoader gojsonschema.JSONLoader
	Service            Service
}

func (j *JobsEndpoints) Register(r chi.Router) {
	r.Post("/jobs", j.submit)
	r.Get("/jobs", j.list)
	r.Get("/jobs/{id}", j.artifact)
	r.Get("/jobs/{id}/logs", j.logs)
	r.Get("/jobs/{id}/status", j.status)
	r.Post("/jobs/{id}/cancel", j.cancel)
	r.Get("/jobs/{id}/verify", j.verify)
}

func (j *JobsEndpoints) submit(w http.ResponseWriter, r *http.Request) {
	req := SubmitRequest{}
	ServeRequest(InboundRequest{
		W:                   w,
		R:                   r,
		ReqBodySchemaLoader: j.SubmitSchemaLoader,
		ReqBodyObj:          &req,
		EndpointLogic: func() (any, error) {
			job, err := j.Service.Submit(r.Context(), req.Prompt, req.Config)
			if err != nil {
				return nil, err
			}
			return SubmitResponse{
				ID:        job.ID,
				Status:    "processing",
				Progress:  0.0,
				CreatedAt: job.CreatedAt,
			}, nil
		},
		SuccessCode: http.StatusAccepted,
	})
}

func (j *JobsEndpoints) list(w http.ResponseWriter, r *http.Request) {
	ServeRequest(InboundRequest{
		W: w,
		R: r,
		EndpointLogic: func() (any, error) {
			jobs, err := j.Service.List(r.Context())
			if err != nil {
				return nil, err
			}
			out := make([]JobSummary, len(jobs))
			for i, job := range jobs {
				cfg := job.Config
				if cfg == nil {
					cfg = map[string]any{}
				}
				out[i] = JobSummary{ID: job.ID, CreatedAt: job.CreatedAt, Config: cfg, State: job.State}
			}
			return out, nil
		},
		SuccessCode: http.StatusOK,
	})
}

func (j *JobsEndpoints) artifact(w http.ResponseWriter, r *http.Request) {
	ServeRequest(InboundRequest{
		W: w,
		R: r,
		EndpointLogic: func() (any, error) {
			return j.Service.Artifact(r.Context(), chi.URLParam(r, "id"))
		},
		SuccessCode: http.StatusOK,
	})
}

func (j *JobsEndpoints) logs(w http.ResponseWriter, r *http.Request) {
	ServeRequest(InboundRequest{
		W: w,
		R: r,
		EndpointLogic: func() (any, error) {
			seq, err := j.Service.Logs(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				return nil, err
			}
			return core.Collect(seq)
		},
		SuccessCode: http.StatusOK,
	})
}

func (j *JobsEndpoints) status(w http.ResponseWriter, r *http.Request) {
	ServeRequest(InboundRequest{
		W: w,
		R: r,
		EndpointLogic: func() (any, error) {
			return j.Service.Status(r.Context(), chi.URLParam(r, "id"))
		},
		SuccessCode: http.StatusOK,
	})
}

func (j *JobsEndpoints) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ServeRequest(InboundRequest{
		W: w,
		R: r,
		EndpointLogic: func() (any, error) {
			if err := j.Service.Cancel(r.Context(), id); err != nil {
				return nil, err
			}
			return map[string]string{"id": id, "status": "cancelling"}, nil
		},
		SuccessCode: http.StatusAccepted,
	})
}

func (j *JobsEndpoints) verify(w http.ResponseWriter, r *http.Request) {
	ServeRequest(InboundRequest{
		W: w,
		R: r,
		EndpointLogic: func() (any, error) {
			return j.Service.Verify(r.Context(), chi.URLParam(r, "id"))
		},
		SuccessCode: http.StatusOK,
	})
}
