package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// InboundRequest describes how one endpoint reads, validates and answers a request.
type InboundRequest struct {
	W                   http.ResponseWriter
	R                   *http.Request
	ReqBodySchemaLoader gojsonschema.JSONLoader
	ReqBodyObj          any
	EndpointLogic       func() (any, error)
	SuccessCode         int
}

// ServeRequest validates the request body against the schema, decodes it, runs
// the endpoint logic and writes either its result or a mapped error.
func ServeRequest(req InboundRequest) {
	if req.ReqBodySchemaLoader != nil || req.ReqBodyObj != nil {
		if !readAndValidateRequestBody(req.W, req.R, req.ReqBodySchemaLoader, req.ReqBodyObj) {
			return
		}
	}
	respBodyObj, err := req.EndpointLogic()
	if err != nil {
		writeError(req.W, req.R, err)
		return
	}
	WriteAPIResponse(req.W, req.SuccessCode, respBodyObj)
}

func readAndValidateRequestBody(w http.ResponseWriter, r *http.Request, schema gojsonschema.JSONLoader, bodyObj any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Debug("error reading request body", "error", err)
		WriteAPIResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Could not read request body."})
		return false
	}
	if schema != nil {
		result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
		if err != nil {
			// The schema is compiled in, so this is almost always malformed JSON.
			WriteAPIResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Request body is not valid JSON."})
			return false
		}
		if !result.Valid() {
			details := make([]string, len(result.Errors()))
			for i, verr := range result.Errors() {
				details[i] = verr.String()
			}
			WriteAPIResponse(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Request body failed JSON validation: " + strings.Join(details, "; "),
				Details: details,
			})
			return false
		}
	}
	if bodyObj != nil {
		if err := json.Unmarshal(body, bodyObj); err != nil {
			WriteAPIResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Could not decode request body."})
			return false
		}
	}
	return true
}

// StatusCode maps a service error to the HTTP status it is reported with.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, core.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	msg := err.Error()
	switch code {
	case http.StatusNotFound:
		msg = "not found"
	case http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	WriteAPIResponse(w, code, ErrorResponse{Error: msg})
}

// WriteAPIResponse writes response as JSON with statusCode.
func WriteAPIResponse(w http.ResponseWriter, statusCode int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Debug("error writing response body", "error", err)
	}
}
