// Package api serves the job API over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Config controls the listener and CORS policy.
type Config struct {
	Port               int
	CORSAllowedOrigins []string
}

// Server is the HTTP front of the scheduler.
type Server struct {
	handler http.Handler
	http    *http.Server
}

// NewServer routes the job endpoints and /healthz.
func NewServer(config Config, service Service) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(accessLog)

	router.Get("/healthz", checkHealth)
	jobs := &JobsEndpoints{
		SubmitSchemaLoader: SubmitJobSchemaLoader(),
		Service:            service,
	}
	jobs.Register(router)

	origins := config.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(router)

	return &Server{
		handler: handler,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln, speaking HTTP/1.1 and cleartext HTTP/2.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("API server is listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func checkHealth(w http.ResponseWriter, _ *http.Request) {
	WriteAPIResponse(w, http.StatusOK, struct{}{})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
