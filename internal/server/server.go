package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/turbolytics/porter/internal/dq"
	"github.com/turbolytics/porter/internal/pipeline"
	"github.com/turbolytics/porter/internal/registry"
	"github.com/turbolytics/porter/internal/source"
)

var validate = validator.New()

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithRegistry(r registry.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

func WithPipeline(p *pipeline.Pipeline) Option {
	return func(s *Server) {
		s.pipeline = p
	}
}

// Server exposes the registry and pipeline over HTTP. Run creation is
// synchronous; the response carries the terminal run.
type Server struct {
	logger   *zap.Logger
	registry registry.Registry
	pipeline *pipeline.Pipeline
	checker  *dq.Checker
}

func New(opts ...Option) (*Server, error) {
	s := &Server{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if s.pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}

	s.checker = dq.New(dq.WithLogger(s.logger))
	return s, nil
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.logMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/connectors", func(r chi.Router) {
			r.Post("/", s.createConnector)
			r.Get("/{id}", s.getConnector)
			r.Get("/{id}/streams", s.listStreams)
			r.Post("/{id}/discover", s.discover)
			r.Post("/{id}/runs", s.createRun)
		})
		r.Get("/runs/{id}", s.getRun)
		r.Post("/dq-rules", s.createDQRule)
	})

	return r
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				zap.String("from", r.RemoteAddr),
				zap.String("protocol", r.Proto),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createConnectorRequest struct {
	Name   string          `json:"name" validate:"required"`
	Kind   registry.Kind   `json:"kind" validate:"required,oneof=FILE OBJECT_STORE"`
	Config registry.Config `json:"config"`
}

func (s *Server) createConnector(w http.ResponseWriter, r *http.Request) {
	var req createConnectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Config.Validate(req.Kind); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	connector, err := s.registry.CreateConnector(r.Context(), req.Name, req.Kind, req.Config)
	if err != nil {
		s.logger.Error("creating connector", zap.Error(err))
		http.Error(w, "creating connector", http.StatusInternalServerError)
		return
	}

	s.respond(w, http.StatusCreated, connector)
}

func (s *Server) getConnector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	connector, err := s.registry.GetConnector(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "connector not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("fetching connector", zap.Error(err))
		http.Error(w, "fetching connector", http.StatusInternalServerError)
		return
	}

	s.respond(w, http.StatusOK, connector)
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	streams, err := s.registry.StreamsForConnector(r.Context(), id)
	if err != nil {
		s.logger.Error("listing streams", zap.Error(err))
		http.Error(w, "listing streams", http.StatusInternalServerError)
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"streams": streams,
		"count":   len(streams),
	})
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	streams, err := s.pipeline.Discover(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, source.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("discovering streams", zap.Error(err))
		http.Error(w, "discovering streams", http.StatusInternalServerError)
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"streams": streams,
		"count":   len(streams),
	})
}

type createRunRequest struct {
	MappingSpec string `json:"mapping_spec"`
	DQField     string `json:"dq_field"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.registry.CreateRun(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "connector not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("creating run", zap.Error(err))
		http.Error(w, "creating run", http.StatusInternalServerError)
		return
	}

	run, err = s.pipeline.Execute(r.Context(), run, pipeline.RunOptions{
		MappingSpec: req.MappingSpec,
		DQField:     req.DQField,
	})
	if err != nil {
		s.logger.Error("executing run", zap.Error(err))
		http.Error(w, "executing run", http.StatusInternalServerError)
		return
	}

	s.respond(w, http.StatusCreated, run)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.registry.GetRun(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("fetching run", zap.Error(err))
		http.Error(w, "fetching run", http.StatusInternalServerError)
		return
	}

	s.respond(w, http.StatusOK, run)
}

type createDQRuleRequest struct {
	Target    registry.RuleTarget `json:"target" validate:"required,oneof=stream entity"`
	TargetRef string              `json:"target_ref" validate:"required"`
	Field     string              `json:"field" validate:"required"`
	Rule      string              `json:"rule" validate:"required"`
	Severity  registry.Severity   `json:"severity" validate:"omitempty,oneof=error warning"`
}

func (s *Server) createDQRule(w http.ResponseWriter, r *http.Request) {
	var req createDQRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Reject rules the checker cannot evaluate before they are stored.
	if err := s.checker.ValidateRule(req.Rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Severity == "" {
		req.Severity = registry.SeverityError
	}

	rule, err := s.registry.AddDQRule(r.Context(), req.Target, req.TargetRef, req.Field, req.Rule, req.Severity)
	if err != nil {
		s.logger.Error("creating dq rule", zap.Error(err))
		http.Error(w, "creating dq rule", http.StatusInternalServerError)
		return
	}

	s.respond(w, http.StatusCreated, rule)
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", zap.Error(err))
	}
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("starting server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server")
		srv.Shutdown(context.Background())
	}()

	return srv.ListenAndServe()
}
