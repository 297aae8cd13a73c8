// Package httpapi exposes the pipeline's run/status/result endpoints
// over HTTP, the Go analogue of the reference FastAPI router: an
// in-memory job map guarded by a mutex, with verification runs kicked
// off on their own goroutine so the HTTP handler returns immediately.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/echelon-labs/verify/infrastructure/metrics"
	"github.com/echelon-labs/verify/infrastructure/ratelimit"
	"github.com/echelon-labs/verify/internal/app/domain"
	"github.com/echelon-labs/verify/internal/app/services/pipeline"
	"github.com/echelon-labs/verify/pkg/config"
	"github.com/echelon-labs/verify/pkg/logger"
)

// Status values form the closed set the external web façade contract
// requires.
const (
	StatusPending    = "pending"
	StatusIngesting  = "ingesting"
	StatusInvoking   = "invoking"
	StatusScoring    = "scoring"
	StatusCertifying = "certifying"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// RunRequest is the start-request body.
type RunRequest struct {
	RepoURL     string              `json:"repo_url"`
	Construct   config.OracleConfig `json:"construct"`
	Scoring     config.ScoringConfig `json:"scoring,omitempty"`
	MinReplays  int                 `json:"min_replays,omitempty"`
	ConstructID string              `json:"construct_id,omitempty"`
	AuthToken   string              `json:"auth_token,omitempty"`
	Limit       int                 `json:"limit,omitempty"`
}

// RunStatus is returned by /run and polled via /status/{job_id}.
type RunStatus struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// RunResult is returned by /result/{job_id} once a job completes.
type RunResult struct {
	JobID       string                          `json:"job_id"`
	Certificate domain.CalibrationCertificate   `json:"certificate"`
	CompletedAt time.Time                       `json:"completed_at"`
}

// OrchestratorFactory builds an Orchestrator for one run request. The
// server depends on this rather than on pipeline.New directly so it
// never has to know how to construct an oracle adapter or scorer.
type OrchestratorFactory func(req RunRequest) (*pipeline.Orchestrator, error)

// Server holds the in-memory job store and the factory used to build
// an orchestrator per run.
type Server struct {
	mu        sync.Mutex
	jobs      map[string]*RunStatus
	results   map[string]domain.CalibrationCertificate
	buildFunc OrchestratorFactory
	limiter   *ratelimit.RateLimiter
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// NewServer constructs a Server; cfg controls the command server's
// inbound rate limit.
func NewServer(cfg config.ServerConfig, buildFunc OrchestratorFactory, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Server{
		jobs:      make(map[string]*RunStatus),
		results:   make(map[string]domain.CalibrationCertificate),
		buildFunc: buildFunc,
		limiter: ratelimit.New(ratelimit.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}),
		log: log,
		// Unregistered by default: repeated NewServer calls (as in
		// tests) must not collide on the default Prometheus registerer.
		// Production entrypoints should call WithMetrics(metrics.New()).
		metrics: metrics.NewWithRegistry(nil),
	}
}

// WithMetrics overrides the server's Metrics instance, useful for tests
// that want an isolated Prometheus registry instead of the default one.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	return s
}

// Router builds the chi router exposing the verification endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.recordAPIRequest)

	r.Route("/api/verification", func(r chi.Router) {
		r.With(s.rateLimit).Post("/run", s.handleRun)
		r.Get("/status/{jobID}", s.handleStatus)
		r.Get("/result/{jobID}", s.handleResult)
	})
	return r
}

func (s *Server) recordAPIRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics != nil {
			s.metrics.RecordAPIRequest(r.URL.Path, http.StatusText(ww.Status()))
		}
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	status := &RunStatus{
		JobID:     jobID,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[jobID] = status
	s.mu.Unlock()

	go s.runVerification(jobID, req)

	writeJSON(w, http.StatusAccepted, status)
}

// runVerification drives one job on its own goroutine, translating the
// orchestrator's progress callback and terminal state into the status
// map the poller reads.
func (s *Server) runVerification(jobID string, req RunRequest) {
	s.setStatus(jobID, StatusIngesting, 0, 0, "")

	orch, err := s.buildFunc(req)
	if err != nil {
		s.setStatus(jobID, StatusFailed, 0, 0, err.Error())
		return
	}
	orch = orch.WithMetrics(s.metrics)

	s.setStatus(jobID, StatusScoring, 0, 0, "")

	progress := func(completed, total int) {
		s.mu.Lock()
		if st, ok := s.jobs[jobID]; ok {
			st.Progress = completed
			st.Total = total
		}
		s.mu.Unlock()
	}

	cert, err := orch.Run(context.Background(), progress)
	if err != nil {
		s.log.WithField("job_id", jobID).WithField("err", err).Error("verification run failed")
		s.setStatus(jobID, StatusFailed, 0, 0, err.Error())
		return
	}

	s.mu.Lock()
	s.results[jobID] = cert
	if st, ok := s.jobs[jobID]; ok {
		st.Status = StatusCompleted
	}
	s.mu.Unlock()
}

func (s *Server) setStatus(jobID, status string, progress, total int, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	if !ok {
		return
	}
	st.Status = status
	if progress > 0 || total > 0 {
		st.Progress = progress
		st.Total = total
	}
	if errMsg != "" {
		st.Error = errMsg
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	s.mu.Lock()
	status, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	s.mu.Lock()
	status, jobExists := s.jobs[jobID]
	cert, resultExists := s.results[jobID]
	s.mu.Unlock()

	if !jobExists {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if status.Status != StatusCompleted || !resultExists {
		http.Error(w, "job not yet completed", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, RunResult{
		JobID:       jobID,
		Certificate: cert,
		CompletedAt: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
