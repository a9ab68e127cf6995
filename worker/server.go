package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"edit_worker/engine"
	"edit_worker/logging"
	"edit_worker/metrics"
)

const (
	defaultAddr              = ":8000"
	defaultMaxBodyBytes      = 64 << 20
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
	maxRecentJobs            = 100
)

// HealthShuttingDown is reported once shutdown has begun.
const HealthShuttingDown = "shutting_down"

// Job status values returned by /runsync.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// EngineStatus reports the engine lifecycle state.
type EngineStatus interface {
	Status() engine.Status
}

// ServerConfig configures the local API.
type ServerConfig struct {
	Addr              string
	MaxBodyBytes      int64
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server is the local development API. Jobs are serialized: a second
// /runsync request waits for the first to finish.
type Server struct {
	cfg    ServerConfig
	proc   Processor
	engine EngineStatus
	stats  metrics.Collector
	ops    Operations
	logger *logging.Logger

	jobMu  sync.Mutex
	router chi.Router
}

// NewServer creates a Server. eng, stats and ops may be nil.
func NewServer(cfg ServerConfig, proc Processor, eng EngineStatus, stats metrics.Collector, ops Operations, logger *logging.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if ops == nil {
		ops = untracked{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		proc:   proc,
		engine: eng,
		stats:  stats,
		ops:    ops,
		logger: logger.Named("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(NewRequestLogger(s.logger, "/health").Handler)

	r.Post("/runsync", s.handleRunSync)
	r.Get("/health", s.handleHealth)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("local API listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("local API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("local API shutdown: %w", err)
	}
	s.logger.Info("local API stopped")
	return nil
}

// RunSyncResponse is the /runsync reply.
type RunSyncResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleRunSync handles POST /runsync. Job failures are reported in the
// body with status 200; only unreadable requests get a 4xx.
func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	if payload == nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	id, _ := payload["id"].(string)
	if id == "" {
		id = "sync-" + uuid.NewString()
		payload["id"] = id
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	var resp RunSyncResponse
	err := s.ops.WrapOperation(r.Context(), "job", func(ctx context.Context) error {
		out := s.proc.ProcessPayload(ctx, payload)
		if out.Failed() {
			resp = RunSyncResponse{ID: id, Status: StatusFailed, Error: out.Error}
		} else {
			resp = RunSyncResponse{ID: id, Status: StatusCompleted, Output: out}
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, MsgShuttingDown)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthResponse is the /health reply.
type HealthResponse struct {
	Health     string              `json:"health"`
	Version    string              `json:"version,omitempty"`
	Uptime     string              `json:"uptime,omitempty"`
	UptimeSecs float64             `json:"uptime_secs"`
	ActiveJobs int64               `json:"active_jobs"`
	Engine     *engine.Status      `json:"engine,omitempty"`
	Jobs       *metrics.JobStats   `json:"jobs,omitempty"`
	RecentJobs []metrics.JobRecord `json:"recent_jobs,omitempty"`
}

// handleHealth handles GET /health[?recent=N]. The worker answers 503 when
// it is degraded (the last engine load failed or too many jobs in a row
// failed on the worker's side) or shutting down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Health: metrics.HealthRunning}

	if s.stats != nil {
		sys := s.stats.GetSystemStatus()
		resp.Health = sys.Health
		resp.Version = sys.Version
		resp.Uptime = FormatDuration(sys.Uptime)
		resp.UptimeSecs = sys.Uptime.Seconds()

		stats := s.stats.GetJobStats()
		resp.Jobs = &stats

		if n, err := strconv.Atoi(r.URL.Query().Get("recent")); err == nil && n > 0 {
			resp.RecentJobs = s.stats.GetRecentJobs(min(n, maxRecentJobs))
		}
	}

	if s.engine != nil {
		st := s.engine.Status()
		resp.Engine = &st
		if st.State == engine.StateFailedLastAttempt {
			resp.Health = metrics.HealthDegraded
		}
	}

	if st, ok := s.ops.(ShutdownStatus); ok {
		resp.ActiveJobs = st.ActiveOperations()
		if st.IsShuttingDown() {
			resp.Health = HealthShuttingDown
		}
	}

	code := http.StatusOK
	if resp.Health != metrics.HealthRunning {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// ErrorResponse is the body of a request-level failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}
