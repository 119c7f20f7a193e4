package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/quantgate/quantgate/internal/backtest"
	"github.com/quantgate/quantgate/internal/decision"
	"github.com/quantgate/quantgate/internal/learning"
)

// StatsProvider exposes learner state to the HTTP surface
type StatsProvider interface {
	GetModuleWeights() map[string]float64
	GetModuleStat(moduleID string) (learning.ModuleStat, bool)
}

// ChecksProvider exposes the last decision's rule-check table
type ChecksProvider interface {
	LastChecks(symbol string) []decision.RuleCheck
}

// Config holds the server timeouts and listen address
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the operational HTTP surface: health, metrics, learner
// weights, and the backtest control endpoints.
type Server struct {
	config     Config
	server     *http.Server
	metrics    *MetricsRegistry
	controller *backtest.Controller
	stats      StatsProvider
	checks     ChecksProvider
	startedAt  time.Time
}

// NewServer creates the HTTP server and wires its routes
func NewServer(config Config, metrics *MetricsRegistry, controller *backtest.Controller, stats StatsProvider, checks ChecksProvider) *Server {
	s := &Server{
		config:     config,
		metrics:    metrics,
		controller: controller,
		stats:      stats,
		checks:     checks,
		startedAt:  time.Now().UTC(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/metrics/summary", s.handleMetricsSummary).Methods(http.MethodGet)
	router.HandleFunc("/weights", s.handleWeights).Methods(http.MethodGet)
	router.HandleFunc("/modules/{id}", s.handleModuleStat).Methods(http.MethodGet)
	router.HandleFunc("/decisions/{symbol}/checks", s.handleDecisionChecks).Methods(http.MethodGet)
	router.HandleFunc("/backtest/start", s.handleBacktestStart).Methods(http.MethodPost)
	router.HandleFunc("/backtest/stop", s.handleBacktestStop).Methods(http.MethodPost)
	router.HandleFunc("/backtest/status", s.handleBacktestStatus).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the route tree for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.metrics.Summary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "learning disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.GetModuleWeights())
}

func (s *Server) handleModuleStat(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "learning disabled")
		return
	}
	id := mux.Vars(r)["id"]
	stat, ok := s.stats.GetModuleStat(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no statistics for module "+id)
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

func (s *Server) handleDecisionChecks(w http.ResponseWriter, r *http.Request) {
	if s.checks == nil {
		writeError(w, http.StatusServiceUnavailable, "decision engine not attached")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	checks := s.checks.LastChecks(symbol)
	if len(checks) == 0 {
		writeError(w, http.StatusNotFound, "no recorded decision for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

func (s *Server) handleBacktestStart(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "backtesting disabled")
		return
	}
	if err := s.controller.TriggerManual(); err != nil {
		if errors.Is(err, backtest.ErrRunActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleBacktestStop(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "backtesting disabled")
		return
	}
	s.controller.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleBacktestStatus(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "backtesting disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.controller.GetStatus())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode http response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
