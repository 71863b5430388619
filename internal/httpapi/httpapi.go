// Package httpapi exposes HOPE's operator-facing HTTP surface: health,
// status, positions, event queries, and the audited circuit-breaker
// reset / kill-switch toggle endpoints (spec §6).
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hopecore/hope/internal/allowlist"
	"github.com/hopecore/hope/internal/health"
	"github.com/hopecore/hope/internal/metrics"
	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/position"
	"github.com/hopecore/hope/internal/risk"
	"github.com/hopecore/hope/internal/storage"
)

// SignalIngestor accepts a Signal off the wire and drives it through
// the gate/decision/execution pipeline. Implemented by the process's
// main wiring, not by this package, so httpapi never imports gate or
// decision directly.
type SignalIngestor interface {
	Ingest(sig model.Signal)
}

// Server wraps the HTTP surface; it owns no goroutines of its own and
// is driven by the caller's net/http.Server.
type Server struct {
	router *mux.Router

	monitor   *health.Monitor
	positions *position.Tracker
	allowlist *allowlist.List
	riskMgr   *risk.Manager
	store     *storage.Store
	metrics   *metrics.Registry
	ingestor  SignalIngestor
}

// New builds the mux.Router with every handler registered. ingestor may
// be nil, in which case /ingest/signal responds 503.
func New(monitor *health.Monitor, positions *position.Tracker, al *allowlist.List, riskMgr *risk.Manager, store *storage.Store, reg *metrics.Registry, ingestor SignalIngestor) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		monitor:   monitor,
		positions: positions,
		allowlist: al,
		riskMgr:   riskMgr,
		store:     store,
		metrics:   reg,
		ingestor:  ingestor,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/positions", s.handlePositions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/circuit-breaker/reset", s.handleCircuitBreakerReset).Methods(http.MethodPost)
	s.router.HandleFunc("/kill-switch/{state}", s.handleKillSwitch).Methods(http.MethodPost)
	s.router.HandleFunc("/ingest/signal", s.handleIngestSignal).Methods(http.MethodPost)
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// handleHealth serves liveness/readiness for orchestration probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Status())
}

// handleStatus serves a richer operator view: health plus allowlist
// snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"health":    s.monitor.Status(),
		"allowlist": s.allowlist.Snapshot(),
	})
}

// handlePositions serves every currently open position.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.positions.All())
}

// handleEvents serves GET /api/events?type=&from=&to= against the
// SQLite index (spec §6).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventType := q.Get("type")

	from := time.Time{}
	to := time.Now().UTC()
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}

	rows, err := s.store.QueryEvents(eventType, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleCircuitBreakerReset is the audited operator override (spec
// §6). Every invocation is logged at warn level regardless of outcome,
// since forcing the breaker closed bypasses the system's own safety
// judgment.
func (s *Server) handleCircuitBreakerReset(w http.ResponseWriter, r *http.Request) {
	log.Warn().Str("remote_addr", r.RemoteAddr).Msg("httpapi: operator forced circuit breaker reset")
	s.riskMgr.ResetCircuitBreaker()
	writeJSON(w, http.StatusOK, map[string]string{"circuit_state": string(s.riskMgr.CircuitState())})
}

// handleKillSwitch toggles the manual kill switch (spec §6).
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	state := mux.Vars(r)["state"]
	on := state == "on"
	if !on && state != "off" {
		http.Error(w, "state must be on or off", http.StatusBadRequest)
		return
	}

	log.Warn().Str("remote_addr", r.RemoteAddr).Str("state", state).Msg("httpapi: operator toggled kill switch")
	s.riskMgr.SetKillSwitch(on, "operator_request")
	writeJSON(w, http.StatusOK, map[string]bool{"kill_switch_on": on})
}

// handleIngestSignal is the Signal Source's HTTP ingestion path (spec
// §6): a Signal posted here is handed to the ingestor, which drives it
// through the gate/decision/execution pipeline the same as a signal
// delivered over the in-process channel. Malformed bodies are rejected
// before ever reaching the pipeline; the Schema guard in the Signal
// Gate still re-validates it.
func (s *Server) handleIngestSignal(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		http.Error(w, "signal ingestion not configured", http.StatusServiceUnavailable)
		return
	}

	var sig model.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		http.Error(w, "invalid signal body: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.ingestor.Ingest(sig)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
