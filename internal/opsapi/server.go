// Package opsapi exposes the engine's operational HTTP surface: health,
// current trading mode, and the paper adapter's live-tunable slippage/fee
// model. Grounded on the teacher's ops_api.go APIServer, which served the
// same shape (health/mode/paper-config handlers over a plain
// http.ServeMux, guarded by one mutex) for a standalone ops service; here
// it is generalized into a component EngineBridge's host process mounts
// alongside /metrics instead of running as its own binary.
package opsapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/veloz/engine/internal/orders"
	"github.com/veloz/engine/internal/risk"
)

// Mode is the engine's current trading mode, reported by /api/mode.
type Mode string

const (
	ModePaper  Mode = "paper"
	ModeReplay Mode = "replay"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ModeResponse is the /api/mode payload.
type ModeResponse struct {
	Mode Mode `json:"mode"`
}

var tradingMode = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "veloz_trading_mode",
		Help: "Current trading mode (1 for the active mode, 0 otherwise).",
	},
	[]string{"mode"},
)

func init() {
	_ = prometheus.Register(tradingMode)
}

// Server mounts the engine's operational HTTP handlers. It holds a
// RiskEngine pointer so a POST to /api/risk/limits can replace limits
// without restarting the process (that endpoint accepts POST only and does
// not report the current limits), and a PaperAdapter so /api/paper/config
// can retune the simulated fill model live, same as the teacher's
// validatePaperConfig-gated POST handler.
type Server struct {
	mu      sync.Mutex
	mode    Mode
	breaker *risk.CircuitBreaker
	risk    *risk.RiskEngine
	paper   *orders.PaperAdapter
}

// NewServer builds an ops server in the given starting mode.
func NewServer(mode Mode, breaker *risk.CircuitBreaker, re *risk.RiskEngine, paper *orders.PaperAdapter) *Server {
	s := &Server{mode: mode, breaker: breaker, risk: re, paper: paper}
	tradingMode.Reset()
	tradingMode.With(prometheus.Labels{"mode": string(mode)}).Set(1)
	return s
}

// Mux builds the handler tree. Callers mount it under whatever prefix
// they like, or pass it directly to http.ListenAndServe.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/mode", s.modeHandler)
	mux.HandleFunc("/api/paper/config", s.paperConfigHandler)
	mux.HandleFunc("/api/risk/limits", s.riskLimitsHandler)
	return mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

func (s *Server) modeHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, ModeResponse{Mode: s.mode})
	case http.MethodPost:
		var req ModeResponse
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		switch req.Mode {
		case ModePaper, ModeReplay:
		default:
			http.Error(w, "invalid mode", http.StatusBadRequest)
			return
		}
		if s.breaker != nil && s.breaker.State() == risk.BreakerOpen {
			http.Error(w, "mode change blocked while circuit breaker is open", http.StatusConflict)
			return
		}
		if req.Mode != s.mode {
			s.mode = req.Mode
			tradingMode.Reset()
			tradingMode.With(prometheus.Labels{"mode": string(s.mode)}).Set(1)
		}
		writeJSON(w, http.StatusOK, ModeResponse{Mode: s.mode})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) paperConfigHandler(w http.ResponseWriter, r *http.Request) {
	if s.paper == nil {
		http.Error(w, "paper adapter not configured", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.paper.Config())
	case http.MethodPost:
		var cfg orders.PaperAdapterConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := validatePaperConfig(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.paper.SetConfig(cfg)
		writeJSON(w, http.StatusOK, s.paper.Config())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) riskLimitsHandler(w http.ResponseWriter, r *http.Request) {
	if s.risk == nil {
		http.Error(w, "risk engine not configured", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodPost:
		var limits risk.Limits
		if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if limits.AccountBalance < 0 {
			http.Error(w, "account_balance must be non-negative", http.StatusBadRequest)
			return
		}
		s.risk.SetLimits(limits)
		writeJSON(w, http.StatusOK, limits)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func validatePaperConfig(cfg orders.PaperAdapterConfig) error {
	if cfg.SlippageBps < 0 || cfg.MaxSlippageBps < cfg.SlippageBps {
		return fmt.Errorf("max_slippage_bps must be >= slippage_bps")
	}
	if cfg.SpreadCoeff < 0 || cfg.OFICoeff < 0 {
		return fmt.Errorf("slippage coefficients must be non-negative")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
