package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/goldbtc-metrics/internal/circuitbreaker"
	"github.com/yourorg/goldbtc-metrics/internal/derive"
	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/series"
	"github.com/yourorg/goldbtc-metrics/internal/validation"
)

// userResponse joins the derived metrics with the wallet's transaction
// history, which the dashboard renders as-is.
type userResponse struct {
	*model.DerivedMetrics
	Deposits    []model.Deposit    `json:"deposits"`
	Withdrawals []model.Withdrawal `json:"withdrawals"`
}

// routes builds the HTTP mux with rate limiting and per-request metrics
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/circuit", s.handleCircuit)

	mux.HandleFunc("/api/protocol", s.instrument("protocol", s.handleProtocol))
	mux.HandleFunc("/api/user/", s.instrument("user", s.handleUser))
	mux.HandleFunc("/api/series", s.instrument("series", s.handleSeries))
	mux.HandleFunc("/api/rebalances", s.instrument("rebalances", s.handleRebalances))

	return mux
}

// instrument wraps an API handler with rate limiting, timing and counting
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit.Allow() {
			s.metrics.requestCounter.WithLabelValues(endpoint, "throttled").Inc()
			s.errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		start := time.Now()
		next(w, r)
		s.metrics.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		s.metrics.requestCounter.WithLabelValues(endpoint, "handled").Inc()
	}
}

// handleHealth is a simple liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.metrics.circuitState.Set(float64(s.breaker.GetState()))

	status := map[string]interface{}{
		"status":  "operational",
		"uptime":  time.Since(startTime).String(),
		"network": s.cfg.Network,
		"configuration": map[string]interface{}{
			"poll_interval":  s.cfg.PollInterval.String(),
			"snapshot_count": s.cfg.SnapshotCount,
			"asset0":         s.cfg.Asset0Symbol,
			"asset1":         s.cfg.Asset1Symbol,
		},
		"circuit_state": s.breaker.GetState(),
		"exporter":      s.exporter.Status(),
	}

	if derived := s.store.Derived(); derived != nil {
		status["last_derived_at"] = time.Unix(derived.CollectedAt, 0).UTC().Format(time.RFC3339)
	}
	if s.attestor != nil {
		status["attestation_public_key"] = s.attestor.PublicKey()
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleCircuit allows viewing and resetting the circuit breaker
func (s *Server) handleCircuit(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"state": s.breaker.GetState(),
	}

	if r.Method == http.MethodPost && r.URL.Query().Get("action") == "reset" {
		s.breaker.Reset()
		response["state"] = circuitbreaker.StateClosed
		response["message"] = "Circuit breaker reset"
	}

	if lastGood := s.breaker.LastGoodMetrics(); lastGood != nil {
		response["last_good_at"] = time.Unix(lastGood.CollectedAt, 0).UTC().Format(time.RFC3339)
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleProtocol serves the current derived metrics. While the breaker is
// open, the last published set keeps being served.
func (s *Server) handleProtocol(w http.ResponseWriter, r *http.Request) {
	derived := s.store.Derived()
	if derived == nil {
		derived = s.breaker.LastGoodMetrics()
	}
	if derived == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "No metrics derived yet")
		return
	}

	if s.attestor != nil {
		signed, err := s.attestor.Sign(derived)
		if err != nil {
			logrus.Warnf("Failed to sign metrics: %v", err)
		} else {
			s.writeJSON(w, http.StatusOK, signed)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, derived)
}

// handleUser serves user-specific metrics for /api/user/{address}
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimPrefix(r.URL.Path, "/api/user/")
	if !common.IsHexAddress(address) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid wallet address")
		return
	}

	snap := s.store.Snapshot()
	prices, ok := s.store.Prices()
	if snap == nil || !ok {
		s.errorResponse(w, http.StatusServiceUnavailable, "Protocol state not available yet")
		return
	}

	position, err := s.users.FetchPosition(r.Context(), address)
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, "Failed to fetch user position")
		return
	}
	if position != nil {
		if err := validation.ValidatePosition(*position); err != nil {
			logrus.Warnf("Rejecting user position: %v", err)
			s.errorResponse(w, http.StatusBadGateway, "Indexer returned an implausible position")
			return
		}
	}

	derived := derive.Derive(snap, &prices, position, s.cfg.Decimals, time.Now())
	if derived == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "No metrics derived yet")
		return
	}

	resp := userResponse{
		DerivedMetrics: derived,
		Deposits:       []model.Deposit{},
		Withdrawals:    []model.Withdrawal{},
	}
	if position != nil {
		resp.Deposits = position.Deposits
		resp.Withdrawals = position.Withdrawals
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleSeries serves chart series for /api/series?metric=tvl|apy|deviation
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	metricKey := r.URL.Query().Get("metric")
	if metricKey == "" {
		metricKey = series.MetricTVL
	}

	var currentAPY *float64
	if derived := s.store.Derived(); derived != nil && metricKey == series.MetricAPY {
		apy := derived.ProtocolAPY
		currentAPY = &apy
	}

	// One read for both, so labels always line up with the points
	dailies := s.store.Dailies()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric": metricKey,
		"series": series.Build(dailies, metricKey, currentAPY),
		"labels": series.Labels(dailies),
	})
}

// handleRebalances serves the recent rebalance history
func (s *Server) handleRebalances(w http.ResponseWriter, r *http.Request) {
	events := s.store.Rebalances()

	if q := r.URL.Query().Get("first"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n < len(events) {
			events = events[:n]
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rebalances": events,
		"count":      len(events),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)
	s.writeJSON(w, statusCode, map[string]interface{}{
		"status": "error",
		"error":  errorMsg,
	})
}

