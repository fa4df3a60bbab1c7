package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

// startSessionRequest carries the selector plus optional per-session tunables.
// Durations are strings with explicit units (e.g. "90s"); empty tunables fall
// back to the registry defaults.
type startSessionRequest struct {
	Selector monitor.Selector `json:"selector"`
	Timeout  string           `json:"timeout,omitempty"`
	Lookback string           `json:"lookback,omitempty"`
	Policy   string           `json:"policy,omitempty"`
}

type startSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type sessionResponse struct {
	Summary monitor.SessionSummary `json:"summary"`
	Result  *monitor.SessionResult `json:"result,omitempty"`
}

type listSessionsResponse struct {
	Sessions []monitor.SessionSummary `json:"sessions"`
}

type recoveryMetricsResponse struct {
	SessionID string                    `json:"sessionId"`
	Metrics   []monitor.RecoveryMetrics `json:"metrics"`
}

type eventHistoryResponse struct {
	SessionID string             `json:"sessionId"`
	LogicalID string             `json:"logicalId"`
	Events    []monitor.PodEvent `json:"events"`
}

type monitoredPodsResponse struct {
	SessionID string                 `json:"sessionId"`
	Pods      []monitor.MonitoredPod `json:"pods"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))

		return
	}

	cfg, err := req.sessionConfig()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)

		return
	}

	handle, err := s.registry.StartMonitoring(r.Context(), req.Selector, cfg)
	if err != nil {
		s.writeError(w, r, startErrorStatus(err), err)

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, startSessionResponse{SessionID: handle})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, listSessionsResponse{Sessions: s.registry.Summaries()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "sessionID")

	summary, err := s.registry.Summary(handle)
	if err != nil {
		s.writeError(w, r, lookupErrorStatus(err), err)

		return
	}

	response := sessionResponse{Summary: summary}
	if result, ok, err := s.registry.Result(handle); err == nil && ok {
		response.Result = result
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "sessionID")

	if err := s.registry.Cancel(handle); err != nil {
		s.writeError(w, r, lookupErrorStatus(err), err)

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, startSessionResponse{SessionID: handle})
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "sessionID")

	metrics, err := s.registry.RecoveryMetrics(handle)
	if err != nil {
		s.writeError(w, r, lookupErrorStatus(err), err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, recoveryMetricsResponse{SessionID: handle, Metrics: metrics})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "sessionID")

	logicalID := r.URL.Query().Get("logicalId")
	if logicalID == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("logicalId query parameter required"))

		return
	}

	events, err := s.registry.EventHistory(handle, logicalID)
	if err != nil {
		s.writeError(w, r, lookupErrorStatus(err), err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, eventHistoryResponse{
		SessionID: handle,
		LogicalID: logicalID,
		Events:    events,
	})
}

func (s *Server) handleSessionPods(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "sessionID")

	pods, err := s.registry.MonitoredPods(handle)
	if err != nil {
		s.writeError(w, r, lookupErrorStatus(err), err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, monitoredPodsResponse{SessionID: handle, Pods: pods})
}

func (req startSessionRequest) sessionConfig() (monitor.SessionConfig, error) {
	var cfg monitor.SessionConfig

	timeout, err := parseAPIDuration("timeout", req.Timeout)
	if err != nil {
		return monitor.SessionConfig{}, err
	}

	lookback, err := parseAPIDuration("lookback", req.Lookback)
	if err != nil {
		return monitor.SessionConfig{}, err
	}

	cfg.Timeout = timeout
	cfg.Lookback = lookback

	if req.Policy != "" {
		policy, err := monitor.ParseCorrelationPolicy(req.Policy)
		if err != nil {
			return monitor.SessionConfig{}, err
		}

		cfg.Policy = policy
	}

	return cfg, nil
}

// parseAPIDuration converts an optional duration field, leaving zero for the
// registry defaults to fill.
func parseAPIDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, value)
	}

	return d, nil
}

// startErrorStatus maps session start failures: caller mistakes are 400s,
// anything else means the cluster snapshot could not be taken.
func startErrorStatus(err error) int {
	if errors.Is(err, monitor.ErrInvalidSelector) || errors.Is(err, monitor.ErrUnknownPolicy) {
		return http.StatusBadRequest
	}

	return http.StatusBadGateway
}

func lookupErrorStatus(err error) int {
	if errors.Is(err, monitor.ErrSessionNotFound) || errors.Is(err, monitor.ErrUnknownLogicalID) {
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode response",
			"traceID", middleware.GetReqID(r.Context()),
			"reason", err,
		)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	logger := s.logger.With(
		"traceID", middleware.GetReqID(r.Context()),
		"status", status,
		"reason", err,
	)

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed")
	} else {
		logger.DebugContext(r.Context(), "request rejected")
	}

	s.writeJSON(w, r, status, errorResponse{Error: err.Error()})
}
