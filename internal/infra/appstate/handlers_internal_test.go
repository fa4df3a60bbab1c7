package appstate

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chaosloop/podwatch/internal/infra/fetchstats"
)

type stubState struct {
	healthy bool
	ready   bool
	state   State
	uptime  time.Duration
	start   time.Time
	fetches fetchstats.Statistics
}

func (s stubState) IsHealthy() bool { return s.healthy }

func (s stubState) IsReady() bool { return s.ready }

func (s stubState) GetState() State { return s.state }

func (s stubState) GetUptime() time.Duration { return s.uptime }

func (s stubState) GetStartTime() time.Time { return s.start }

func (s stubState) FetchStatistics() fetchstats.Statistics { return s.fetches }

func serveAndAssertStatus(t *testing.T, handler http.HandlerFunc, path string, wantCode int) {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)

	handler.ServeHTTP(rec, req)

	if rec.Code != wantCode {
		t.Errorf("want status %d, got %d", wantCode, rec.Code)
	}
}

//nolint:dupl // healthz and readyz tests follow same pattern for readability
func TestHandleHealthz(t *testing.T) {
	t.Parallel()

	logger := slog.Default()

	t.Run("healthy returns 200", func(t *testing.T) {
		t.Parallel()

		handler := HandleHealthz(logger, stubState{healthy: true})
		serveAndAssertStatus(t, handler, "/-/healthz", http.StatusOK)
	})

	t.Run("unhealthy returns 503", func(t *testing.T) {
		t.Parallel()

		handler := HandleHealthz(logger, stubState{healthy: false})
		serveAndAssertStatus(t, handler, "/-/healthz", http.StatusServiceUnavailable)
	})
}

//nolint:dupl // healthz and readyz tests follow same pattern for readability
func TestHandleReadyz(t *testing.T) {
	t.Parallel()

	logger := slog.Default()

	t.Run("ready returns 200", func(t *testing.T) {
		t.Parallel()

		handler := HandleReadyz(logger, stubState{ready: true})
		serveAndAssertStatus(t, handler, "/-/readyz", http.StatusOK)
	})

	t.Run("not ready returns 503", func(t *testing.T) {
		t.Parallel()

		handler := HandleReadyz(logger, stubState{ready: false})
		serveAndAssertStatus(t, handler, "/-/readyz", http.StatusServiceUnavailable)
	})
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	logger := slog.Default()

	giveState := StateRunning
	giveStartTime := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	giveUptime := 5 * time.Second
	giveFetches := fetchstats.Statistics{OKCount: 7, ResyncCount: 1}

	handler := HandleStatus(logger, stubState{
		state:   giveState,
		uptime:  giveUptime,
		start:   giveStartTime,
		fetches: giveFetches,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/-/status", http.NoBody)

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status %d, got %d", http.StatusOK, rec.Code)
	}

	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("want Content-Type application/json, got %s", rec.Header().Get("Content-Type"))
	}

	var body struct {
		State     string  `json:"state"`
		Uptime    string  `json:"uptime"`
		StartTime string  `json:"startTime"`
		UptimeSec float64 `json:"uptimeSeconds"`
		Fetches   struct {
			OKCount     int `json:"okCount"`
			ResyncCount int `json:"resyncCount"`
		} `json:"fetches"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.State != string(giveState) {
		t.Errorf("want state %q, got %q", giveState, body.State)
	}

	if body.Uptime != giveUptime.String() {
		t.Errorf("want uptime %q, got %q", giveUptime, body.Uptime)
	}

	if body.UptimeSec != giveUptime.Seconds() {
		t.Errorf("want uptimeSeconds %f, got %f", giveUptime.Seconds(), body.UptimeSec)
	}

	if body.Fetches.OKCount != giveFetches.OKCount {
		t.Errorf("want okCount %d, got %d", giveFetches.OKCount, body.Fetches.OKCount)
	}
}
