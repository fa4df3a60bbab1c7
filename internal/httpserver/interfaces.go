package httpserver

import (
	"context"
	"time"

	"github.com/chaosloop/podwatch/internal/infra/appstate"
	"github.com/chaosloop/podwatch/internal/infra/fetchstats"
	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

// appstater is an internal interface for application state management
type appstater interface {
	GetState() appstate.State
	IsHealthy() bool
	IsReady() bool
	GetUptime() time.Duration
	GetStartTime() time.Time
	FetchStatistics() fetchstats.Statistics
}

// sessionRegistry is the slice of the monitoring registry the sessions API
// consumes.
type sessionRegistry interface {
	StartMonitoring(ctx context.Context, selector monitor.Selector, cfg monitor.SessionConfig) (string, error)
	Summaries() []monitor.SessionSummary
	Summary(handle string) (monitor.SessionSummary, error)
	Result(handle string) (*monitor.SessionResult, bool, error)
	RecoveryMetrics(handle string) ([]monitor.RecoveryMetrics, error)
	EventHistory(handle, logicalID string) ([]monitor.PodEvent, error)
	MonitoredPods(handle string) ([]monitor.MonitoredPod, error)
	Cancel(handle string) error
}
