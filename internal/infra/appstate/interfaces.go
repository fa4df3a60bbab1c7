package appstate

import (
	"time"

	"github.com/chaosloop/podwatch/internal/infra/fetchstats"
)

// healthChecker is an internal interface for health checking
type healthChecker interface {
	IsHealthy() bool
}

// readyChecker is an internal interface for readiness checking
type readyChecker interface {
	IsReady() bool
}

// statusGetter is an internal interface for the status endpoint
type statusGetter interface {
	GetState() State
	GetUptime() time.Duration
	GetStartTime() time.Time
	FetchStatistics() fetchstats.Statistics
}
