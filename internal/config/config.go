package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

// Run modes. Serve exposes the HTTP API and waits for session requests,
// plan runs the targets of a plan file once and exits, drill re-runs the
// plan on a cron schedule until stopped.
const (
	ModeServe = "serve"
	ModePlan  = "plan"
	ModeDrill = "drill"
)

type Config struct {
	// Path to kubeconfig file. Falls back to KUBECONFIG when unset.
	KubeConfig string `env:"PODWATCH_KUBECONFIG"`
	// Kubernetes API server URL. Falls back to KUBERNETES_MASTER when unset.
	KubeMaster string `env:"PODWATCH_KUBE_MASTER"`

	// Log level: debug, info, warn, error.
	LogLevel string `env:"PODWATCH_LOG_LEVEL" envDefault:"info"`
	// Log format: json or text.
	LogFormat string `env:"PODWATCH_LOG_FORMAT" envDefault:"json"`

	// Port for the session API and health endpoints.
	HTTPPort string `env:"PODWATCH_HTTP_PORT" envDefault:"8080"`
	// Port for Prometheus metrics (GET /metrics).
	MetricsPort string `env:"PODWATCH_METRICS_PORT" envDefault:"9090"`

	// Run mode: serve, plan or drill.
	Mode string `env:"PODWATCH_MODE" envDefault:"serve"`
	// Path to the plan file. Required for plan and drill modes.
	PlanPath string `env:"PODWATCH_PLAN_PATH"`
	// Cron expression for drill mode runs (e.g. "0 3 * * *").
	DrillSchedule string `env:"PODWATCH_DRILL_SCHEDULE"`
	// Max jitter added to each scheduled drill run; 0 disables jitter.
	DrillJitterMax time.Duration `env:"PODWATCH_DRILL_JITTER_MAX" envDefault:"0s"`
	// IANA timezone for the drill schedule (e.g. America/New_York). Empty means local time.
	DrillTimezone string `env:"PODWATCH_DRILL_TZ"`

	// Default recovery window for sessions that do not set their own.
	SessionTimeout time.Duration `env:"PODWATCH_SESSION_TIMEOUT" envDefault:"120s"`
	// Default correlation lookback for deleted pods awaiting a replacement.
	Lookback time.Duration `env:"PODWATCH_LOOKBACK" envDefault:"30s"`
	// Default replacement correlation policy: earliest-added or name-prefix.
	CorrelationPolicy string `env:"PODWATCH_CORRELATION_POLICY" envDefault:"earliest-added"`
	// Upper bound on a single snapshot wait before re-emitting the current state.
	PollBound time.Duration `env:"PODWATCH_POLL_BOUND" envDefault:"5s"`
	// Initial delay between retries after a snapshot source failure.
	BackoffInitial time.Duration `env:"PODWATCH_BACKOFF_INITIAL" envDefault:"1s"`
	// Ceiling for the retry delay.
	BackoffMax time.Duration `env:"PODWATCH_BACKOFF_MAX" envDefault:"30s"`
	// Consecutive source failures tolerated before a session gives up.
	BackoffAttempts int `env:"PODWATCH_BACKOFF_ATTEMPTS" envDefault:"5"`
	// Grace period for in-flight snapshot fetches after a cancel.
	CancelGrace time.Duration `env:"PODWATCH_CANCEL_GRACE" envDefault:"2s"`

	// Enrich recovered pods with CPU/memory usage from metrics-server.
	UsageProbeEnabled bool `env:"PODWATCH_USAGE_PROBE_ENABLED" envDefault:"true"`

	// Path checked when entering the running state; if the file exists the
	// process asks itself to terminate. Empty disables the check.
	TerminationFilePath string `env:"PODWATCH_TERMINATION_FILE"`
}

func Load() (*Config, error) {
	// .env is optional and never overrides the real environment.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.KubeConfig == "" {
		cfg.KubeConfig = os.Getenv(envKeyKubeConfigFallback)
	}

	if cfg.KubeMaster == "" {
		cfg.KubeMaster = os.Getenv(envKeyKubeMasterFallback)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SessionDefaults maps the configured tunables onto the session config
// applied to every target that does not override them.
func (c *Config) SessionDefaults() monitor.SessionConfig {
	policy, _ := monitor.ParseCorrelationPolicy(c.CorrelationPolicy)

	return monitor.SessionConfig{
		Timeout:         c.SessionTimeout,
		Lookback:        c.Lookback,
		Policy:          policy,
		BackoffInitial:  c.BackoffInitial,
		BackoffMax:      c.BackoffMax,
		BackoffAttempts: c.BackoffAttempts,
		CancelGrace:     c.CancelGrace,
	}
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeServe:
	case ModePlan, ModeDrill:
		if c.PlanPath == "" {
			return fmt.Errorf("PODWATCH_PLAN_PATH: required in %s mode", c.Mode)
		}

		if c.Mode == ModeDrill && c.DrillSchedule == "" {
			return fmt.Errorf("PODWATCH_DRILL_SCHEDULE: required in drill mode")
		}
	default:
		return fmt.Errorf("PODWATCH_MODE: unknown mode %q", c.Mode)
	}

	if _, err := monitor.ParseCorrelationPolicy(c.CorrelationPolicy); err != nil {
		return fmt.Errorf("PODWATCH_CORRELATION_POLICY: %w", err)
	}

	if c.SessionTimeout < envMinSessionTimeout {
		return fmt.Errorf("PODWATCH_SESSION_TIMEOUT: %s is below minimum %s", c.SessionTimeout, envMinSessionTimeout)
	}

	if c.Lookback < envMinLookback {
		return fmt.Errorf("PODWATCH_LOOKBACK: %s is below minimum %s", c.Lookback, envMinLookback)
	}

	if c.PollBound < envMinPollBound {
		return fmt.Errorf("PODWATCH_POLL_BOUND: %s is below minimum %s", c.PollBound, envMinPollBound)
	}

	if c.BackoffInitial < envMinBackoffInitial {
		return fmt.Errorf("PODWATCH_BACKOFF_INITIAL: %s is below minimum %s", c.BackoffInitial, envMinBackoffInitial)
	}

	if c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("PODWATCH_BACKOFF_MAX: %s is below PODWATCH_BACKOFF_INITIAL %s", c.BackoffMax, c.BackoffInitial)
	}

	if c.BackoffAttempts < 1 {
		return fmt.Errorf("PODWATCH_BACKOFF_ATTEMPTS: must be at least 1, got %d", c.BackoffAttempts)
	}

	if c.CancelGrace < envMinCancelGrace {
		return fmt.Errorf("PODWATCH_CANCEL_GRACE: %s is below minimum %s", c.CancelGrace, envMinCancelGrace)
	}

	if c.DrillJitterMax < 0 {
		return fmt.Errorf("PODWATCH_DRILL_JITTER_MAX: must not be negative, got %s", c.DrillJitterMax)
	}

	return nil
}
