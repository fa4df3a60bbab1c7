package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// usageProbeTimeout bounds the post-run usage enrichment.
	usageProbeTimeout = 10 * time.Second

	// maxRetainedSessions caps how many finished sessions stay queryable.
	maxRetainedSessions = 128
)

// Registry creates sessions, runs them and keeps them addressable by handle
// for collaborators (the HTTP API, the plan runner, telemetry consumers).
type Registry struct {
	logger   *slog.Logger
	factory  SourceFactory
	probe    UsageProbe
	observer Observer
	defaults SessionConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry wires a registry. probe may be nil to skip usage enrichment;
// observer may be nil to disable telemetry. defaults fill unset fields of
// per-session configs.
func NewRegistry(
	logger *slog.Logger,
	factory SourceFactory,
	probe UsageProbe,
	observer Observer,
	defaults SessionConfig,
) *Registry {
	return &Registry{
		logger:   logger,
		factory:  factory,
		probe:    probe,
		observer: observer,
		defaults: defaults.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// StartMonitoring validates the selector, mints a snapshot source and starts
// the session in the background. The returned handle addresses it from then
// on. The session's lifetime is bounded by its own timeout and by Cancel,
// not by the caller's context.
func (r *Registry) StartMonitoring(ctx context.Context, selector Selector, cfg SessionConfig) (string, error) {
	session, err := r.newSession(selector, cfg)
	if err != nil {
		return "", err
	}

	go r.drive(context.WithoutCancel(ctx), session)

	return session.ID(), nil
}

// Run is the blocking variant: it drives the session to a terminal state and
// returns its result.
func (r *Registry) Run(ctx context.Context, selector Selector, cfg SessionConfig) (*SessionResult, error) {
	session, err := r.newSession(selector, cfg)
	if err != nil {
		return nil, err
	}

	return r.runSession(ctx, session)
}

func (r *Registry) newSession(selector Selector, cfg SessionConfig) (*Session, error) {
	cfg = r.mergeDefaults(cfg)

	source, err := r.factory.NewSnapshotSource(selector)
	if err != nil {
		return nil, fmt.Errorf("new snapshot source: %w", err)
	}

	session, err := NewSession(r.logger, source, selector, cfg, r.observer)
	if err != nil {
		source.Close()

		return nil, err
	}

	r.mu.Lock()
	r.pruneLocked()
	r.sessions[session.ID()] = session
	r.mu.Unlock()

	return session, nil
}

func (r *Registry) mergeDefaults(cfg SessionConfig) SessionConfig {
	if cfg.Timeout <= 0 {
		cfg.Timeout = r.defaults.Timeout
	}

	if cfg.Lookback <= 0 {
		cfg.Lookback = r.defaults.Lookback
	}

	if cfg.Policy == "" {
		cfg.Policy = r.defaults.Policy
	}

	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = r.defaults.BackoffInitial
	}

	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = r.defaults.BackoffMax
	}

	if cfg.BackoffAttempts <= 0 {
		cfg.BackoffAttempts = r.defaults.BackoffAttempts
	}

	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = r.defaults.CancelGrace
	}

	return cfg
}

func (r *Registry) drive(ctx context.Context, session *Session) {
	if _, err := r.runSession(ctx, session); err != nil {
		r.logger.Error("session run failed", "sessionId", session.ID(), "reason", err)
	}
}

func (r *Registry) runSession(ctx context.Context, session *Session) (*SessionResult, error) {
	result, err := session.Run(ctx)
	if err != nil {
		return nil, err
	}

	if r.probe != nil && len(result.Recovered) > 0 {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageProbeTimeout)
		session.enrichUsage(probeCtx, r.probe, r.logger)
		cancel()

		if enriched, ok := session.Result(); ok {
			result = enriched
		}
	}

	return result, nil
}

// pruneLocked drops the oldest finished sessions beyond the retention cap.
// Running sessions are never evicted.
func (r *Registry) pruneLocked() {
	if len(r.sessions) < maxRetainedSessions {
		return
	}

	var finished []*Session

	for _, s := range r.sessions {
		if s.State().Terminal() {
			finished = append(finished, s)
		}
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].Summary().StartedAt.Before(finished[j].Summary().StartedAt)
	})

	for _, s := range finished {
		if len(r.sessions) < maxRetainedSessions {
			break
		}

		delete(r.sessions, s.ID())
	}
}

func (r *Registry) session(handle string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
	}

	return s, nil
}

// Summary returns the listing form of one session.
func (r *Registry) Summary(handle string) (SessionSummary, error) {
	s, err := r.session(handle)
	if err != nil {
		return SessionSummary{}, err
	}

	return s.Summary(), nil
}

// Summaries lists all retained sessions, oldest first.
func (r *Registry) Summaries() []SessionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Summary())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}

		return out[i].SessionID < out[j].SessionID
	})

	return out
}

// Result returns the terminal result of a session, or ok=false while it is
// still running.
func (r *Registry) Result(handle string) (*SessionResult, bool, error) {
	s, err := r.session(handle)
	if err != nil {
		return nil, false, err
	}

	res, ok := s.Result()

	return res, ok, nil
}

// RecoveryMetrics returns the current metrics for a session's disrupted pods.
func (r *Registry) RecoveryMetrics(handle string) ([]RecoveryMetrics, error) {
	s, err := r.session(handle)
	if err != nil {
		return nil, err
	}

	return s.RecoveryMetrics(), nil
}

// EventHistory returns one logical pod's event sequence within a session.
func (r *Registry) EventHistory(handle, logicalID string) ([]PodEvent, error) {
	s, err := r.session(handle)
	if err != nil {
		return nil, err
	}

	return s.EventHistory(logicalID)
}

// MonitoredPods returns copies of everything a session tracks.
func (r *Registry) MonitoredPods(handle string) ([]MonitoredPod, error) {
	s, err := r.session(handle)
	if err != nil {
		return nil, err
	}

	return s.MonitoredPods(), nil
}

// Cancel requests cooperative termination of one session.
func (r *Registry) Cancel(handle string) error {
	s, err := r.session(handle)
	if err != nil {
		return err
	}

	s.Cancel()

	return nil
}

// CancelAll cancels every running session.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		s.Cancel()
	}
}

// Name returns the component name for shutdown logging.
func (r *Registry) Name() string {
	return "monitor-registry"
}

// Shutdown cancels all sessions and waits for them to finalize.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.CancelAll()

	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if s.State() == SessionIdle {
			// Never ran; nothing will close its done channel.
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown context done before sessions finished: %w", ctx.Err())
		case <-s.Done():
		}
	}

	return nil
}
