package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PoolTarget names one pod group a pool watches.
type PoolTarget struct {
	Name     string
	Selector Selector
	Config   SessionConfig
}

// Pool runs one session per target side by side and folds their outcomes
// into a single result, the way a chaos run watches several pod groups of
// the same experiment at once.
type Pool struct {
	id       string
	logger   *slog.Logger
	registry *Registry

	mu      sync.Mutex
	handles []string
}

// NewPool wires a pool on top of a registry.
func NewPool(logger *slog.Logger, registry *Registry) *Pool {
	return &Pool{
		id:       uuid.NewString(),
		logger:   logger,
		registry: registry,
	}
}

// ID returns the pool's identifier, used as the merged result's session id.
func (p *Pool) ID() string {
	return p.id
}

// Handles returns the session handles started so far.
func (p *Pool) Handles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.handles))
	copy(out, p.handles)

	return out
}

// Start validates every target, then starts one session per target. On any
// start failure the already started sessions are cancelled.
func (p *Pool) Start(ctx context.Context, targets []PoolTarget) error {
	for _, target := range targets {
		if err := target.Selector.Validate(); err != nil {
			return fmt.Errorf("target %q: %w", target.Name, err)
		}
	}

	for _, target := range targets {
		handle, err := p.registry.StartMonitoring(ctx, target.Selector, target.Config)
		if err != nil {
			p.CancelAll()

			return fmt.Errorf("start target %q: %w", target.Name, err)
		}

		p.mu.Lock()
		p.handles = append(p.handles, handle)
		p.mu.Unlock()

		p.logger.Info("pool target started",
			"poolId", p.id,
			"target", target.Name,
			"sessionId", handle,
		)
	}

	return nil
}

// CancelAll requests cooperative termination of every session in the pool.
func (p *Pool) CancelAll() {
	for _, handle := range p.Handles() {
		if err := p.registry.Cancel(handle); err != nil {
			p.logger.Warn("cancel pool session", "poolId", p.id, "sessionId", handle, "reason", err)
		}
	}
}

// Join waits for every session to reach a terminal state and merges their
// results. The merged status is the worst across sessions, recovery lists
// are concatenated and error strings joined.
func (p *Pool) Join(ctx context.Context) (*SessionResult, error) {
	handles := p.Handles()
	results := make([]*SessionResult, 0, len(handles))

	for _, handle := range handles {
		session, err := p.registry.session(handle)
		if err != nil {
			return nil, err
		}

		result, err := session.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("join session %s: %w", handle, err)
		}

		results = append(results, result)
	}

	return p.merge(results), nil
}

func (p *Pool) merge(results []*SessionResult) *SessionResult {
	merged := &SessionResult{
		SessionID: p.id,
		Status:    SessionSettled,
	}

	var errs []string

	for _, result := range results {
		if merged.StartedAt.IsZero() || result.StartedAt.Before(merged.StartedAt) {
			merged.StartedAt = result.StartedAt
		}

		if result.EndedAt.After(merged.EndedAt) {
			merged.EndedAt = result.EndedAt
		}

		merged.Recovered = append(merged.Recovered, result.Recovered...)
		merged.Unrecovered = append(merged.Unrecovered, result.Unrecovered...)

		if statusSeverity(result.Status) > statusSeverity(merged.Status) {
			merged.Status = result.Status
		}

		if result.Err != "" {
			errs = append(errs, result.Err)
		}
	}

	if merged.StartedAt.IsZero() {
		now := time.Now()
		merged.StartedAt = now
		merged.EndedAt = now
	}

	merged.Err = strings.Join(errs, "; ")

	return merged
}

// statusSeverity orders terminal states from best to worst so that merging
// keeps the most alarming one.
func statusSeverity(status SessionStatus) int {
	switch status {
	case SessionCancelled:
		return 2
	case SessionTimedOut:
		return 1
	default:
		return 0
	}
}
