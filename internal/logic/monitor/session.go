package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errFetchAbandoned marks a fetch given up on because the session was
// cancelled while the call was in flight.
var errFetchAbandoned = errors.New("fetch abandoned after cancellation")

// SessionConfig tunes one monitoring session. Zero values select the
// package defaults.
type SessionConfig struct {
	// Timeout is the observation window.
	Timeout time.Duration
	// Lookback bounds replacement correlation across snapshot gaps.
	Lookback time.Duration
	// Policy orders replacement candidates deterministically.
	Policy CorrelationPolicy
	// BackoffInitial, BackoffMax and BackoffAttempts govern retries on
	// transient source failures.
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	BackoffAttempts int
	// CancelGrace is how long cancellation waits for an in-flight fetch.
	CancelGrace time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultSessionTimeout
	}

	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}

	if c.Policy == "" {
		c.Policy = PolicyEarliestAdded
	}

	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}

	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}

	if c.BackoffAttempts <= 0 {
		c.BackoffAttempts = DefaultBackoffAttempts
	}

	if c.CancelGrace <= 0 {
		c.CancelGrace = DefaultCancelGrace
	}

	return c
}

// Session is one monitoring run over one selector. It owns the ingest loop:
// fetch, track, correlate, settle, strictly sequential. State is never
// reused across runs; a finished session stays readable but inert.
type Session struct {
	id       string
	logger   *slog.Logger
	source   SnapshotSource
	tracker  *Tracker
	observer Observer
	selector Selector
	cfg      SessionConfig

	mu        sync.RWMutex
	status    SessionStatus
	startedAt time.Time
	result    *SessionResult

	cancelCh   chan struct{}
	cancelOnce sync.Once
	doneCh     chan struct{}
}

// NewSession validates the selector and assembles a session around the given
// source. A nil observer disables telemetry.
func NewSession(
	logger *slog.Logger,
	source SnapshotSource,
	selector Selector,
	cfg SessionConfig,
	observer Observer,
) (*Session, error) {
	if err := selector.Validate(); err != nil {
		return nil, err
	}

	if observer == nil {
		observer = NoopObserver{}
	}

	cfg = cfg.withDefaults()

	return &Session{
		id:       uuid.NewString(),
		logger:   logger,
		source:   source,
		tracker:  NewTracker(logger, cfg.Policy, cfg.Lookback),
		observer: observer,
		selector: selector,
		cfg:      cfg,
		status:   SessionIdle,
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// ID returns the session handle.
func (s *Session) ID() string {
	return s.id
}

// Selector returns the selector the session watches.
func (s *Session) Selector() Selector {
	return s.selector
}

// State returns the current state machine position.
func (s *Session) State() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

// Result returns a copy of the terminal result, or false while running.
func (s *Session) Result() (*SessionResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.result == nil {
		return nil, false
	}

	return s.result.clone(), true
}

// RecoveryMetrics returns the current metric set for disrupted pods. Safe
// mid-run; combined with State it distinguishes "still recovering" from
// "failed to recover".
func (s *Session) RecoveryMetrics() []RecoveryMetrics {
	return s.tracker.RecoveryMetrics()
}

// EventHistory returns a copy of one logical pod's recorded events.
func (s *Session) EventHistory(logicalID string) ([]PodEvent, error) {
	return s.tracker.EventHistory(logicalID)
}

// MonitoredPods returns copies of everything the session tracks.
func (s *Session) MonitoredPods() []MonitoredPod {
	return s.tracker.MonitoredPods()
}

// Summary returns the listing form of the session.
func (s *Session) Summary() SessionSummary {
	tracked, disrupted := s.tracker.Counts()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionSummary{
		SessionID: s.id,
		Status:    s.status,
		Selector:  s.selector,
		StartedAt: s.startedAt,
		Tracked:   tracked,
		Disrupted: disrupted,
	}
}

// Cancel requests cooperative termination. Safe to call at any time and from
// any goroutine; the loop notices between fetches, and an in-flight fetch is
// given the configured grace period.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelCh)
	})
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Wait blocks until the session finishes and returns its result.
func (s *Session) Wait(ctx context.Context) (*SessionResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.doneCh:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.result.clone(), nil
}

// Run drives the session to a terminal state and blocks until it gets there.
// It is the only externally blocking call. The returned error is non-nil
// only for usage mistakes (starting twice); operational trouble lands in the
// result instead, so callers always get a definite outcome.
func (s *Session) Run(ctx context.Context) (*SessionResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer close(s.doneCh)
	defer s.source.Close()

	logger := s.logger.With("sessionId", s.id)

	deadline := s.startedAt.Add(s.cfg.Timeout)

	winCtx, cancelWin := context.WithDeadline(ctx, deadline)
	defer cancelWin()

	logger.Info("monitoring session started",
		"timeout", s.cfg.Timeout,
		"lookback", s.cfg.Lookback,
		"policy", string(s.cfg.Policy),
	)

	rv, err := s.resync(winCtx, logger)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return s.finalize(logger, statusForSetupError(err), err), nil
	}

	failures := 0

loop:
	for err == nil {
		select {
		case <-s.cancelCh:
			return s.finalize(logger, SessionCancelled, nil), nil
		default:
		}

		if ctx.Err() != nil {
			return s.finalize(logger, SessionCancelled, context.Cause(ctx)), nil
		}

		if !time.Now().Before(deadline) {
			break
		}

		snap, fetchErr := s.fetchNext(winCtx, rv)

		switch {
		case fetchErr == nil:
			failures = 0

			stats := s.tracker.Ingest(snap)
			s.observer.Ingested(stats)
			rv = snap.ResourceVersion

			if s.tracker.Settled() {
				return s.finalize(logger, SessionSettled, nil), nil
			}
		case errors.Is(fetchErr, errFetchAbandoned):
			return s.finalize(logger, SessionCancelled, nil), nil
		case isResourceVersionExpired(fetchErr):
			logger.Info("watch cursor expired, resyncing", "resourceVersion", rv)

			rv, err = s.resync(winCtx, logger)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					break loop
				}

				return s.finalize(logger, statusForSetupError(err), err), nil
			}
		case !time.Now().Before(deadline):
			// The window closed while the fetch was in flight.
			break loop
		case errors.Is(fetchErr, context.Canceled) && ctx.Err() != nil:
			return s.finalize(logger, SessionCancelled, context.Cause(ctx)), nil
		default:
			failures++
			if failures > s.cfg.BackoffAttempts || !isSourceUnavailable(fetchErr) {
				return s.finalize(logger, SessionTimedOut, fmt.Errorf("%w: %w", ErrSourceExhausted, fetchErr)), nil
			}

			delay := backoffDelay(s.cfg.BackoffInitial, s.cfg.BackoffMax, failures)
			logger.Warn("snapshot source unavailable, backing off",
				"attempt", failures,
				"delay", delay,
				"reason", fetchErr,
			)

			if stop := s.sleep(winCtx, delay); stop != nil {
				if errors.Is(stop, context.DeadlineExceeded) {
					break loop
				}

				return s.finalize(logger, SessionCancelled, nil), nil
			}
		}
	}

	// Window closed. A clean slate means the chaos either never came or
	// fully healed; anything disrupted and not recovered makes this a
	// timeout.
	status := SessionTimedOut
	if s.tracker.AllRecovered() {
		status = SessionSettled
	}

	return s.finalize(logger, status, nil), nil
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.canTransitionTo(SessionRunning) {
		return fmt.Errorf("%w: session %s is %s", ErrAlreadyStarted, s.id, s.status)
	}

	s.status = SessionRunning
	s.startedAt = time.Now()

	return nil
}

// resync fetches a fresh complete snapshot, retrying transient failures with
// backoff, and ingests it. Returns the new resource version cursor.
func (s *Session) resync(ctx context.Context, logger *slog.Logger) (string, error) {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		snap, err := s.source.ListPodsQuery(ctx)
		s.observeFetch(err, time.Since(start))

		if err == nil {
			stats := s.tracker.Ingest(snap)
			s.observer.Ingested(stats)

			return snap.ResourceVersion, nil
		}

		select {
		case <-s.cancelCh:
			return "", ErrCancelled
		default:
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ErrSourceExhausted, ctxErr)
		}

		if attempt > s.cfg.BackoffAttempts || !isSourceUnavailable(err) {
			return "", fmt.Errorf("%w: %w", ErrSourceExhausted, err)
		}

		delay := backoffDelay(s.cfg.BackoffInitial, s.cfg.BackoffMax, attempt)
		logger.Warn("full resync failed, backing off",
			"attempt", attempt,
			"delay", delay,
			"reason", err,
		)

		if stop := s.sleep(ctx, delay); stop != nil {
			return "", stop
		}
	}
}

// fetchNext runs one blocking source call, honoring cancellation with the
// configured grace period. A result arriving inside the grace window is
// still discarded: metrics reflect only events ingested before cancellation.
func (s *Session) fetchNext(ctx context.Context, rv string) (*PodsSnapshot, error) {
	type fetchResult struct {
		snap *PodsSnapshot
		err  error
	}

	ch := make(chan fetchResult, 1)
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	start := time.Now()

	go func() {
		snap, err := s.source.NextSnapshotQuery(fetchCtx, rv)
		ch <- fetchResult{snap: snap, err: err}
	}()

	select {
	case r := <-ch:
		s.observeFetch(r.err, time.Since(start))

		return r.snap, r.err
	case <-s.cancelCh:
		grace := time.NewTimer(s.cfg.CancelGrace)
		defer grace.Stop()

		select {
		case r := <-ch:
			// The late result is still dropped, but the source call happened
			// and stays visible to the fetch telemetry.
			s.observeFetch(r.err, time.Since(start))
		case <-grace.C:
			cancelFetch()
		}

		return nil, errFetchAbandoned
	}
}

func (s *Session) observeFetch(err error, latency time.Duration) {
	switch {
	case err == nil:
		s.observer.SnapshotFetch(FetchOK, latency)
	case isResourceVersionExpired(err):
		s.observer.SnapshotFetch(FetchResync, latency)
	default:
		s.observer.SnapshotFetch(FetchFailure, latency)
	}
}

// sleep waits out a backoff delay, aborting on cancellation or context end.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-s.cancelCh:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) finalize(logger *slog.Logger, status SessionStatus, cause error) *SessionResult {
	s.mu.Lock()

	if s.result != nil {
		out := s.result.clone()
		s.mu.Unlock()

		return out
	}

	res := &SessionResult{
		SessionID: s.id,
		Status:    status,
		StartedAt: s.startedAt,
		EndedAt:   time.Now(),
	}

	if cause != nil {
		res.Err = cause.Error()
	}

	for _, pr := range s.tracker.Results() {
		if pr.State == RecoveryStateRecovered {
			res.Recovered = append(res.Recovered, pr)
		} else {
			res.Unrecovered = append(res.Unrecovered, pr)
		}
	}

	s.status = status
	s.result = res

	out := res.clone()
	s.mu.Unlock()

	logger.Info("monitoring session finished",
		"status", string(status),
		"recovered", len(res.Recovered),
		"unrecovered", len(res.Unrecovered),
		"duration", res.EndedAt.Sub(res.StartedAt).Round(time.Millisecond),
	)

	s.observer.SessionFinished(*out)

	return out
}

// enrichUsage attaches a usage sample to each recovered pod. Best effort.
func (s *Session) enrichUsage(ctx context.Context, probe UsageProbe, logger *slog.Logger) {
	s.mu.RLock()
	res := s.result
	if res != nil {
		res = res.clone()
	}
	s.mu.RUnlock()

	if res == nil {
		return
	}

	for i := range res.Recovered {
		pr := &res.Recovered[i]

		usage, err := probe.PodUsageQuery(ctx, pr.Namespace, pr.PodName)
		if err != nil {
			logger.Debug("pod usage probe failed",
				"pod", pr.PodName,
				"namespace", pr.Namespace,
				"reason", err,
			)

			continue
		}

		pr.Usage = usage
	}

	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
}

// statusForSetupError maps pre-loop failures onto a terminal status.
func statusForSetupError(err error) SessionStatus {
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return SessionCancelled
	}

	return SessionTimedOut
}

// backoffDelay grows exponentially from initial to max with a small jitter,
// so a flock of retries does not stampede the API server.
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	d := max
	if attempt-1 < 30 {
		d = initial << uint(attempt-1)
		if d <= 0 || d > max {
			d = max
		}
	}

	spread := 1 + (rand.Float64()*2-1)*backoffJitter

	return time.Duration(float64(d) * spread)
}
