package monitor

import (
	"context"
	"errors"
	"time"
)

// SnapshotSource is the port through which the session observes the cluster.
// Implementations are provided by adapters in the outbound layer.
type SnapshotSource interface {
	// ListPodsQuery returns a complete snapshot of the selected pods. Used
	// for the initial observation and for full resyncs after the watch
	// cursor expires.
	ListPodsQuery(ctx context.Context) (*PodsSnapshot, error)

	// NextSnapshotQuery blocks until an observation newer than
	// resourceVersion is available or the source's poll bound elapses, in
	// which case the latest known snapshot is returned unchanged (ingesting
	// it is a no-op). The only ordering guarantee is a monotonic resource
	// version within one successful call sequence.
	NextSnapshotQuery(ctx context.Context, resourceVersion string) (*PodsSnapshot, error)

	// Close releases the underlying stream, if any.
	Close()
}

// SourceFactory mints one SnapshotSource per monitoring session.
type SourceFactory interface {
	NewSnapshotSource(selector Selector) (SnapshotSource, error)
}

// UsageProbe samples resource usage of a pod after it recovered.
type UsageProbe interface {
	PodUsageQuery(ctx context.Context, namespace, name string) (*PodUsage, error)
}

// Observer receives session telemetry. Implementations must be cheap and
// must not block the ingest loop.
type Observer interface {
	SnapshotFetch(outcome FetchOutcome, latency time.Duration)
	Ingested(stats IngestStats)
	SessionFinished(result SessionResult)
}

// NoopObserver discards all telemetry.
type NoopObserver struct{}

func (NoopObserver) SnapshotFetch(FetchOutcome, time.Duration) {}
func (NoopObserver) Ingested(IngestStats)                      {}
func (NoopObserver) SessionFinished(SessionResult)             {}

// TeeObserver fans telemetry out to every given observer, in order.
func TeeObserver(observers ...Observer) Observer {
	return teeObserver(observers)
}

type teeObserver []Observer

func (t teeObserver) SnapshotFetch(outcome FetchOutcome, latency time.Duration) {
	for _, o := range t {
		o.SnapshotFetch(outcome, latency)
	}
}

func (t teeObserver) Ingested(stats IngestStats) {
	for _, o := range t {
		o.Ingested(stats)
	}
}

func (t teeObserver) SessionFinished(result SessionResult) {
	for _, o := range t {
		o.SessionFinished(result)
	}
}

// resourceVersionExpired is a private interface for detecting expired watch
// cursors without importing the adapter package. The condition is
// recoverable: the caller resyncs with a fresh full snapshot.
type resourceVersionExpired interface {
	IsResourceVersionExpired()
}

// sourceUnavailable is a private interface for detecting transient source
// failures without importing the adapter package.
type sourceUnavailable interface {
	IsSourceUnavailable()
}

func isResourceVersionExpired(err error) bool {
	var target resourceVersionExpired

	return errors.As(err, &target)
}

func isSourceUnavailable(err error) bool {
	var target sourceUnavailable

	return errors.As(err, &target)
}
