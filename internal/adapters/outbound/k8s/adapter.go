package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

// defaultPollBound is how long NextSnapshotQuery waits for a watch event
// before returning the unchanged snapshot. Returning periodically keeps the
// caller's clock moving even on a quiet cluster.
const defaultPollBound = 5 * time.Second

// Factory mints one snapshot source per monitoring session, all sharing the
// cluster connection.
type Factory struct {
	logger    *slog.Logger
	clientset kubernetes.Interface
	pollBound time.Duration
}

// NewFactory creates a snapshot source factory. pollBound <= 0 selects the
// default.
func NewFactory(
	logger *slog.Logger,
	clientset kubernetes.Interface,
	pollBound time.Duration,
) *Factory {
	if pollBound <= 0 {
		pollBound = defaultPollBound
	}

	return &Factory{
		logger:    logger,
		clientset: clientset,
		pollBound: pollBound,
	}
}

var _ monitor.SourceFactory = (*Factory)(nil)

// NewSnapshotSource compiles the selector and binds a source to it.
func (f *Factory) NewSnapshotSource(selector monitor.Selector) (monitor.SnapshotSource, error) {
	compiled, err := selector.Compile()
	if err != nil {
		return nil, err
	}

	return &source{
		logger:    f.logger,
		clientset: f.clientset,
		selector:  compiled,
		pollBound: f.pollBound,
		pods:      make(map[monitor.PodKey]monitor.PodObservation),
	}, nil
}

// source maintains a live view of the selected pods from a list plus watch
// stream and serves it as point-in-time snapshots. One session consumes one
// source from a single goroutine; the mutex only covers teardown racing the
// consumer.
type source struct {
	logger    *slog.Logger
	clientset kubernetes.Interface
	selector  *monitor.CompiledSelector
	pollBound time.Duration

	mu      sync.Mutex
	watcher watch.Interface
	pods    map[monitor.PodKey]monitor.PodObservation
	rv      string
}

var _ monitor.SnapshotSource = (*source)(nil)

// ListPodsQuery lists the selected pods and restarts the watch from the
// returned resource version.
func (s *source) ListPodsQuery(ctx context.Context) (*monitor.PodsSnapshot, error) {
	podList, err := s.clientset.CoreV1().Pods(s.selector.Namespace()).List(
		ctx,
		metav1.ListOptions{
			LabelSelector: s.selector.LabelSelector(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("list pods: %w: %w", errSourceUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropWatchLocked()

	s.pods = make(map[monitor.PodKey]monitor.PodObservation, len(podList.Items))
	for i := range podList.Items {
		pod := &podList.Items[i]
		if !s.selector.Matches(pod.Namespace, pod.Name) {
			continue
		}

		obs := toObservation(pod)
		s.pods[obs.Identity.Key()] = obs
	}

	s.rv = podList.ResourceVersion

	return s.snapshotLocked(), nil
}

// NextSnapshotQuery blocks until the next watch event lands or the poll
// bound elapses. The resource version hint seeds the cursor when the source
// has not listed yet.
func (s *source) NextSnapshotQuery(ctx context.Context, resourceVersion string) (*monitor.PodsSnapshot, error) {
	s.mu.Lock()
	if s.rv == "" {
		s.rv = resourceVersion
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.pollBound)
	defer timer.Stop()

	for {
		watcher, err := s.ensureWatch(ctx)
		if err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			s.mu.Lock()
			defer s.mu.Unlock()

			return s.snapshotLocked(), nil
		case event, ok := <-watcher.ResultChan():
			if !ok {
				// The server hung up; re-establish from the current cursor.
				s.dropWatch()

				continue
			}

			if err := s.apply(event); err != nil {
				s.dropWatch()

				return nil, err
			}

			if event.Type == watch.Bookmark {
				continue
			}

			s.mu.Lock()
			defer s.mu.Unlock()

			return s.snapshotLocked(), nil
		}
	}
}

// Close stops the watch stream. Safe to call more than once.
func (s *source) Close() {
	s.dropWatch()
}

func (s *source) ensureWatch(ctx context.Context) (watch.Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return s.watcher, nil
	}

	watcher, err := s.clientset.CoreV1().Pods(s.selector.Namespace()).Watch(
		ctx,
		metav1.ListOptions{
			LabelSelector:       s.selector.LabelSelector(),
			ResourceVersion:     s.rv,
			AllowWatchBookmarks: true,
		},
	)
	if err != nil {
		if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
			return nil, fmt.Errorf("watch pods: %w", errResourceVersionExpired)
		}

		return nil, fmt.Errorf("watch pods: %w: %w", errSourceUnavailable, err)
	}

	s.logger.Debug("pod watch established",
		"namespace", s.selector.Namespace(),
		"labelSelector", s.selector.LabelSelector(),
		"resourceVersion", s.rv,
	)
	s.watcher = watcher

	return watcher, nil
}

// apply folds one watch event into the live pod view.
func (s *source) apply(event watch.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case watch.Added, watch.Modified:
		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			return nil
		}

		s.rv = pod.ResourceVersion

		if !s.selector.Matches(pod.Namespace, pod.Name) {
			return nil
		}

		obs := toObservation(pod)
		s.pods[obs.Identity.Key()] = obs
	case watch.Deleted:
		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			return nil
		}

		s.rv = pod.ResourceVersion
		delete(s.pods, monitor.PodKey{Namespace: pod.Namespace, Name: pod.Name})
	case watch.Bookmark:
		if pod, ok := event.Object.(*corev1.Pod); ok {
			s.rv = pod.ResourceVersion
		}
	case watch.Error:
		err := apierrors.FromObject(event.Object)
		if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
			return fmt.Errorf("watch pods: %w", errResourceVersionExpired)
		}

		return fmt.Errorf("watch pods: %w: %w", errSourceUnavailable, err)
	}

	return nil
}

func (s *source) snapshotLocked() *monitor.PodsSnapshot {
	snap := &monitor.PodsSnapshot{
		Timestamp:       time.Now(),
		ResourceVersion: s.rv,
		Pods:            s.pods,
	}

	return snap.Clone()
}

func (s *source) dropWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropWatchLocked()
}

func (s *source) dropWatchLocked() {
	if s.watcher == nil {
		return
	}

	s.watcher.Stop()
	s.watcher = nil
}
