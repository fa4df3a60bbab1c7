package k8s_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsfake "k8s.io/metrics/pkg/client/clientset/versioned/fake"

	"github.com/chaosloop/podwatch/internal/adapters/outbound/k8s"
	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

func testPod(name, rv string, ready bool) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:            name,
			Namespace:       "default",
			ResourceVersion: rv,
			Labels:          map[string]string{"app": "web"},
			OwnerReferences: []metav1.OwnerReference{
				{Kind: "ReplicaSet", Name: "web-6d4b9", UID: types.UID("uid-1")},
			},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "app", Ready: ready},
			},
		},
	}
}

func newSource(t *testing.T, clientset *fake.Clientset, selector monitor.Selector, pollBound time.Duration) monitor.SnapshotSource {
	t.Helper()

	factory := k8s.NewFactory(slog.Default(), clientset, pollBound)

	source, err := factory.NewSnapshotSource(selector)
	require.NoError(t, err)
	t.Cleanup(source.Close)

	return source
}

func TestSource_ListPodsQuery(t *testing.T) {
	t.Parallel()

	t.Run("lists converted and filtered pods", func(t *testing.T) {
		t.Parallel()

		unlabeled := testPod("web-ccc", "3", true)
		unlabeled.Labels = nil

		clientset := fake.NewClientset(
			testPod("web-aaa", "1", true),
			testPod("web-bbb", "2", false),
			testPod("db-1", "4", true),
			unlabeled,
		)

		source := newSource(t, clientset, monitor.Selector{
			Namespace:     "default",
			LabelSelector: "app=web",
			NamePattern:   "web-.*",
		}, 50*time.Millisecond)

		snap, err := source.ListPodsQuery(t.Context())
		require.NoError(t, err)
		require.Len(t, snap.Pods, 2)

		aaa, ok := snap.Pods[monitor.PodKey{Namespace: "default", Name: "web-aaa"}]
		require.True(t, ok)
		require.True(t, aaa.Ready)
		require.False(t, aaa.DeletionScheduled)
		require.Equal(t, []monitor.OwnerRef{
			{Kind: "ReplicaSet", Name: "web-6d4b9", UID: "uid-1"},
		}, aaa.Identity.OwnerReferences)

		bbb, ok := snap.Pods[monitor.PodKey{Namespace: "default", Name: "web-bbb"}]
		require.True(t, ok)
		require.False(t, bbb.Ready)
	})

	t.Run("a completed pod is not ready", func(t *testing.T) {
		t.Parallel()

		done := testPod("web-aaa", "1", true)
		done.Status.Phase = corev1.PodSucceeded

		clientset := fake.NewClientset(done)
		source := newSource(t, clientset, monitor.Selector{Namespace: "default"}, 50*time.Millisecond)

		snap, err := source.ListPodsQuery(t.Context())
		require.NoError(t, err)

		obs := snap.Pods[monitor.PodKey{Namespace: "default", Name: "web-aaa"}]
		require.False(t, obs.Ready)
	})
}

func TestSource_NextSnapshotQuery(t *testing.T) {
	t.Parallel()

	t.Run("watch events advance the snapshot", func(t *testing.T) {
		t.Parallel()

		clientset := fake.NewClientset(testPod("web-aaa", "1", true))

		watcher := watch.NewFakeWithChanSize(8, false)
		clientset.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(watcher, nil))

		source := newSource(t, clientset, monitor.Selector{Namespace: "default"}, 2*time.Second)

		snap, err := source.ListPodsQuery(t.Context())
		require.NoError(t, err)
		require.Len(t, snap.Pods, 1)

		terminating := testPod("web-aaa", "7", true)
		now := metav1.Now()
		terminating.DeletionTimestamp = &now
		watcher.Modify(terminating)

		snap, err = source.NextSnapshotQuery(t.Context(), snap.ResourceVersion)
		require.NoError(t, err)
		require.Equal(t, "7", snap.ResourceVersion)
		require.True(t, snap.Pods[monitor.PodKey{Namespace: "default", Name: "web-aaa"}].DeletionScheduled)

		watcher.Delete(testPod("web-aaa", "8", false))

		snap, err = source.NextSnapshotQuery(t.Context(), snap.ResourceVersion)
		require.NoError(t, err)
		require.Equal(t, "8", snap.ResourceVersion)
		require.Empty(t, snap.Pods)

		watcher.Add(testPod("web-bbb", "9", false))

		snap, err = source.NextSnapshotQuery(t.Context(), snap.ResourceVersion)
		require.NoError(t, err)
		require.Equal(t, "9", snap.ResourceVersion)
		require.Len(t, snap.Pods, 1)
	})

	t.Run("the poll bound returns the unchanged snapshot", func(t *testing.T) {
		t.Parallel()

		clientset := fake.NewClientset(testPod("web-aaa", "1", true))

		watcher := watch.NewFakeWithChanSize(8, false)
		clientset.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(watcher, nil))

		source := newSource(t, clientset, monitor.Selector{Namespace: "default"}, 40*time.Millisecond)

		first, err := source.ListPodsQuery(t.Context())
		require.NoError(t, err)

		start := time.Now()
		snap, err := source.NextSnapshotQuery(t.Context(), first.ResourceVersion)
		require.NoError(t, err)
		require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
		require.Equal(t, first.ResourceVersion, snap.ResourceVersion)
		require.Len(t, snap.Pods, 1)
	})

	t.Run("an expired cursor asks for a resync", func(t *testing.T) {
		t.Parallel()

		clientset := fake.NewClientset(testPod("web-aaa", "1", true))

		watcher := watch.NewFakeWithChanSize(8, false)
		clientset.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(watcher, nil))

		source := newSource(t, clientset, monitor.Selector{Namespace: "default"}, 2*time.Second)

		snap, err := source.ListPodsQuery(t.Context())
		require.NoError(t, err)

		watcher.Error(&metav1.Status{
			Code:   410,
			Reason: metav1.StatusReasonExpired,
		})

		_, err = source.NextSnapshotQuery(t.Context(), snap.ResourceVersion)
		require.Error(t, err)

		var expired *k8s.ResourceVersionExpiredError
		require.ErrorAs(t, err, &expired)
	})

	t.Run("other watch errors are transient", func(t *testing.T) {
		t.Parallel()

		clientset := fake.NewClientset(testPod("web-aaa", "1", true))

		watcher := watch.NewFakeWithChanSize(8, false)
		clientset.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(watcher, nil))

		source := newSource(t, clientset, monitor.Selector{Namespace: "default"}, 2*time.Second)

		snap, err := source.ListPodsQuery(t.Context())
		require.NoError(t, err)

		watcher.Error(&metav1.Status{
			Code:   500,
			Reason: metav1.StatusReasonInternalError,
		})

		_, err = source.NextSnapshotQuery(t.Context(), snap.ResourceVersion)
		require.Error(t, err)

		var unavailable *k8s.SourceUnavailableError
		require.ErrorAs(t, err, &unavailable)
	})

	t.Run("a closed stream is re-established", func(t *testing.T) {
		t.Parallel()

		clientset := fake.NewClientset(testPod("web-aaa", "1", true))

		first := watch.NewFakeWithChanSize(8, false)
		second := watch.NewFakeWithChanSize(8, false)
		second.Add(testPod("web-bbb", "5", true))

		watchers := []watch.Interface{first, second}
		clientset.PrependWatchReactor("pods", func(k8stesting.Action) (bool, watch.Interface, error) {
			w := watchers[0]
			if len(watchers) > 1 {
				watchers = watchers[1:]
			}

			return true, w, nil
		})

		source := newSource(t, clientset, monitor.Selector{Namespace: "default"}, 2*time.Second)

		snap, err := source.ListPodsQuery(t.Context())
		require.NoError(t, err)

		first.Stop()

		snap, err = source.NextSnapshotQuery(t.Context(), snap.ResourceVersion)
		require.NoError(t, err)
		require.Len(t, snap.Pods, 2)
		require.Contains(t, snap.Pods, monitor.PodKey{Namespace: "default", Name: "web-bbb"})
	})
}

func TestUsageProbe_PodUsageQuery(t *testing.T) {
	t.Parallel()

	t.Run("sums usage across containers", func(t *testing.T) {
		t.Parallel()

		metricsClientset := metricsfake.NewSimpleClientset()
		// The fake tracker guesses the resource name "podmetricses" when
		// seeding via NewSimpleClientset, but the generated fake reads the
		// resource as "pods"; seed the tracker with the explicit GVR so the
		// object is findable.
		require.NoError(t, metricsClientset.Tracker().Create(
			metricsv1beta1.SchemeGroupVersion.WithResource("pods"),
			&metricsv1beta1.PodMetrics{
				ObjectMeta: metav1.ObjectMeta{Name: "web-aaa", Namespace: "default"},
				Containers: []metricsv1beta1.ContainerMetrics{
					{
						Name: "app",
						Usage: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse("100m"),
							corev1.ResourceMemory: resource.MustParse("64Mi"),
						},
					},
					{
						Name: "sidecar",
						Usage: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse("50m"),
							corev1.ResourceMemory: resource.MustParse("32Mi"),
						},
					},
				},
			},
			"default",
		))

		probe := k8s.NewUsageProbe(slog.Default(), metricsClientset)

		usage, err := probe.PodUsageQuery(t.Context(), "default", "web-aaa")
		require.NoError(t, err)
		require.NotNil(t, usage.CPUUsage)
		require.NotNil(t, usage.MemoryUsage)
		require.Equal(t, "150m", usage.CPUUsage.String())
		require.Equal(t, "96Mi", usage.MemoryUsage.String())
	})

	t.Run("a missing pod is an error", func(t *testing.T) {
		t.Parallel()

		probe := k8s.NewUsageProbe(slog.Default(), metricsfake.NewSimpleClientset())

		_, err := probe.PodUsageQuery(t.Context(), "default", "ghost")
		require.Error(t, err)
	})
}
