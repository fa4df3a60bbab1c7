package k8s

import (
	"context"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

func toObservation(pod *corev1.Pod) monitor.PodObservation {
	identity := monitor.PodIdentity{
		Name:      pod.Name,
		Namespace: pod.Namespace,
	}

	if len(pod.OwnerReferences) > 0 {
		identity.OwnerReferences = make([]monitor.OwnerRef, 0, len(pod.OwnerReferences))
		for _, ref := range pod.OwnerReferences {
			identity.OwnerReferences = append(identity.OwnerReferences, monitor.OwnerRef{
				Kind: ref.Kind,
				Name: ref.Name,
				UID:  string(ref.UID),
			})
		}
	}

	return monitor.PodObservation{
		Identity:          identity,
		Ready:             podReady(pod),
		DeletionScheduled: pod.DeletionTimestamp != nil,
	}
}

// podReady mirrors the kubelet's view: every container reports ready and at
// least one container status exists. Pods that ran to completion or failed
// are never ready.
func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
		return false
	}

	if len(pod.Status.ContainerStatuses) == 0 {
		return false
	}

	for i := range pod.Status.ContainerStatuses {
		if !pod.Status.ContainerStatuses[i].Ready {
			return false
		}
	}

	return true
}

func toPodUsage(
	ctx context.Context,
	logger *slog.Logger,
	podMetrics *metricsv1beta1.PodMetrics,
) *monitor.PodUsage {
	cpuUsage := resource.NewQuantity(0, resource.DecimalSI)
	memoryUsage := resource.NewQuantity(0, resource.BinarySI)

	for i := range podMetrics.Containers {
		container := &podMetrics.Containers[i]

		containerCPU := container.Usage.Cpu()
		containerMemory := container.Usage.Memory()

		if containerCPU == nil || containerMemory == nil {
			logger.WarnContext(ctx, "container usage is incomplete, skipping",
				"pod", podMetrics.Name,
				"namespace", podMetrics.Namespace,
				"container", container.Name,
			)

			continue
		}

		cpuUsage.Add(*containerCPU)
		memoryUsage.Add(*containerMemory)
		logger.DebugContext(ctx, "container usage",
			"pod", podMetrics.Name,
			"namespace", podMetrics.Namespace,
			"container", container.Name,
			"cpu", containerCPU.String(),
			"memory", containerMemory.String(),
		)
	}

	return &monitor.PodUsage{
		CPUUsage:    cpuUsage,
		MemoryUsage: memoryUsage,
	}
}
