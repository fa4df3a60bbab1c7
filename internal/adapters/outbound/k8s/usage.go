package k8s

import (
	"context"
	"fmt"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

// UsageProbe samples pod resource usage from the metrics API.
type UsageProbe struct {
	logger           *slog.Logger
	metricsClientset metricsv.Interface
}

// NewUsageProbe creates a usage probe backed by metrics.k8s.io.
func NewUsageProbe(logger *slog.Logger, metricsClientset metricsv.Interface) *UsageProbe {
	return &UsageProbe{
		logger:           logger,
		metricsClientset: metricsClientset,
	}
}

var _ monitor.UsageProbe = (*UsageProbe)(nil)

func (p *UsageProbe) PodUsageQuery(ctx context.Context, namespace, name string) (*monitor.PodUsage, error) {
	podMetrics, err := p.metricsClientset.MetricsV1beta1().PodMetricses(namespace).Get(
		ctx,
		name,
		metav1.GetOptions{},
	)
	if err != nil {
		return nil, fmt.Errorf("get pod metrics: %w", err)
	}

	return toPodUsage(ctx, p.logger, podMetrics), nil
}
