package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/chaosloop/podwatch/internal/adapters/outbound/k8s"
	"github.com/chaosloop/podwatch/internal/config"
	"github.com/chaosloop/podwatch/internal/httpserver"
	"github.com/chaosloop/podwatch/internal/infra/fetchstats"
	"github.com/chaosloop/podwatch/internal/infra/metrics"
	"github.com/chaosloop/podwatch/internal/infra/schedule"
	"github.com/chaosloop/podwatch/internal/infra/shutdown"
	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

const startupTimeout = 10 * time.Second

type App struct {
	cfg           *config.Config
	logger        *slog.Logger
	appState      appstater
	signals       signalHandler
	registry      *monitor.Registry
	httpServer    appServer
	metricsServer appServer
}

// New creates a new application instance with all dependencies wired.
func New(
	logger *slog.Logger,
	cfg *config.Config,
	appState appstater,
	fetches *fetchstats.Collector,
) (*App, error) {
	// Create K8s config. With neither a kubeconfig nor a master URL this
	// falls back to the in-cluster service account.
	kubeConfig, err := clientcmd.BuildConfigFromFlags(
		cfg.KubeMaster,
		cfg.KubeConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("build k8s config: %w", err)
	}

	// Create K8s clientset
	clientset, err := kubernetes.NewForConfig(kubeConfig)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}

	// Create secondary adapter (snapshot source factory)
	factory := k8s.NewFactory(logger, clientset, cfg.PollBound)

	var probe monitor.UsageProbe

	if cfg.UsageProbeEnabled {
		metricsClientset, err := metricsv.NewForConfig(kubeConfig)
		if err != nil {
			return nil, fmt.Errorf("create metrics clientset: %w", err)
		}

		probe = k8s.NewUsageProbe(logger, metricsClientset)
	}

	// Create logic service (inject source factory and telemetry)
	registry := monitor.NewRegistry(
		logger,
		factory,
		probe,
		monitor.TeeObserver(metrics.Observer{}, fetches),
		cfg.SessionDefaults(),
	)

	httpServer := httpserver.New(logger, appState, registry, cfg.HTTPPort)
	metricsServer := httpserver.NewMetricsServer(logger, cfg.MetricsPort)

	// Registration order is reversed at shutdown: the HTTP servers stop
	// taking requests first, the registry cancels in-flight sessions last.
	appState.RegisterShutdowner(registry)
	appState.RegisterShutdowner(metricsServer)
	appState.RegisterShutdowner(httpServer)

	return &App{
		cfg:           cfg,
		logger:        logger,
		appState:      appState,
		signals:       shutdown.New(logger, appState),
		registry:      registry,
		httpServer:    httpServer,
		metricsServer: metricsServer,
	}, nil
}

// Run starts the servers, drives the configured mode until its work is done
// or the context is cancelled, and always finishes with the graceful
// shutdown sequence.
func (a *App) Run(originCtx context.Context) error {
	ctx, cancel := context.WithCancel(originCtx)
	defer cancel()

	go a.signals.HandleSignals(ctx, cancel)

	if err := a.appState.SetStarting(ctx); err != nil {
		return fmt.Errorf("set starting: %w", err)
	}

	runErr := a.start(ctx)
	if runErr == nil {
		a.logger.InfoContext(ctx, "pod monitor started", "mode", a.cfg.Mode)

		runErr = a.runMode(ctx)
	}

	shutdownErr := shutdown.GracefulShutdown(originCtx, a.logger, a.appState, a.appState.Shutdowners())

	return errors.Join(runErr, shutdownErr)
}

// start brings up both servers and waits for their readiness gates.
func (a *App) start(ctx context.Context) error {
	if err := a.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	if err := a.metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	select {
	case <-allChannelsClose(ctx, a.logger, a.httpServer.Ready(), a.metricsServer.Ready()):
		if ctx.Err() != nil {
			return ctx.Err()
		}
	case <-time.After(startupTimeout):
		return errors.New("servers did not become ready in time")
	}

	if err := a.appState.SetRunning(ctx); err != nil {
		return fmt.Errorf("set running: %w", err)
	}

	return nil
}

func (a *App) runMode(ctx context.Context) error {
	switch a.cfg.Mode {
	case config.ModePlan:
		return a.runPlanOnce(ctx)
	case config.ModeDrill:
		return a.runDrill(ctx)
	default:
		// Serve mode blocks until a signal cancels the context; sessions
		// arrive over the HTTP API.
		<-ctx.Done()

		return nil
	}
}

// runPlanOnce runs every plan target once and fails when any pod did not
// recover, so batch invocations surface broken recovery through the exit
// code.
func (a *App) runPlanOnce(ctx context.Context) error {
	targets, err := a.loadTargets()
	if err != nil {
		return err
	}

	result, err := a.runTargets(ctx, targets)
	if err != nil {
		return err
	}

	a.logResult(ctx, result)

	if result.Status != monitor.SessionSettled {
		return fmt.Errorf("plan run finished %s: %d pods unrecovered", result.Status, len(result.Unrecovered))
	}

	return nil
}

// runDrill re-runs the plan targets on the cron schedule until the context
// is cancelled. A failed run is logged and does not stop the daemon.
func (a *App) runDrill(ctx context.Context) error {
	sched, err := schedule.New(a.cfg.DrillSchedule, a.cfg.DrillTimezone, a.cfg.DrillJitterMax)
	if err != nil {
		return fmt.Errorf("parse drill schedule: %w", err)
	}

	targets, err := a.loadTargets()
	if err != nil {
		return err
	}

	for {
		next := sched.NextAfter(time.Now())
		a.logger.InfoContext(ctx, "next drill run scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil
		case <-timer.C:
		}

		result, err := a.runTargets(ctx, targets)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			a.logger.ErrorContext(ctx, "drill run failed", "reason", err)

			continue
		}

		a.logResult(ctx, result)
	}
}

func (a *App) loadTargets() ([]monitor.PoolTarget, error) {
	plan, err := config.LoadPlan(a.cfg.PlanPath)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	targets, err := plan.PoolTargets()
	if err != nil {
		return nil, fmt.Errorf("prepare plan targets: %w", err)
	}

	return targets, nil
}

func (a *App) runTargets(ctx context.Context, targets []monitor.PoolTarget) (*monitor.SessionResult, error) {
	pool := monitor.NewPool(a.logger, a.registry)

	if err := pool.Start(ctx, targets); err != nil {
		return nil, fmt.Errorf("start pool: %w", err)
	}

	result, err := pool.Join(ctx)
	if err != nil {
		pool.CancelAll()

		return nil, fmt.Errorf("join pool: %w", err)
	}

	return result, nil
}

func (a *App) logResult(ctx context.Context, result *monitor.SessionResult) {
	a.logger.InfoContext(ctx, "monitoring run finished",
		"sessionId", result.SessionID,
		"status", string(result.Status),
		"recovered", len(result.Recovered),
		"unrecovered", len(result.Unrecovered),
		"duration", result.EndedAt.Sub(result.StartedAt).String(),
	)
}

// allChannelsClose returns a channel that closes once every input channel
// has closed, or as soon as ctx is cancelled.
func allChannelsClose(ctx context.Context, logger *slog.Logger, channels ...<-chan struct{}) <-chan struct{} {
	out := make(chan struct{})

	go func() {
		defer close(out)

		for _, ch := range channels {
			select {
			case <-ch:
			case <-ctx.Done():
				logger.WarnContext(ctx, "stopped waiting for readiness", "reason", ctx.Err())

				return
			}
		}
	}()

	return out
}
