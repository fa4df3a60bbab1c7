package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// defaultShutdownTimeout must cover the session cancel grace period plus
// HTTP server drain.
const defaultShutdownTimeout = 15 * time.Second

// Notify returns a channel that will receive SIGTERM and SIGINT signals.
// This should be called as the first thing in main() before any other initialization.
func Notify() <-chan os.Signal {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)

	return signals
}

type Handler struct {
	logger *slog.Logger
	quiter quiter
}

// New creates a new shutdown handler.
func New(logger *slog.Logger, quiter quiter) *Handler {
	return &Handler{
		logger: logger,
		quiter: quiter,
	}
}

// HandleSignals listens for SIGTERM and SIGINT signals and cancels the context when received.
func (h *Handler) HandleSignals(ctx context.Context, cancel func()) {
	select {
	case <-ctx.Done():
		h.logger.InfoContext(ctx, "terminating signal handler due to context done")

		return
	case <-h.quiter.Quit():
	}

	h.logger.InfoContext(ctx, "received termination signal, terminating")

	cancel()
}

// CheckTerminationFile checks if the termination file exists
func CheckTerminationFile(terminationFile string) bool {
	if terminationFile == "" {
		return false
	}

	_, err := os.Stat(terminationFile)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("error checking termination file", "reason", err, "path", terminationFile)
		}

		return false
	}

	slog.Info("termination file found", "path", terminationFile)

	return true
}

// GracefulShutdown stops the components in reverse registration order, then
// finalizes the application state. Component failures are collected, not
// short-circuited: every component gets its shutdown call.
func GracefulShutdown(
	originCtx context.Context,
	logger *slog.Logger,
	appState appstater,
	shutdowners []Shutdowner,
) error {
	if err := appState.SetTerminating(originCtx); err != nil {
		logger.ErrorContext(originCtx, "failed to set terminating state", "reason", err)

		return fmt.Errorf("set terminating application state: %w", err)
	}

	// Shutdown continues even if originCtx is already cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(originCtx), defaultShutdownTimeout)
	defer cancel()

	var errs error

	for i := len(shutdowners) - 1; i >= 0; i-- {
		start := time.Now()
		shutdowner := shutdowners[i]

		if err := shutdowner.Shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "component shutdown failed",
				"component", shutdowner.Name(),
				"duration", time.Since(start),
				"reason", err,
			)

			errs = errors.Join(errs, fmt.Errorf("%s: %w", shutdowner.Name(), err))

			continue
		}

		logger.InfoContext(ctx, "component shutdown completed",
			"component", shutdowner.Name(),
			"duration", time.Since(start),
		)
	}

	if err := appState.Shutdown(ctx); err != nil {
		return errors.Join(errs, fmt.Errorf("shutdown application state: %w", err))
	}

	return errs
}
