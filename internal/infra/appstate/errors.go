package appstate

import "errors"

var (
	// ErrInvalidStateTransition is returned when a lifecycle step is requested
	// out of order (e.g. SetRunning before SetStarting)
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrAlreadyTerminated is returned when attempting to change state after
	// the daemon reached its terminated state
	ErrAlreadyTerminated = errors.New("application already terminated")
)
