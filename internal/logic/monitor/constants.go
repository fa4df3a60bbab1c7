package monitor

import "time"

const (
	// DefaultSessionTimeout bounds the observation window when the caller
	// does not pick one.
	DefaultSessionTimeout = 120 * time.Second

	// DefaultLookback is how long a vacated slot waits for its replacement
	// before it is written off.
	DefaultLookback = 30 * time.Second

	// DefaultBackoffInitial and DefaultBackoffMax bound the exponential
	// retry delay on transient source failures.
	DefaultBackoffInitial = 1 * time.Second
	DefaultBackoffMax     = 30 * time.Second

	// DefaultBackoffAttempts is how many consecutive source failures a
	// session tolerates before finishing with partial metrics.
	DefaultBackoffAttempts = 5

	// DefaultCancelGrace is how long a cancelled session lets an in-flight
	// snapshot fetch return before abandoning it.
	DefaultCancelGrace = 2 * time.Second

	// backoffJitter is the relative spread applied to retry delays.
	backoffJitter = 0.2
)
