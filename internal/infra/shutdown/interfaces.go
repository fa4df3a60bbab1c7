package shutdown

import (
	"context"
	"os"
)

// Shutdowner is implemented by every component the graceful shutdown driver
// tears down: the HTTP servers and the session registry.
type Shutdowner interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// appstater is the slice of the application state the shutdown driver needs.
type appstater interface {
	SetTerminating(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type quiter interface {
	Quit() <-chan os.Signal
}
