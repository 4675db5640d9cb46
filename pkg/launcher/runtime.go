package launcher

import (
	"context"
	"time"
)

// Runtime starts and stops service containers on the worker host.
type Runtime interface {
	// Pull fetches the image for a service.
	Pull(ctx context.Context, image string) error

	// Start creates and starts a container. The container shares the
	// host network so the service binds its cataloged port directly.
	Start(ctx context.Context, id, image string, env []string) error

	// Stop gracefully stops a container, escalating to a kill after
	// the timeout, and removes it.
	Stop(ctx context.Context, id string, timeout time.Duration) error

	// Running reports whether the container is currently running.
	Running(ctx context.Context, id string) bool

	// Close releases the runtime connection.
	Close() error
}
