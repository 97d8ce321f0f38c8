package graceful

import (
	"context"
	"os/signal"
	"syscall"
)

// Context returns a copy of parent that is canceled when the process
// receives SIGINT or SIGTERM. This allows for a clean shutdown of the
// application.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
