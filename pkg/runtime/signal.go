package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WithSignalHandler returns a context cancelled on SIGINT or SIGTERM, and a
// stop function that releases the signal subscription.
func WithSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
		case <-ctx.Done():
		}
		cancel()
	}()

	return ctx, cancel
}
