package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context that is canceled when the process
// receives SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		termChan := make(chan os.Signal, 3)
		signal.Notify(termChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-termChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
