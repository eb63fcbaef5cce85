// Package graceful ties a context to process termination signals.
package graceful

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Context returns a context that is canceled when SIGINT or SIGTERM arrives.
// A second signal is left to the default handler so it kills the process.
// logger may be nil.
func Context(ctx context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			if logger != nil {
				logger.Printf("received %s, starting graceful shutdown", sig)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
