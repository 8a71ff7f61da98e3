//go:build !windows

package pressure

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Notify emits ReasonLowMemory for every SIGUSR1 until ctx is done.
func Notify(ctx context.Context) <-chan Reason {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	out := make(chan Reason)
	go func() {
		defer close(out)
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				select {
				case out <- ReasonLowMemory:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
