//go:build windows

package pressure

import "context"

// Notify has no low-memory signal to watch on windows. The channel closes
// when ctx is done.
func Notify(ctx context.Context) <-chan Reason {
	out := make(chan Reason)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out
}
