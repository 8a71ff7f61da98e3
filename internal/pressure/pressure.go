// Package pressure compacts the aggregator's stores when the host signals
// memory pressure. It does nothing on a timer: every compaction is caused by
// an explicit signal.
package pressure

import (
	"context"
	"sync"
	"sync/atomic"

	"pagescope/internal/aggregator"
	"pagescope/internal/logging"
)

// Reason names what raised a pressure signal.
type Reason string

const (
	ReasonLowMemory Reason = "low_memory" // OS low-memory notification
	ReasonHidden    Reason = "hidden"     // host surface went to the background
	ReasonManual    Reason = "manual"     // explicit request from the overlay or API
)

// Compactor is the store being trimmed.
type Compactor interface {
	Compact(keepLogs, keepRequests int) (aggregator.CompactResult, error)
}

// Options sets how much survives a compaction.
type Options struct {
	KeepLogs     int
	KeepRequests int
}

// DefaultOptions keeps the 50 newest logs and the 10 newest requests.
func DefaultOptions() Options {
	return Options{KeepLogs: 50, KeepRequests: 10}
}

// Controller performs one-shot compactions.
type Controller struct {
	target Compactor
	opts   Options
	count  atomic.Int64
}

// New returns a controller trimming target. Negative limits are treated as 0.
func New(target Compactor, opts Options) *Controller {
	if opts.KeepLogs < 0 {
		opts.KeepLogs = 0
	}
	if opts.KeepRequests < 0 {
		opts.KeepRequests = 0
	}
	return &Controller{target: target, opts: opts}
}

// Trigger compacts once.
func (c *Controller) Trigger(reason Reason) (aggregator.CompactResult, error) {
	res, err := c.target.Compact(c.opts.KeepLogs, c.opts.KeepRequests)
	if err != nil {
		return res, err
	}
	c.count.Add(1)
	logging.Pressure("compacted on %s: removed %d logs, %d requests", reason, res.RemovedLogs, res.RemovedRequests)
	return res, nil
}

// Triggered reports how many compactions have run.
func (c *Controller) Triggered() int64 {
	return c.count.Load()
}

// Watch compacts once per value received on signals until ctx is done or
// signals is closed.
func (c *Controller) Watch(ctx context.Context, signals <-chan Reason) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason, ok := <-signals:
			if !ok {
				return nil
			}
			if _, err := c.Trigger(reason); err != nil {
				return err
			}
		}
	}
}

// Merge fans several sources into one channel, closed once ctx is done and
// every source has been drained or closed.
func Merge(ctx context.Context, sources ...<-chan Reason) <-chan Reason {
	out := make(chan Reason)
	var wg sync.WaitGroup
	for _, src := range sources {
		if src == nil {
			continue
		}
		wg.Add(1)
		go func(src <-chan Reason) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-src:
					if !ok {
						return
					}
					select {
					case out <- r:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
