package aggregator

import (
	"sync"
	"sync/atomic"

	"pagescope/internal/event"
)

// UpdateKind says which part of the aggregator state changed.
type UpdateKind int

const (
	// LogAdded carries the new entry in Update.Log.
	LogAdded UpdateKind = iota
	// LogsReset carries the whole remaining log list after a clear or
	// compaction.
	LogsReset
	// RequestsChanged carries the full current request collection.
	RequestsChanged
	// StorageChanged carries the latest snapshot.
	StorageChanged
)

func (k UpdateKind) String() string {
	switch k {
	case LogAdded:
		return "log_added"
	case LogsReset:
		return "logs_reset"
	case RequestsChanged:
		return "requests_changed"
	case StorageChanged:
		return "storage_changed"
	}
	return "unknown"
}

// Update is one change notification.
type Update struct {
	Kind     UpdateKind
	Log      event.LogEntry
	Logs     []event.LogEntry
	Requests []event.NetworkRequest
	Storage  event.StorageSnapshot
}

// Observer receives updates in the order the aggregator applied them.
// Observers run on a dispatcher goroutine and may query or mutate the
// aggregator, but must not call Close.
type Observer func(Update)

type subscription struct {
	fn        Observer
	cancelled atomic.Bool
}

type delivery struct {
	update Update
	subs   []*subscription
}

// dispatcher delivers updates in FIFO order on its own goroutine so that
// observers never run on the actor.
type dispatcher struct {
	mu      sync.Mutex
	queue   []delivery
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(u Update, subs []*subscription) {
	if len(subs) == 0 {
		return
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, delivery{update: u, subs: subs})
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		stopped := d.stopped
		d.mu.Unlock()

		for _, dl := range batch {
			for _, sub := range dl.subs {
				if !sub.cancelled.Load() {
					sub.fn(dl.update)
				}
			}
		}
		if stopped && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-d.wake
		}
	}
}

// stop delivers what is already queued, then ends the goroutine.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}
