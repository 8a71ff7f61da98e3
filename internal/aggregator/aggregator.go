// Package aggregator owns the host-side stores: a bounded log buffer, a
// bounded map of network requests correlated by id, and the latest storage
// snapshot. Every operation runs on a single actor goroutine, so callers on
// any goroutine observe one consistent order of mutations.
package aggregator

import (
	"errors"
	"sync"

	"pagescope/internal/event"
	"pagescope/internal/logging"
)

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("aggregator closed")

// Options bounds the stores.
type Options struct {
	MaxLogs     int
	MaxRequests int
}

// DefaultOptions returns the stock limits: 1000 logs, 50 requests.
func DefaultOptions() Options {
	return Options{MaxLogs: 1000, MaxRequests: 50}
}

// Stats counts what the stores hold and what they have discarded.
type Stats struct {
	Logs               int
	Requests           int
	PendingRequests    int
	HasStorage         bool
	EvictedLogs        int64
	EvictedRequests    int64
	DroppedStarts      int64
	DroppedCompletions int64
}

// CompactResult reports what a compaction removed.
type CompactResult struct {
	RemovedLogs     int
	RemovedRequests int
}

// Filter selects log entries. Empty fields match everything.
type Filter struct {
	Levels         []event.Level
	Origins        []event.Origin
	ExcludeOrigins []event.Origin
}

// Match reports whether e passes the filter.
func (f Filter) Match(e event.LogEntry) bool {
	if len(f.Levels) > 0 && !contains(f.Levels, e.Level) {
		return false
	}
	if len(f.Origins) > 0 && !contains(f.Origins, e.Origin) {
		return false
	}
	return !contains(f.ExcludeOrigins, e.Origin)
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

type state struct {
	logs     *ring[event.LogEntry]
	requests *requestStore
	storage  *event.StorageSnapshot
	subs     map[int]*subscription
	nextSub  int

	evictedRequests    int64
	droppedStarts      int64
	droppedCompletions int64
}

// Aggregator is the single writer of the captured data.
type Aggregator struct {
	opts Options
	ops  chan func(*state)
	quit chan struct{}
	done chan struct{}
	disp *dispatcher

	closeOnce sync.Once
}

// New starts the actor. Close must be called to stop it.
func New(opts Options) *Aggregator {
	d := DefaultOptions()
	if opts.MaxLogs <= 0 {
		opts.MaxLogs = d.MaxLogs
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = d.MaxRequests
	}
	a := &Aggregator{
		opts: opts,
		ops:  make(chan func(*state)),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		disp: newDispatcher(),
	}
	s := &state{
		logs:     newRing[event.LogEntry](opts.MaxLogs),
		requests: newRequestStore(opts.MaxRequests),
		subs:     make(map[int]*subscription),
	}
	go a.run(s)
	return a
}

// Options returns the effective limits.
func (a *Aggregator) Options() Options { return a.opts }

func (a *Aggregator) run(s *state) {
	defer close(a.done)
	for {
		select {
		case op := <-a.ops:
			op(s)
		case <-a.quit:
			return
		}
	}
}

// do runs fn on the actor and waits for it to finish.
func (a *Aggregator) do(fn func(*state)) error {
	finished := make(chan struct{})
	select {
	case a.ops <- func(s *state) {
		defer close(finished)
		fn(s)
	}:
	case <-a.quit:
		return ErrClosed
	}
	<-finished
	return nil
}

func (a *Aggregator) notify(s *state, u Update) {
	if len(s.subs) == 0 {
		return
	}
	subs := make([]*subscription, 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if sub, ok := s.subs[i]; ok {
			subs = append(subs, sub)
		}
	}
	a.disp.enqueue(u, subs)
}

// RecordLog appends an entry, evicting the oldest when the buffer is full.
func (a *Aggregator) RecordLog(entry event.LogEntry) error {
	return a.do(func(s *state) {
		s.logs.push(entry)
		a.notify(s, Update{Kind: LogAdded, Log: entry})
	})
}

// RecordRequestStart tracks a new pending request. A start whose id is
// already tracked is dropped. At capacity the request with the oldest
// request time is evicted first.
func (a *Aggregator) RecordRequestStart(req event.NetworkRequest) error {
	return a.do(func(s *state) {
		if s.requests.has(req.ID) {
			s.droppedStarts++
			logging.AggregatorDebug("dropping duplicate request start %s", req.ID)
			return
		}
		if evicted := s.requests.insert(req.Clone()); evicted != "" {
			s.evictedRequests++
			logging.AggregatorDebug("evicted request %s to admit %s", evicted, req.ID)
		}
		a.notify(s, Update{Kind: RequestsChanged, Requests: s.requests.list()})
	})
}

// RecordRequestCompletion applies a terminal outcome to a pending request.
// Completions for unknown or already finished requests are dropped.
func (a *Aggregator) RecordRequestCompletion(id string, o event.Outcome) error {
	return a.do(func(s *state) {
		if !s.requests.complete(id, o) {
			s.droppedCompletions++
			logging.AggregatorDebug("dropping completion for unknown or finished request %s", id)
			return
		}
		a.notify(s, Update{Kind: RequestsChanged, Requests: s.requests.list()})
	})
}

// RecordStorageSnapshot replaces the current snapshot.
func (a *Aggregator) RecordStorageSnapshot(snap event.StorageSnapshot) error {
	return a.do(func(s *state) {
		c := snap.Clone()
		s.storage = &c
		a.notify(s, Update{Kind: StorageChanged, Storage: c.Clone()})
	})
}

// ClearLogs drops every log entry and notifies observers with LogsReset.
func (a *Aggregator) ClearLogs() error {
	return a.do(func(s *state) {
		s.logs.reset()
		a.notify(s, Update{Kind: LogsReset, Logs: []event.LogEntry{}})
	})
}

// ClearRequests drops every tracked request, pending ones included.
func (a *Aggregator) ClearRequests() error {
	return a.do(func(s *state) {
		s.requests.reset()
		a.notify(s, Update{Kind: RequestsChanged, Requests: []event.NetworkRequest{}})
	})
}

// CurrentLogs returns entries oldest first, restricted to levels when any
// are given.
func (a *Aggregator) CurrentLogs(levels ...event.Level) []event.LogEntry {
	return a.FilterLogs(Filter{Levels: levels})
}

// FilterLogs returns the entries matching f, oldest first.
func (a *Aggregator) FilterLogs(f Filter) []event.LogEntry {
	var out []event.LogEntry
	_ = a.do(func(s *state) {
		out = make([]event.LogEntry, 0, s.logs.len())
		for _, e := range s.logs.all() {
			if f.Match(e) {
				out = append(out, e)
			}
		}
	})
	return out
}

// Requests returns copies of the tracked requests, oldest request time first.
func (a *Aggregator) Requests() []event.NetworkRequest {
	var out []event.NetworkRequest
	_ = a.do(func(s *state) { out = s.requests.list() })
	return out
}

// Request looks up one tracked request.
func (a *Aggregator) Request(id string) (event.NetworkRequest, bool) {
	var (
		out event.NetworkRequest
		ok  bool
	)
	_ = a.do(func(s *state) { out, ok = s.requests.get(id) })
	return out, ok
}

// Storage returns the latest snapshot, if one has been recorded.
func (a *Aggregator) Storage() (event.StorageSnapshot, bool) {
	var (
		out event.StorageSnapshot
		ok  bool
	)
	_ = a.do(func(s *state) {
		if s.storage != nil {
			out, ok = s.storage.Clone(), true
		}
	})
	return out, ok
}

// Stats reports store sizes and eviction counters.
func (a *Aggregator) Stats() Stats {
	var st Stats
	_ = a.do(func(s *state) {
		st = Stats{
			Logs:               s.logs.len(),
			Requests:           s.requests.len(),
			PendingRequests:    s.requests.pending(),
			HasStorage:         s.storage != nil,
			EvictedLogs:        s.logs.evicted,
			EvictedRequests:    s.evictedRequests,
			DroppedStarts:      s.droppedStarts,
			DroppedCompletions: s.droppedCompletions,
		}
	})
	return st
}

// Compact trims the stores to the newest keepLogs entries and the keepRequests
// most recent requests by request time. It runs as one step on the actor.
func (a *Aggregator) Compact(keepLogs, keepRequests int) (CompactResult, error) {
	var res CompactResult
	err := a.do(func(s *state) {
		res.RemovedLogs = s.logs.keepLast(keepLogs)
		res.RemovedRequests = s.requests.keepNewest(keepRequests)
		if res.RemovedLogs > 0 {
			a.notify(s, Update{Kind: LogsReset, Logs: s.logs.all()})
		}
		if res.RemovedRequests > 0 {
			a.notify(s, Update{Kind: RequestsChanged, Requests: s.requests.list()})
		}
	})
	return res, err
}

// Subscribe registers fn for updates made after it returns. The returned
// cancel stops delivery and is safe to call more than once.
func (a *Aggregator) Subscribe(fn Observer) (cancel func()) {
	sub := &subscription{fn: fn}
	id := -1
	if err := a.do(func(s *state) {
		id = s.nextSub
		s.nextSub++
		s.subs[id] = sub
	}); err != nil {
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			sub.cancelled.Store(true)
			_ = a.do(func(s *state) { delete(s.subs, id) })
		})
	}
}

// Close stops the actor after delivering queued updates. Later calls are
// no-ops.
func (a *Aggregator) Close() error {
	a.closeOnce.Do(func() {
		close(a.quit)
		<-a.done
		a.disp.stop()
	})
	return nil
}
