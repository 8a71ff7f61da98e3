// Package bridge carries events across the page/host boundary. It installs
// the instrumentation on a Surface, subscribes the three channels, decodes
// what the page posts and hands typed events to the aggregator.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"pagescope/internal/event"
	"pagescope/internal/instrument"
	"pagescope/internal/logging"
)

// ErrNotEnabled is returned when no page is attached.
var ErrNotEnabled = errors.New("no page attached: enable the console on a loaded page first")

// Sink receives decoded events. *aggregator.Aggregator implements it.
type Sink interface {
	RecordLog(entry event.LogEntry) error
	RecordRequestStart(req event.NetworkRequest) error
	RecordRequestCompletion(id string, o event.Outcome) error
	RecordStorageSnapshot(snap event.StorageSnapshot) error
}

// Options configures a Bridge.
type Options struct {
	Instrument instrument.Options
	// OnLifecycle, when set, sees every lifecycle event of the attached page.
	// It runs on the bridge's watcher goroutine and must not call Disable.
	OnLifecycle func(LifecycleEvent)
}

// Bridge connects one page surface to a sink.
type Bridge struct {
	sink   Sink
	opts   Options
	script string

	mu        sync.Mutex
	surface   Surface
	enabled   atomic.Bool
	stops     []func() error
	removeDoc func() error
	cancel    context.CancelFunc
	watcher   sync.WaitGroup

	dropped atomic.Int64
}

// New renders the hook script for opts and returns a detached bridge.
func New(sink Sink, opts Options) (*Bridge, error) {
	script, err := instrument.Script(opts.Instrument)
	if err != nil {
		return nil, err
	}
	return &Bridge{sink: sink, opts: opts, script: script}, nil
}

// Script returns the rendered hook.
func (b *Bridge) Script() string { return b.script }

// Enabled reports whether a page is attached.
func (b *Bridge) Enabled() bool { return b.enabled.Load() }

// Dropped counts payloads rejected as malformed.
func (b *Bridge) Dropped() int64 { return b.dropped.Load() }

// Enable attaches s. Enabling the attached surface again is a no-op; a
// different surface replaces the current one.
//
// The hook is registered as a document-start script so every new document
// is instrumented, and evaluated directly only when the current document has
// finished loading and has never been instrumented. A page instrumented by an
// earlier Enable is re-enabled through its flag, never reinstalled.
func (b *Bridge) Enable(ctx context.Context, s Surface) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.enabled.Load() {
		if b.surface == s {
			return nil
		}
		if err := b.disableLocked(ctx); err != nil {
			logging.BridgeWarn("detach previous page: %v", err)
		}
	}

	var stops []func() error
	unwind := func() {
		for _, stop := range stops {
			_ = stop()
		}
	}
	for _, ch := range event.Channels() {
		stop, err := s.Bind(ctx, instrument.BindingName(ch), b.handler(ch))
		if err != nil {
			unwind()
			return fmt.Errorf("bind %s channel: %w", ch, err)
		}
		stops = append(stops, stop)
	}

	removeDoc, err := s.AddDocumentScript(ctx, b.script)
	if err != nil {
		unwind()
		return fmt.Errorf("add document script: %w", err)
	}

	if err := b.injectLocked(ctx, s); err != nil {
		_ = removeDoc()
		unwind()
		return err
	}

	b.surface = s
	b.stops = stops
	b.removeDoc = removeDoc
	b.enabled.Store(true)

	watchCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.watcher.Add(1)
	go b.watchLifecycle(watchCtx, s)

	logging.Bridge("bridge enabled")
	return nil
}

func (b *Bridge) injectLocked(ctx context.Context, s Surface) error {
	needed, err := s.RunScript(ctx, instrument.ProbeScript)
	if err != nil {
		return fmt.Errorf("probe page: %w", err)
	}
	if needed.Bool() {
		if _, err := s.RunScript(ctx, b.script); err != nil {
			return fmt.Errorf("inject hook: %w", err)
		}
		logging.BridgeDebug("hook injected into loaded document")
		return nil
	}
	if _, err := s.RunScript(ctx, instrument.EnabledScript(true)); err != nil {
		return fmt.Errorf("re-enable hook: %w", err)
	}
	return nil
}

// Disable detaches the page: channel bindings and the document script are
// removed and the page-side flag is cleared. Installed hooks stay in the page
// and post nothing until the next Enable.
func (b *Bridge) Disable(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled.Load() {
		return nil
	}
	return b.disableLocked(ctx)
}

func (b *Bridge) disableLocked(ctx context.Context) error {
	b.enabled.Store(false)
	// The watcher may be re-asserting the flag; it must be gone before the
	// flag is cleared.
	b.cancel()
	b.watcher.Wait()

	var errs []error
	if _, err := b.surface.RunScript(ctx, instrument.EnabledScript(false)); err != nil {
		errs = append(errs, fmt.Errorf("clear enabled flag: %w", err))
	}
	for _, stop := range b.stops {
		if err := stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.removeDoc != nil {
		if err := b.removeDoc(); err != nil {
			errs = append(errs, err)
		}
	}

	b.surface = nil
	b.stops = nil
	b.removeDoc = nil
	b.cancel = nil
	logging.Bridge("bridge disabled")
	return errors.Join(errs...)
}

func (b *Bridge) watchLifecycle(ctx context.Context, s Surface) {
	defer b.watcher.Done()
	events := s.Lifecycle()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logging.BridgeDebug("page %s %s", ev.Kind, ev.URL)
			if ev.Kind == Loaded && b.enabled.Load() {
				if _, err := s.RunScript(ctx, instrument.EnabledScript(true)); err != nil {
					logging.BridgeWarn("re-assert enabled flag: %v", err)
				}
			}
			if b.opts.OnLifecycle != nil {
				b.opts.OnLifecycle(ev)
			}
		}
	}
}

func (b *Bridge) handler(ch event.Channel) BindingFunc {
	return func(payload []byte) {
		if !b.enabled.Load() {
			return
		}
		if err := b.Dispatch(ch, payload); err != nil {
			if errors.Is(err, event.ErrMalformed) {
				b.dropped.Add(1)
				logging.BridgeDebug("dropping %s payload: %v", ch, err)
				return
			}
			logging.BridgeWarn("deliver %s payload: %v", ch, err)
		}
	}
}

// Dispatch decodes one payload by channel and forwards it to the sink.
// Malformed payloads yield an error wrapping event.ErrMalformed.
func (b *Bridge) Dispatch(ch event.Channel, payload []byte) error {
	switch ch {
	case event.ChannelConsole:
		entry, err := event.DecodeConsole(payload)
		if err != nil {
			return err
		}
		return b.sink.RecordLog(entry)
	case event.ChannelNetwork:
		ev, err := event.DecodeNetwork(payload)
		if err != nil {
			return err
		}
		switch e := ev.(type) {
		case event.RequestStarted:
			return b.sink.RecordRequestStart(event.NetworkRequest{
				ID:             e.ID,
				URL:            e.URL,
				Method:         e.Method,
				RequestHeaders: e.Headers,
				RequestTime:    e.RequestTime,
				Status:         event.StatusPending,
			})
		case event.ResponseReceived:
			return b.sink.RecordRequestCompletion(e.ID, e.Outcome())
		case event.RequestFailed:
			return b.sink.RecordRequestCompletion(e.ID, e.Outcome())
		}
		return nil
	case event.ChannelStorage:
		snap, err := event.DecodeStorage(payload)
		if err != nil {
			return err
		}
		return b.sink.RecordStorageSnapshot(snap)
	}
	return &event.DecodeError{Channel: ch, Reason: "unknown channel"}
}

// CommandResult is the outcome of an interactive command.
type CommandResult struct {
	Code   string
	Result Result
	Err    error
}

// Failed reports whether evaluation raised or could not run.
func (r CommandResult) Failed() bool { return r.Err != nil }

// Run evaluates code in the attached page. No ordering is kept between
// concurrent runs.
func (b *Bridge) Run(ctx context.Context, code string) CommandResult {
	b.mu.Lock()
	s := b.surface
	b.mu.Unlock()
	if s == nil {
		return CommandResult{Code: code, Err: ErrNotEnabled}
	}
	res, err := s.RunScript(ctx, code)
	if err != nil {
		logging.CommandError("command failed: %v", err)
	}
	return CommandResult{Code: code, Result: res, Err: err}
}
