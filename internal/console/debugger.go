// Package console is the host-facing API of the debugger: it owns the
// aggregator, the bridge to the attached page, the memory pressure
// controller, and the overlay's visibility.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pagescope/internal/aggregator"
	"pagescope/internal/bridge"
	"pagescope/internal/event"
	"pagescope/internal/instrument"
	"pagescope/internal/logging"
	"pagescope/internal/pressure"
)

// CommandSource labels entries produced by interactive commands.
const CommandSource = "Console"

// Delegate is notified of new entries and visibility changes. Callbacks run
// on the aggregator's dispatcher goroutine or the caller's goroutine.
type Delegate interface {
	OnLogReceived(entry event.LogEntry)
	OnVisibilityToggled(visible bool)
}

// Options configures a Debugger.
type Options struct {
	Limits     aggregator.Options
	Pressure   pressure.Options
	Instrument instrument.Options
	Delegate   Delegate
}

// Debugger ties one page surface to the bounded stores.
type Debugger struct {
	agg      *aggregator.Aggregator
	bridge   *bridge.Bridge
	pressure *pressure.Controller
	delegate Delegate
	hidden   chan pressure.Reason

	mu      sync.Mutex
	visible bool

	cancelSub func()
	closeOnce sync.Once
}

// New builds a detached debugger. Close releases its goroutines.
func New(opts Options) (*Debugger, error) {
	if opts.Pressure == (pressure.Options{}) {
		opts.Pressure = pressure.DefaultOptions()
	}
	agg := aggregator.New(opts.Limits)
	d := &Debugger{
		agg:      agg,
		pressure: pressure.New(agg, opts.Pressure),
		delegate: opts.Delegate,
		hidden:   make(chan pressure.Reason, 1),
	}
	b, err := bridge.New(agg, bridge.Options{
		Instrument:  opts.Instrument,
		OnLifecycle: d.onLifecycle,
	})
	if err != nil {
		_ = agg.Close()
		return nil, fmt.Errorf("create bridge: %w", err)
	}
	d.bridge = b
	if d.delegate != nil {
		d.cancelSub = agg.Subscribe(func(u aggregator.Update) {
			if u.Kind == aggregator.LogAdded {
				d.delegate.OnLogReceived(u.Log)
			}
		})
	}
	return d, nil
}

// Aggregator exposes the stores for read-side consumers such as the overlay.
func (d *Debugger) Aggregator() *aggregator.Aggregator { return d.agg }

// Bridge exposes the page transport.
func (d *Debugger) Bridge() *bridge.Bridge { return d.bridge }

// Enable attaches s. Calling it again with the same surface changes nothing.
func (d *Debugger) Enable(ctx context.Context, s bridge.Surface) error {
	if err := d.bridge.Enable(ctx, s); err != nil {
		return err
	}
	logging.Boot("debugger enabled")
	return nil
}

// Enabled reports whether a page is attached.
func (d *Debugger) Enabled() bool { return d.bridge.Enabled() }

// Disable detaches the page, hides the overlay, and drops captured logs and
// requests.
func (d *Debugger) Disable(ctx context.Context) error {
	err := d.bridge.Disable(ctx)
	d.setVisible(false)
	if cerr := d.agg.ClearLogs(); cerr != nil && !errors.Is(cerr, aggregator.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	if cerr := d.agg.ClearRequests(); cerr != nil && !errors.Is(cerr, aggregator.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}

// AddLog records an entry created by the host. Entries without an origin
// are tagged as host entries.
func (d *Debugger) AddLog(entry event.LogEntry) error {
	if entry.ID == "" {
		fresh := event.NewLogEntry(entry.Level, entry.Message, entry.Source, entry.Origin)
		if !entry.Timestamp.IsZero() {
			fresh.Timestamp = entry.Timestamp
		}
		entry = fresh
	}
	if entry.Origin == "" {
		entry.Origin = event.OriginHost
	}
	return d.agg.RecordLog(entry)
}

// ClearLogs empties the log store.
func (d *Debugger) ClearLogs() error {
	return d.agg.ClearLogs()
}

// GetAllLogs returns every retained entry, oldest first.
func (d *Debugger) GetAllLogs() []event.LogEntry {
	return d.agg.CurrentLogs()
}

// GetFilteredLogs returns entries whose level is in levels. An empty list
// matches nothing.
func (d *Debugger) GetFilteredLogs(levels []event.Level) []event.LogEntry {
	if len(levels) == 0 {
		return []event.LogEntry{}
	}
	return d.agg.CurrentLogs(levels...)
}

// AddNetworkRequest tracks a request reported by the host, stamping a zero
// request time with now.
func (d *Debugger) AddNetworkRequest(req event.NetworkRequest) error {
	if req.RequestTime.IsZero() {
		req.RequestTime = time.Now()
	}
	return d.agg.RecordRequestStart(req)
}

// UpdateNetworkRequest completes a pending request with a response.
func (d *Debugger) UpdateNetworkRequest(id string, o event.Outcome) error {
	o.Kind = event.OutcomeSuccess
	return d.agg.RecordRequestCompletion(id, o)
}

// UpdateNetworkRequestError completes a pending request with a failure.
func (d *Debugger) UpdateNetworkRequestError(id, errMsg string, duration *time.Duration) error {
	return d.agg.RecordRequestCompletion(id, event.FailureOutcome(errMsg, duration))
}

// ClearNetworkRequests empties the request store.
func (d *Debugger) ClearNetworkRequests() error {
	return d.agg.ClearRequests()
}

// UpdateStorageData replaces the storage snapshot.
func (d *Debugger) UpdateStorageData(snap event.StorageSnapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now()
	}
	return d.agg.RecordStorageSnapshot(snap)
}

// Toggle flips overlay visibility and returns the new state.
func (d *Debugger) Toggle() bool {
	d.mu.Lock()
	visible := !d.visible
	d.visible = visible
	d.mu.Unlock()
	d.notifyVisibility(visible)
	return visible
}

// Hide closes the overlay if it is showing.
func (d *Debugger) Hide() { d.setVisible(false) }

// IsVisible reports whether the overlay is showing.
func (d *Debugger) IsVisible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible
}

func (d *Debugger) setVisible(visible bool) {
	d.mu.Lock()
	changed := d.visible != visible
	d.visible = visible
	d.mu.Unlock()
	if changed {
		d.notifyVisibility(visible)
	}
}

func (d *Debugger) notifyVisibility(visible bool) {
	logging.OverlayDebug("overlay visible=%t", visible)
	if d.delegate != nil {
		d.delegate.OnVisibilityToggled(visible)
	}
}

// Execute runs code in the attached page and records the exchange: the
// echoed command, then the result or an error entry.
func (d *Debugger) Execute(ctx context.Context, code string) bridge.CommandResult {
	logging.Command("execute %q", code)
	_ = d.agg.RecordLog(event.NewLogEntry(event.LevelLog, "> "+code, CommandSource, event.OriginCommand))

	res := d.bridge.Run(ctx, code)
	if res.Err != nil {
		msg := "Error: " + res.Err.Error()
		if errors.Is(res.Err, bridge.ErrNotEnabled) {
			msg = "No page attached - make sure a page is loaded"
		}
		_ = d.agg.RecordLog(event.NewLogEntry(event.LevelError, msg, CommandSource, event.OriginCommand))
		return res
	}
	_ = d.agg.RecordLog(event.NewLogEntry(event.LevelLog, "← "+res.Result.String(), CommandSource, event.OriginCommand))
	return res
}

// HandleMemoryPressure compacts the stores once.
func (d *Debugger) HandleMemoryPressure() (aggregator.CompactResult, error) {
	return d.pressure.Trigger(pressure.ReasonManual)
}

// Compactions counts pressure-driven compactions so far.
func (d *Debugger) Compactions() int64 { return d.pressure.Triggered() }

func (d *Debugger) onLifecycle(ev bridge.LifecycleEvent) {
	if ev.Kind != bridge.Hidden {
		return
	}
	select {
	case d.hidden <- pressure.ReasonHidden:
	default:
	}
}

// WatchPressure compacts on every pressure signal until ctx is done: the
// page going to the background, the OS low-memory signal, and any extra
// sources such as the overlay.
func (d *Debugger) WatchPressure(ctx context.Context, extra ...<-chan pressure.Reason) error {
	sources := append([]<-chan pressure.Reason{d.hidden, pressure.Notify(ctx)}, extra...)
	return d.pressure.Watch(ctx, pressure.Merge(ctx, sources...))
}

// Close detaches the page and stops background work.
func (d *Debugger) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.bridge.Disable(context.Background())
		if d.cancelSub != nil {
			d.cancelSub()
		}
		err = errors.Join(err, d.agg.Close())
	})
	return err
}
