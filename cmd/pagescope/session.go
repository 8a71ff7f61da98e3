package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pagescope/internal/aggregator"
	"pagescope/internal/browser"
	"pagescope/internal/config"
	"pagescope/internal/console"
	"pagescope/internal/instrument"
	"pagescope/internal/logging"
	"pagescope/internal/pressure"
)

// browserConfig maps the file config onto the rod session manager.
func browserConfig(c *config.Config) browser.Config {
	return browser.Config{
		DebuggerURL:       c.Browser.DebuggerURL,
		Launch:            c.Browser.Launch,
		Headless:          c.Browser.Headless,
		ViewportWidth:     c.Browser.ViewportWidth,
		ViewportHeight:    c.Browser.ViewportHeight,
		Mobile:            c.Browser.Mobile,
		NavigationTimeout: c.GetNavigationTimeout(),
	}
}

// debuggerOptions maps the file config onto the debugger.
func debuggerOptions(c *config.Config, delegate console.Delegate) console.Options {
	inst := instrument.DefaultOptions()
	inst.BodyCap = c.Instrument.BodyCap
	inst.StorageDebounce = c.GetStorageDebounce()
	inst.InitialSnapshotDelay = c.GetInitialSnapshotDelay()
	return console.Options{
		Limits: aggregator.Options{
			MaxLogs:     c.Limits.MaxLogs,
			MaxRequests: c.Limits.MaxRequests,
		},
		Pressure: pressure.Options{
			KeepLogs:     c.Pressure.KeepLogs,
			KeepRequests: c.Pressure.KeepRequests,
		},
		Instrument: inst,
		Delegate:   delegate,
	}
}

// pageSession is one debugger attached to one browser page.
type pageSession struct {
	dbg     *console.Debugger
	mgr     *browser.SessionManager
	surface *browser.Surface
}

// attach starts the browser, enables the debugger on a blank page, then
// navigates to url so the document-start hooks see the first script.
// Observers are subscribed before navigation and live until close.
func attach(ctx context.Context, c *config.Config, url string, delegate console.Delegate, observers ...aggregator.Observer) (*pageSession, error) {
	dbg, err := console.New(debuggerOptions(c, delegate))
	if err != nil {
		return nil, err
	}
	for _, obs := range observers {
		dbg.Aggregator().Subscribe(obs)
	}
	mgr := browser.NewSessionManager(browserConfig(c))
	if err := mgr.Start(ctx); err != nil {
		_ = dbg.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	ps := &pageSession{dbg: dbg, mgr: mgr}

	surface, err := mgr.Open(ctx, "")
	if err != nil {
		ps.close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	ps.surface = surface
	if err := dbg.Enable(ctx, surface); err != nil {
		ps.close()
		return nil, fmt.Errorf("failed to enable debugger: %w", err)
	}
	if err := surface.Navigate(ctx, url); err != nil {
		ps.close()
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	logging.Boot("attached to %s", url)
	return ps, nil
}

func (ps *pageSession) close() {
	err := ps.dbg.Close()
	err = errors.Join(err, ps.mgr.Shutdown(context.Background()))
	if err != nil {
		logging.BootWarn("shutdown: %v", err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
