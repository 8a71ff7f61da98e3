// Package instrument observes console output, network traffic and storage
// mutations inside a page and posts them to the host over the three boundary
// channels.
//
// Real browser pages are instrumented by the embedded hook script. Go-native
// pages are instrumented by wrapping their Logger, Fetcher and KeyValueStore
// in the decorators of this package, which share the same session semantics.
package instrument

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"pagescope/internal/event"
)

//go:embed hook.js
var hookSource string

var (
	hookOnce sync.Once
	hookTmpl *template.Template
	hookErr  error
)

// Options tunes what the instrumentation captures.
type Options struct {
	BodyCap              int
	StorageDebounce      time.Duration
	InitialSnapshotDelay time.Duration
	StringifyDepth       int
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		BodyCap:              5000,
		StorageDebounce:      10 * time.Millisecond,
		InitialSnapshotDelay: 500 * time.Millisecond,
		StringifyDepth:       event.DefaultStringifyDepth,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BodyCap <= 0 {
		o.BodyCap = d.BodyCap
	}
	if o.StorageDebounce <= 0 {
		o.StorageDebounce = d.StorageDebounce
	}
	if o.InitialSnapshotDelay <= 0 {
		o.InitialSnapshotDelay = d.InitialSnapshotDelay
	}
	if o.StringifyDepth <= 0 {
		o.StringifyDepth = d.StringifyDepth
	}
	return o
}

// BindingName is the page-global function a channel posts through.
func BindingName(ch event.Channel) string {
	name := string(ch)
	if name == "" {
		return "pagescope"
	}
	return "pagescope" + strings.ToUpper(name[:1]) + name[1:]
}

type hookData struct {
	BodyCap               int
	StorageDebounceMillis int64
	InitialSnapshotMillis int64
	StringifyDepth        int
	CircularSentinel      string
	ConsoleBinding        string
	NetworkBinding        string
	StorageBinding        string
}

// Script renders the page hook with opts. The script is safe to evaluate
// repeatedly: a page that already carries it is only re-enabled.
func Script(opts Options) (string, error) {
	hookOnce.Do(func() {
		hookTmpl, hookErr = template.New("hook.js").Delims("{{%", "%}}").Parse(hookSource)
	})
	if hookErr != nil {
		return "", fmt.Errorf("parse hook template: %w", hookErr)
	}

	opts = opts.withDefaults()
	var b strings.Builder
	err := hookTmpl.Execute(&b, hookData{
		BodyCap:               opts.BodyCap,
		StorageDebounceMillis: opts.StorageDebounce.Milliseconds(),
		InitialSnapshotMillis: opts.InitialSnapshotDelay.Milliseconds(),
		StringifyDepth:        opts.StringifyDepth,
		CircularSentinel:      event.CircularSentinel,
		ConsoleBinding:        BindingName(event.ChannelConsole),
		NetworkBinding:        BindingName(event.ChannelNetwork),
		StorageBinding:        BindingName(event.ChannelStorage),
	})
	if err != nil {
		return "", fmt.Errorf("render hook: %w", err)
	}
	return b.String(), nil
}

// ProbeScript reports whether direct evaluation of the hook is needed.
// It evaluates to true only when the document has finished loading and the
// page has never been instrumented.
const ProbeScript = `(() => document.readyState !== "loading" && typeof window.__pagescopeInstalled === "undefined")()`

// EnabledScript sets the page-side enabled flag. It is a no-op on pages that
// never ran the hook.
func EnabledScript(enabled bool) string {
	return fmt.Sprintf(`(() => { if (typeof window.__pagescopeInstalled !== "undefined") { window.__pagescopeEnabled = %t; } return %t; })()`, enabled, enabled)
}
