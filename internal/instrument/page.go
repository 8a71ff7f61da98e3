package instrument

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"pagescope/internal/event"
)

// ErrUndefined is returned when a command names nothing the page defines.
var ErrUndefined = errors.New("not defined")

// PageConfig describes a Go-native page.
type PageConfig struct {
	URL       string
	Poster    Poster
	Options   Options
	Console   Logger            // original console; nil discards
	Transport http.RoundTripper // nil uses http.DefaultTransport
}

// Page is a Go-native page whose console, fetcher and storage areas are
// instrumented. It also evaluates the scripts a host sends it: the hook
// script, the enable/disable toggles, the readiness probe, and lookups of
// globals registered with Define.
type Page struct {
	Session        *Session
	Console        *InstrumentedLogger
	Fetch          *InstrumentedFetcher
	LocalStorage   *InstrumentedStore
	SessionStorage *InstrumentedStore

	jar *cookiejar.Jar

	mu      sync.RWMutex
	url     *url.URL
	globals map[string]any
}

// NewPage builds a page at cfg.URL. Hooks post nothing until installed.
func NewPage(cfg PageConfig) (*Page, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	s := NewSession(cfg.Poster, cfg.Options)
	p := &Page{
		Session:        s,
		Console:        NewInstrumentedLogger(cfg.Console, s, u.String()),
		Fetch:          NewInstrumentedFetcher(&http.Client{Transport: transport, Jar: jar}, s),
		LocalStorage:   NewInstrumentedStore(NewMemoryStore(), s),
		SessionStorage: NewInstrumentedStore(NewMemoryStore(), s),
		jar:            jar,
		url:            u,
		globals:        make(map[string]any),
	}
	return p, nil
}

// URL returns the page's current address.
func (p *Page) URL() *url.URL {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u := *p.url
	return &u
}

// Navigate moves the page to a new address on the same document.
func (p *Page) Navigate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
	return nil
}

// Install runs the instrumentation. It reports false when the page was
// already instrumented, in which case it only re-enables posting.
func (p *Page) Install() bool {
	return p.Session.Install(p.snapshot)
}

// SetCookie stores a cookie for the page's address.
func (p *Page) SetCookie(name, value string) {
	p.jar.SetCookies(p.URL(), []*http.Cookie{{Name: name, Value: value}})
}

// Cookies renders the page's cookies as "a=1; b=2".
func (p *Page) Cookies() string {
	cookies := p.jar.Cookies(p.URL())
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (p *Page) snapshot() event.StorageMessage {
	return event.StorageMessage{
		LocalStorage:   Entries(p.LocalStorage),
		SessionStorage: Entries(p.SessionStorage),
		Cookies:        p.Cookies(),
	}
}

// Define registers a global a command can read. A value of type
// func() (any, error) is called when the command is "name()".
func (p *Page) Define(name string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globals[name] = v
}

// Evaluate runs code sent by the host. Scripts that are not instrumentation
// control scripts are treated as a global lookup or a zero-argument call.
func (p *Page) Evaluate(ctx context.Context, code string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	switch {
	case code == ProbeScript:
		return !p.Session.Installed(), nil
	case code == EnabledScript(true):
		p.Session.SetEnabled(true)
		return true, nil
	case code == EnabledScript(false):
		p.Session.SetEnabled(false)
		return false, nil
	case isHookScript(code):
		p.Install()
		return nil, nil
	}

	name, call := strings.CutSuffix(strings.TrimSuffix(code, ";"), "()")
	p.mu.RLock()
	v, ok := p.globals[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ReferenceError: %s is %w", name, ErrUndefined)
	}
	if fn, isFunc := v.(func() (any, error)); isFunc {
		if !call {
			return "[Function]", nil
		}
		return fn()
	}
	if call {
		return nil, fmt.Errorf("TypeError: %s is not a function", name)
	}
	return v, nil
}

func isHookScript(code string) bool {
	return strings.Contains(code, "window.__pagescopeInstalled = true;")
}
