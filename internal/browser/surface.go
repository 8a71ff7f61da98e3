package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"pagescope/internal/bridge"
	"pagescope/internal/logging"
)

// Surface is a rod page implementing bridge.Surface.
type Surface struct {
	page       *rod.Page
	navTimeout time.Duration

	events    chan bridge.LifecycleEvent
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}

	emitMu sync.RWMutex
	closed bool

	// visibility listener teardown; nil when it could not be installed
	unwatch []func() error
}

// visibilityBinding receives document.visibilityState on every change.
const visibilityBinding = "__pagescopeVisibility"

const visibilityScript = `(function () {
  if (window.__pagescopeVisibilityHooked) { return; }
  window.__pagescopeVisibilityHooked = true;
  document.addEventListener('visibilitychange', function () {
    try { window.` + visibilityBinding + `(document.visibilityState); } catch (e) {}
  });
})();`

var _ bridge.Surface = (*Surface)(nil)

func newSurface(page *rod.Page, navTimeout time.Duration) *Surface {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Surface{
		page:       page.Context(ctx),
		navTimeout: navTimeout,
		events:     make(chan bridge.LifecycleEvent, 32),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.startEventStream(ctx)
	s.watchVisibility()
	return s
}

// watchVisibility forwards the page's visibilitychange events as Hidden and
// Visible lifecycle events, in the current document and every later one.
func (s *Surface) watchVisibility() {
	stop, err := s.page.Expose(visibilityBinding, func(state gson.JSON) (interface{}, error) {
		if state.Str() == "hidden" {
			s.emit(bridge.LifecycleEvent{Kind: bridge.Hidden})
		} else {
			s.emit(bridge.LifecycleEvent{Kind: bridge.Visible})
		}
		return nil, nil
	})
	if err != nil {
		logging.BrowserWarn("visibility binding unavailable: %v", err)
		return
	}
	remove, err := s.page.EvalOnNewDocument(visibilityScript)
	if err != nil {
		_ = stop()
		logging.BrowserWarn("visibility listener unavailable: %v", err)
		return
	}
	s.unwatch = []func() error{remove, stop}
	if _, err := (proto.RuntimeEvaluate{Expression: visibilityScript}).Call(s.page); err != nil {
		logging.BrowserDebug("visibility listener not installed in current document: %v", err)
	}
}

// Page exposes the underlying rod page.
func (s *Surface) Page() *rod.Page { return s.page }

func (s *Surface) startEventStream(ctx context.Context) {
	targetID := s.page.TargetID
	wait := s.page.EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame != nil && ev.Frame.ParentID == "" {
				s.emit(bridge.LifecycleEvent{Kind: bridge.Navigated, URL: ev.Frame.URL})
			}
		},
		func(ev *proto.PageLoadEventFired) {
			s.emit(bridge.LifecycleEvent{Kind: bridge.Loaded, URL: s.currentURL()})
		},
		func(ev *proto.InspectorDetached) bool {
			s.emit(bridge.LifecycleEvent{Kind: bridge.Closed})
			return true
		},
	)
	go func() {
		defer close(s.done)
		wait()
		logging.BrowserDebug("event stream for %s ended", targetID)
	}()
}

func (s *Surface) currentURL() string {
	info, err := s.page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

func (s *Surface) emit(ev bridge.LifecycleEvent) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		logging.BrowserWarn("lifecycle buffer full, dropping %s", ev.Kind)
	}
}

// Lifecycle streams navigation, load and visibility events. The channel
// stays open until Close.
func (s *Surface) Lifecycle() <-chan bridge.LifecycleEvent { return s.events }

// RunScript evaluates code the way a devtools console does: statements and
// top-level await are allowed and promises are awaited.
func (s *Surface) RunScript(ctx context.Context, code string) (bridge.Result, error) {
	res, err := proto.RuntimeEvaluate{
		Expression:            code,
		IncludeCommandLineAPI: true,
		ReturnByValue:         true,
		AwaitPromise:          true,
		ReplMode:              true,
		UserGesture:           true,
	}.Call(s.page.Context(ctx))
	if err != nil {
		return bridge.Result{}, fmt.Errorf("evaluate: %w", err)
	}
	if res.ExceptionDetails != nil {
		return bridge.Result{}, &bridge.ScriptError{Message: exceptionMessage(res.ExceptionDetails)}
	}
	return resultFrom(res.Result), nil
}

func exceptionMessage(d *proto.RuntimeExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != "" {
		first, _, _ := strings.Cut(d.Exception.Description, "\n")
		return first
	}
	if d.Exception != nil && !d.Exception.Value.Nil() {
		return "Uncaught " + d.Exception.Value.String()
	}
	return d.Text
}

func resultFrom(obj *proto.RuntimeRemoteObject) bridge.Result {
	if obj == nil || obj.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return bridge.UndefinedResult()
	}
	if obj.Subtype == proto.RuntimeRemoteObjectSubtypeNull {
		return bridge.ValueResult(nil)
	}
	if obj.UnserializableValue != "" {
		return bridge.ValueResult(string(obj.UnserializableValue))
	}
	if obj.Value.Nil() && obj.Description != "" {
		return bridge.ValueResult(obj.Description)
	}
	return bridge.ValueResult(obj.Value.Val())
}

// AddDocumentScript registers code to run before any page script in every
// new document.
func (s *Surface) AddDocumentScript(_ context.Context, code string) (func() error, error) {
	remove, err := s.page.EvalOnNewDocument(code)
	if err != nil {
		return nil, fmt.Errorf("eval on new document: %w", err)
	}
	return remove, nil
}

// Bind exposes window[name] to the page. The binding survives reloads until
// stop is called.
func (s *Surface) Bind(_ context.Context, name string, fn bridge.BindingFunc) (func() error, error) {
	stop, err := s.page.Expose(name, func(payload gson.JSON) (interface{}, error) {
		raw, err := payload.MarshalJSON()
		if err != nil {
			return nil, err
		}
		fn(raw)
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("expose %s: %w", name, err)
	}
	return stop, nil
}

// Navigate loads url and waits for the load event.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.navTimeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// Close stops the event stream and closes the page.
func (s *Surface) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, fn := range s.unwatch {
			_ = fn()
		}
		err = s.page.Close()
		s.cancel()
		<-s.done
		s.emitMu.Lock()
		s.closed = true
		close(s.events)
		s.emitMu.Unlock()
	})
	return err
}
