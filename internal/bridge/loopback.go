package bridge

import (
	"context"
	"sort"
	"sync"

	"pagescope/internal/event"
	"pagescope/internal/instrument"
	"pagescope/internal/logging"
)

// Evaluator runs host-sent scripts inside an in-process page.
// *instrument.Page implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, code string) (any, error)
}

// Loopback is an in-process Surface for Go-native pages. It is also the
// page's instrument.Poster, so payloads take the same named-binding path a
// browser page uses.
type Loopback struct {
	mu         sync.Mutex
	eval       Evaluator
	bindings   map[string]BindingFunc
	docScripts map[int]string
	nextDoc    int
	lifecycle  chan LifecycleEvent
	closed     bool
}

var _ Surface = (*Loopback)(nil)
var _ instrument.Poster = (*Loopback)(nil)

// NewLoopback returns a surface with no evaluator; see SetEvaluator.
func NewLoopback() *Loopback {
	return &Loopback{
		bindings:   make(map[string]BindingFunc),
		docScripts: make(map[int]string),
		lifecycle:  make(chan LifecycleEvent, 16),
	}
}

// SetEvaluator attaches the page that runs scripts.
func (l *Loopback) SetEvaluator(e Evaluator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.eval = e
}

func (l *Loopback) RunScript(ctx context.Context, code string) (Result, error) {
	l.mu.Lock()
	eval := l.eval
	l.mu.Unlock()
	if eval == nil {
		return Result{}, ErrNotEnabled
	}
	v, err := eval.Evaluate(ctx, code)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &ScriptError{Message: err.Error()}
	}
	if v == nil {
		return UndefinedResult(), nil
	}
	return ValueResult(v), nil
}

func (l *Loopback) AddDocumentScript(_ context.Context, code string) (func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextDoc
	l.nextDoc++
	l.docScripts[id] = code
	return func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.docScripts, id)
		return nil
	}, nil
}

func (l *Loopback) Bind(_ context.Context, name string, fn BindingFunc) (func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bindings[name] = fn
	return func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.bindings, name)
		return nil
	}, nil
}

func (l *Loopback) Lifecycle() <-chan LifecycleEvent { return l.lifecycle }

// Post calls the binding for ch. Like a page calling a missing global, a
// post with no binding is dropped.
func (l *Loopback) Post(ch event.Channel, payload []byte) error {
	l.mu.Lock()
	fn := l.bindings[instrument.BindingName(ch)]
	l.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
	return nil
}

// Bound reports whether a binding named name is registered.
func (l *Loopback) Bound(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.bindings[name]
	return ok
}

// DocumentScripts returns the registered document-start scripts in order.
func (l *Loopback) DocumentScripts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]int, 0, len(l.docScripts))
	for id := range l.docScripts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = l.docScripts[id]
	}
	return out
}

// Navigate starts a new document: document scripts run, then Loaded fires.
func (l *Loopback) Navigate(ctx context.Context, url string) error {
	l.emit(LifecycleEvent{Kind: Navigated, URL: url})
	for _, script := range l.DocumentScripts() {
		if _, err := l.RunScript(ctx, script); err != nil {
			return err
		}
	}
	l.emit(LifecycleEvent{Kind: Loaded, URL: url})
	return nil
}

// SetVisible reports the page moving to or from the background.
func (l *Loopback) SetVisible(visible bool) {
	kind := Hidden
	if visible {
		kind = Visible
	}
	l.emit(LifecycleEvent{Kind: kind})
}

// Close emits Closed and ends the lifecycle stream.
func (l *Loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	select {
	case l.lifecycle <- LifecycleEvent{Kind: Closed}:
	default:
	}
	close(l.lifecycle)
}

func (l *Loopback) emit(ev LifecycleEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.lifecycle <- ev:
	default:
		logging.BridgeDebug("lifecycle buffer full, dropping %s", ev.Kind)
	}
}
