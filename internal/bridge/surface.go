package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"pagescope/internal/event"
)

// BindingFunc receives one payload posted by the page on a named binding.
type BindingFunc func(payload []byte)

// Surface is the host's handle on a rendered page.
type Surface interface {
	// RunScript evaluates code in the current document.
	RunScript(ctx context.Context, code string) (Result, error)
	// AddDocumentScript registers code to run at the start of every new
	// document. remove unregisters it.
	AddDocumentScript(ctx context.Context, code string) (remove func() error, err error)
	// Bind exposes a page-global function name that forwards its argument
	// to fn. stop removes the binding.
	Bind(ctx context.Context, name string, fn BindingFunc) (stop func() error, err error)
	// Lifecycle reports navigation and visibility changes. The channel is
	// closed when the surface goes away.
	Lifecycle() <-chan LifecycleEvent
}

// LifecycleKind classifies page lifecycle events.
type LifecycleKind int

const (
	Navigated LifecycleKind = iota
	Loaded
	Hidden
	Visible
	Closed
)

func (k LifecycleKind) String() string {
	switch k {
	case Navigated:
		return "navigated"
	case Loaded:
		return "loaded"
	case Hidden:
		return "hidden"
	case Visible:
		return "visible"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// LifecycleEvent is one page lifecycle change.
type LifecycleEvent struct {
	Kind LifecycleKind
	URL  string
}

// Result is the value a script evaluated to.
type Result struct {
	Value     any
	Undefined bool
}

// ValueResult wraps a decoded value.
func ValueResult(v any) Result { return Result{Value: v} }

// UndefinedResult is what statements and void expressions evaluate to.
func UndefinedResult() Result { return Result{Undefined: true} }

// String renders the result the way a console echoes it.
func (r Result) String() string {
	if r.Undefined {
		return "undefined"
	}
	if r.Value == nil {
		return "null"
	}
	return event.Stringify(r.Value, event.DefaultStringifyDepth)
}

// Bool reports whether the result is the boolean true.
func (r Result) Bool() bool {
	b, ok := r.Value.(bool)
	return ok && b
}

// ScriptError is an exception thrown by evaluated code.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string { return e.Message }

// IsScriptError reports whether err came from the page rather than the
// transport.
func IsScriptError(err error) bool {
	var se *ScriptError
	return errors.As(err, &se)
}

// DecodeResult builds a Result from a JSON value.
func DecodeResult(raw []byte) (Result, error) {
	if len(raw) == 0 {
		return UndefinedResult(), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Result{}, err
	}
	return ValueResult(v), nil
}
