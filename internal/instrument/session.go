package instrument

import (
	"encoding/json"
	"sync"
	"time"

	"pagescope/internal/event"
	"pagescope/internal/logging"
)

// Poster delivers one encoded payload on a boundary channel.
type Poster interface {
	Post(ch event.Channel, payload []byte) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(ch event.Channel, payload []byte) error

func (f PosterFunc) Post(ch event.Channel, payload []byte) error { return f(ch, payload) }

// CaptureFunc reads the page's current storage state.
type CaptureFunc func() event.StorageMessage

// Session is the per-page instrumentation state: whether hooks are installed,
// whether they currently post, and the storage capture timers.
type Session struct {
	opts   Options
	poster Poster

	mu        sync.Mutex
	installed bool
	enabled   bool
	closed    bool
	capture   CaptureFunc
	debounce  *time.Timer
	initial   *time.Timer
}

// NewSession creates an uninstalled session posting through p.
func NewSession(p Poster, opts Options) *Session {
	return &Session{opts: opts.withDefaults(), poster: p}
}

// Options returns the effective options.
func (s *Session) Options() Options { return s.opts }

// Install marks the page instrumented and enabled. On first install it
// schedules the initial storage snapshot and returns true. Later calls only
// re-enable and return false.
func (s *Session) Install(capture CaptureFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.enabled = true
	if s.installed {
		return false
	}
	s.installed = true
	s.capture = capture
	if capture != nil {
		s.initial = time.AfterFunc(s.opts.InitialSnapshotDelay, s.CaptureNow)
	}
	logging.InstrumentDebug("session installed (debounce=%s initial=%s)", s.opts.StorageDebounce, s.opts.InitialSnapshotDelay)
	return true
}

// SetEnabled gates posting without touching the installed hooks.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.installed {
		return
	}
	s.enabled = enabled
	if !enabled && s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
}

// Installed reports whether Install has run.
func (s *Session) Installed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installed
}

// Enabled reports whether observations are currently posted.
func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && !s.closed
}

// Post encodes v and sends it on ch. Nothing is sent while disabled.
func (s *Session) Post(ch event.Channel, v any) {
	if !s.Enabled() || s.poster == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logging.InstrumentWarn("encode %s payload: %v", ch, err)
		return
	}
	if err := s.poster.Post(ch, payload); err != nil {
		logging.InstrumentWarn("post %s payload: %v", ch, err)
	}
}

// ScheduleCapture requests a storage snapshot after the debounce window.
// A burst of mutations yields one snapshot.
func (s *Session) ScheduleCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.enabled || s.capture == nil {
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.opts.StorageDebounce, s.CaptureNow)
}

// CaptureNow reads and posts a full storage snapshot immediately.
func (s *Session) CaptureNow() {
	s.mu.Lock()
	capture := s.capture
	closed := s.closed
	s.mu.Unlock()
	if closed || capture == nil {
		return
	}
	s.Post(event.ChannelStorage, capture())
}

// Close stops pending timers and disables the session for good.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.enabled = false
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.initial != nil {
		s.initial.Stop()
		s.initial = nil
	}
}

func nowMillis() float64 {
	return float64(time.Now().UnixMilli())
}
