package instrument

import (
	"fmt"
	"io"
	"sync"

	"pagescope/internal/event"
)

// Logger is the page's console.
type Logger interface {
	Log(level event.Level, args ...any)
}

// WriterLogger prints console lines to an io.Writer.
type WriterLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterLogger returns a Logger writing "[level] message" lines to w.
func NewWriterLogger(w io.Writer) *WriterLogger {
	return &WriterLogger{w: w}
}

func (l *WriterLogger) Log(level event.Level, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%s] %s\n", level, event.FormatArgs(args...))
}

// InstrumentedLogger forwards to the wrapped console first, then posts the
// formatted line on the console channel.
type InstrumentedLogger struct {
	next    Logger
	session *Session
	source  string
}

// NewInstrumentedLogger wraps next. source labels entries posted by Log;
// it may be empty.
func NewInstrumentedLogger(next Logger, s *Session, source string) *InstrumentedLogger {
	return &InstrumentedLogger{next: next, session: s, source: source}
}

func (l *InstrumentedLogger) Log(level event.Level, args ...any) {
	if l.next != nil {
		l.next.Log(level, args...)
	}
	l.emit(level, event.FormatArgs(args...), l.source, "")
}

func (l *InstrumentedLogger) Info(args ...any)  { l.Log(event.LevelInfo, args...) }
func (l *InstrumentedLogger) Warn(args ...any)  { l.Log(event.LevelWarn, args...) }
func (l *InstrumentedLogger) Error(args ...any) { l.Log(event.LevelError, args...) }
func (l *InstrumentedLogger) Debug(args ...any) { l.Log(event.LevelDebug, args...) }

// ReportNetwork posts a console line produced by page code as a network
// report. The entry carries the network origin so hosts can filter it
// without inspecting the text.
func (l *InstrumentedLogger) ReportNetwork(level event.Level, args ...any) {
	if l.next != nil {
		l.next.Log(level, args...)
	}
	l.emit(level, event.FormatArgs(args...), l.source, event.OriginNetwork)
}

// ReportError posts an uncaught error. The cross-origin placeholder, a
// "Script error." or empty message with no filename, carries no information
// and is dropped.
func (l *InstrumentedLogger) ReportError(message, filename string, line, col int, stack string) {
	if (message == "Script error." || message == "") && filename == "" {
		return
	}
	if message == "" {
		message = "Unknown error"
	}
	file := filename
	if file == "" {
		file = "unknown"
	}
	stackInfo := "No stack trace"
	if stack != "" {
		stackInfo = "Stack: " + stack
	}
	text := fmt.Sprintf("Uncaught Error: %s at %s:%d:%d %s", message, file, line, col, stackInfo)
	l.emit(event.LevelError, text, filename, "")
}

// ReportRejection posts an unhandled asynchronous failure.
func (l *InstrumentedLogger) ReportRejection(reason any) {
	text := "Unknown reason"
	if reason != nil {
		text = event.Stringify(reason, l.session.Options().StringifyDepth)
	}
	l.emit(event.LevelError, "Unhandled Promise Rejection: "+text, "", "")
}

func (l *InstrumentedLogger) emit(level event.Level, message, source string, origin event.Origin) {
	l.session.Post(event.ChannelConsole, event.ConsoleMessage{
		Level:     string(level),
		Message:   message,
		Source:    source,
		Timestamp: nowMillis(),
		Origin:    string(origin),
	})
}
