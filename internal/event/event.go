// Package event defines the vocabulary shared by the page-side instrumentation
// and the host-side aggregator: log entries, network requests, storage
// snapshots, and the per-channel wire payloads that carry them across the
// page/host boundary.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel names a one-directional stream of events from page to host.
type Channel string

const (
	ChannelConsole Channel = "console"
	ChannelNetwork Channel = "network"
	ChannelStorage Channel = "storage"
)

// Channels returns the three boundary channels in dispatch order.
func Channels() []Channel {
	return []Channel{ChannelConsole, ChannelNetwork, ChannelStorage}
}

// Level is the severity of a console entry.
type Level string

const (
	LevelLog   Level = "log"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// AllLevels lists every level in display order.
var AllLevels = []Level{LevelLog, LevelInfo, LevelWarn, LevelError, LevelDebug}

// ParseLevel maps a wire level to a Level. "trace" is accepted as an alias
// for LevelLog.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "log", "trace":
		return LevelLog, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "debug":
		return LevelDebug, true
	}
	return "", false
}

// Origin tags where a log entry was produced.
type Origin string

const (
	OriginPage    Origin = "page"    // console call or uncaught error in the page
	OriginNetwork Origin = "network" // emitted by page code as a network report
	OriginCommand Origin = "command" // echo or result of an interactive command
	OriginHost    Origin = "host"    // added directly through the host API
)

// LogEntry is one captured console line. Entries are immutable and
// identified by ID only: two entries with the same text are distinct.
type LogEntry struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Origin    Origin    `json:"origin,omitempty"`
}

// NewLogEntry stamps a fresh entry with a unique id and the current time.
func NewLogEntry(level Level, message, source string, origin Origin) LogEntry {
	return LogEntry{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
		Source:    source,
		Origin:    origin,
	}
}

// Equal compares entries by identity.
func (e LogEntry) Equal(other LogEntry) bool {
	return e.ID == other.ID
}

// FormattedTimestamp renders the time of day with milliseconds.
func (e LogEntry) FormattedTimestamp() string {
	return e.Timestamp.Format("15:04:05.000")
}

// MillisToTime converts a JavaScript epoch-millisecond timestamp.
func MillisToTime(ms float64) time.Time {
	return time.UnixMilli(int64(ms))
}
