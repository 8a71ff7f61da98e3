// Package logging provides config-driven categorized diagnostic logging for pagescope.
// Every category writes through a single zap core (stderr or a file).
// Logging is controlled by debug_mode in pagescope.yaml - when false, nothing is written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config loading
	CategoryBridge     Category = "bridge"     // Channel dispatch, injection, decode drops
	CategoryInstrument Category = "instrument" // Page-side hooks and decorators
	CategoryAggregator Category = "aggregator" // Bounded stores and correlation
	CategoryPressure   Category = "pressure"   // Memory pressure compaction
	CategoryCommand    Category = "command"    // Interactive command evaluation
	CategoryOverlay    Category = "overlay"    // Terminal overlay
	CategoryBrowser    Category = "browser"    // Rod surface, CDP lifecycle
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	DebugMode  bool
	Level      string          // debug, info, warn, error
	Format     string          // json, text
	File       string          // empty = stderr
	Categories map[string]bool // per-category toggles, nil = all enabled
}

// Logger writes diagnostics for one category.
// The zap core is resolved at call time so Initialize and SetDebugMode
// take effect for loggers handed out earlier.
type Logger struct {
	category Category
}

var (
	debugMode atomic.Bool

	coreMu     sync.RWMutex
	base       = zap.NewNop()
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	categories map[string]bool
	logFile    *os.File
)

// Initialize builds the shared zap core from opts.
// Should be called once at startup; calling it again replaces the core.
func Initialize(opts Options) error {
	lvl, err := zapcore.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if opts.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	var file *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.AddSync(file)
	}

	coreMu.Lock()
	level.SetLevel(lvl)
	closeFileLocked()
	logFile = file
	base = zap.New(zapcore.NewCore(enc, sink, level))
	categories = opts.Categories
	coreMu.Unlock()

	debugMode.Store(opts.DebugMode)
	if opts.DebugMode {
		Boot("logging initialized (level=%s format=%s file=%q)", lvl, opts.Format, opts.File)
	}
	return nil
}

// UseCore replaces the shared core. Tests use it with zaptest/observer.
func UseCore(core zapcore.Core) {
	coreMu.Lock()
	defer coreMu.Unlock()
	base = zap.New(core)
}

// SetDebugMode flips the global debug flag.
func SetDebugMode(enabled bool) {
	debugMode.Store(enabled)
}

// IsDebugMode returns whether diagnostic logging is enabled
func IsDebugMode() bool {
	return debugMode.Load()
}

// SetLevel changes the minimum level at runtime.
func SetLevel(lvl string) {
	if parsed, err := zapcore.ParseLevel(lvl); err == nil {
		level.SetLevel(parsed)
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	if !debugMode.Load() {
		return false
	}

	coreMu.RLock()
	defer coreMu.RUnlock()
	if categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns a logger for the given category.
func Get(category Category) *Logger {
	return &Logger{category: category}
}

func (l *Logger) target() *zap.Logger {
	if !IsCategoryEnabled(l.category) {
		return nil
	}
	coreMu.RLock()
	defer coreMu.RUnlock()
	return base.With(zap.String("cat", string(l.category)))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if z := l.target(); z != nil {
		z.Debug(fmt.Sprintf(format, args...))
	}
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	if z := l.target(); z != nil {
		z.Info(fmt.Sprintf(format, args...))
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if z := l.target(); z != nil {
		z.Warn(fmt.Sprintf(format, args...))
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if z := l.target(); z != nil {
		z.Error(fmt.Sprintf(format, args...))
	}
}

// WithFields returns a logger that attaches structured fields to every entry.
func (l *Logger) WithFields(fields map[string]interface{}) *FieldLogger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &FieldLogger{logger: l, fields: zf}
}

// FieldLogger provides structured logging with key-value context
type FieldLogger struct {
	logger *Logger
	fields []zap.Field
}

func (f *FieldLogger) Debug(format string, args ...interface{}) {
	if z := f.logger.target(); z != nil {
		z.Debug(fmt.Sprintf(format, args...), f.fields...)
	}
}

func (f *FieldLogger) Info(format string, args ...interface{}) {
	if z := f.logger.target(); z != nil {
		z.Info(fmt.Sprintf(format, args...), f.fields...)
	}
}

func (f *FieldLogger) Warn(format string, args ...interface{}) {
	if z := f.logger.target(); z != nil {
		z.Warn(fmt.Sprintf(format, args...), f.fields...)
	}
}

// Sync flushes buffered entries and closes the log file (call at shutdown)
func Sync() {
	coreMu.Lock()
	defer coreMu.Unlock()
	_ = base.Sync()
	closeFileLocked()
	base = zap.NewNop()
}

func closeFileLocked() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootWarn logs a warning to the boot category
func BootWarn(format string, args ...interface{}) {
	Get(CategoryBoot).Warn(format, args...)
}

// Bridge logs to the bridge category
func Bridge(format string, args ...interface{}) {
	Get(CategoryBridge).Info(format, args...)
}

// BridgeDebug logs debug to the bridge category
func BridgeDebug(format string, args ...interface{}) {
	Get(CategoryBridge).Debug(format, args...)
}

// BridgeWarn logs a warning to the bridge category
func BridgeWarn(format string, args ...interface{}) {
	Get(CategoryBridge).Warn(format, args...)
}

// InstrumentDebug logs debug to the instrument category
func InstrumentDebug(format string, args ...interface{}) {
	Get(CategoryInstrument).Debug(format, args...)
}

// InstrumentWarn logs a warning to the instrument category
func InstrumentWarn(format string, args ...interface{}) {
	Get(CategoryInstrument).Warn(format, args...)
}

// AggregatorDebug logs debug to the aggregator category
func AggregatorDebug(format string, args ...interface{}) {
	Get(CategoryAggregator).Debug(format, args...)
}

// Pressure logs to the pressure category
func Pressure(format string, args ...interface{}) {
	Get(CategoryPressure).Info(format, args...)
}

// Command logs to the command category
func Command(format string, args ...interface{}) {
	Get(CategoryCommand).Info(format, args...)
}

// CommandError logs an error to the command category
func CommandError(format string, args ...interface{}) {
	Get(CategoryCommand).Error(format, args...)
}

// Browser logs to the browser category
func Browser(format string, args ...interface{}) {
	Get(CategoryBrowser).Info(format, args...)
}

// BrowserDebug logs debug to the browser category
func BrowserDebug(format string, args ...interface{}) {
	Get(CategoryBrowser).Debug(format, args...)
}

// BrowserWarn logs a warning to the browser category
func BrowserWarn(format string, args ...interface{}) {
	Get(CategoryBrowser).Warn(format, args...)
}

// OverlayDebug logs debug to the overlay category
func OverlayDebug(format string, args ...interface{}) {
	Get(CategoryOverlay).Debug(format, args...)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
