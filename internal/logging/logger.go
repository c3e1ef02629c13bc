// Package logging provides categorized loggers for cdpilot.
// Each category is a named child of one root zap logger; categories can be
// switched off at runtime from the logging section of the config file.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, CLI wiring
	CategorySession   Category = "session"   // Browser connection and page tracking
	CategorySnapshot  Category = "snapshot"  // Accessibility snapshots and refs
	CategoryActions   Category = "actions"   // Action dispatch
	CategoryRelay     Category = "relay"     // Extension relay server
	CategoryTransport Category = "transport" // Raw CDP sockets and discovery
	CategoryConfig    Category = "config"    // Config load and reload
)

// Logger is a printf-style logger bound to one category.
// A Logger with a nil sugar is a no-op.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	root       *zap.Logger
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize installs the root logger and the per-category toggles.
// A nil categories map enables every category.
func Initialize(base *zap.Logger, enabled map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	root = base
	categories = copyToggles(enabled)
	loggers = make(map[Category]*Logger)
}

// SetCategories replaces the category toggles, keeping the root logger.
func SetCategories(enabled map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	categories = copyToggles(enabled)
	loggers = make(map[Category]*Logger)
}

// Reset drops the root logger. Subsequent Get calls return no-op loggers.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	root = nil
	categories = nil
	loggers = make(map[Category]*Logger)
}

func copyToggles(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabledLocked(category)
}

func enabledLocked(category Category) bool {
	if root == nil {
		return false
	}
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging is not initialized or the category is disabled.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{category: category}
	if enabledLocked(category) {
		l.sugar = root.Named(string(category)).Sugar()
	}
	loggers[category] = l
	return l
}

// Enabled reports whether the logger writes anything.
func (l *Logger) Enabled() bool {
	return l.sugar != nil
}

// With returns a logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message (always logged if the category is enabled)
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Sync flushes the root logger.
func Sync() {
	mu.RLock()
	base := root
	mu.RUnlock()
	if base != nil {
		_ = base.Sync()
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

func Boot(format string, args ...interface{})     { Get(CategoryBoot).Info(format, args...) }
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionWarn(format string, args ...interface{})  { Get(CategorySession).Warn(format, args...) }

func SnapshotDebug(format string, args ...interface{}) { Get(CategorySnapshot).Debug(format, args...) }

func Actions(format string, args ...interface{})      { Get(CategoryActions).Info(format, args...) }
func ActionsDebug(format string, args ...interface{}) { Get(CategoryActions).Debug(format, args...) }
func ActionsWarn(format string, args ...interface{})  { Get(CategoryActions).Warn(format, args...) }

func Relay(format string, args ...interface{})      { Get(CategoryRelay).Info(format, args...) }
func RelayDebug(format string, args ...interface{}) { Get(CategoryRelay).Debug(format, args...) }
func RelayWarn(format string, args ...interface{})  { Get(CategoryRelay).Warn(format, args...) }
func RelayError(format string, args ...interface{}) { Get(CategoryRelay).Error(format, args...) }

func TransportDebug(format string, args ...interface{}) { Get(CategoryTransport).Debug(format, args...) }

func Config(format string, args ...interface{})     { Get(CategoryConfig).Info(format, args...) }
func ConfigWarn(format string, args ...interface{}) { Get(CategoryConfig).Warn(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
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
