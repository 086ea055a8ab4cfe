// Package logging contains the structured logger used throughout the sentinel. Loggers are named
// by dotted paths such as "sentinel.monitor.warmup" and their levels can be set per name from the
// config file.
package logging

import (
	"testing"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var debugForced = atomic.NewBool(false)

// SetDebug makes every logger emit debug lines regardless of its own level. It reports whether
// the setting changed.
func SetDebug(on bool) bool {
	return debugForced.Swap(on) != on
}

// DebugForced reports whether SetDebug(true) is in effect.
func DebugForced() bool {
	return debugForced.Load()
}

// NewLogger returns a logger that writes Info and above to stdout in UTC.
func NewLogger(name string) Logger {
	return newNamedLogger(name, INFO, true, NewStdoutAppender())
}

// NewBlankLogger returns a Debug level logger with no outputs.
func NewBlankLogger(name string) Logger {
	return newNamedLogger(name, DEBUG, true)
}

// NewTestLogger returns a Debug level logger that writes to tb in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also keeps every entry in memory for
// assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	return newNamedLogger("", DEBUG, false, testAppender{tb}, core), logs
}
