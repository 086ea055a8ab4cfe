package logging

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// callerSkip reaches past emit and the exported method that called it.
const callerSkip = 2

// appenderSet is shared by a logger and all of its subloggers.
type appenderSet struct {
	mu   sync.RWMutex
	list []Appender
}

func (s *appenderSet) add(a Appender) {
	s.mu.Lock()
	s.list = append(s.list, a)
	s.mu.Unlock()
}

func (s *appenderSet) write(entry zapcore.Entry, fields []zapcore.Field) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.list {
		if err := a.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, "log appender failed:", err)
		}
	}
}

type namedLogger struct {
	name      string
	level     AtomicLevel
	utc       bool
	appenders *appenderSet
}

func newNamedLogger(name string, level Level, utc bool, appenders ...Appender) *namedLogger {
	return &namedLogger{
		name:      name,
		level:     NewAtomicLevelAt(level),
		utc:       utc,
		appenders: &appenderSet{list: appenders},
	}
}

func (l *namedLogger) SetLevel(level Level) {
	l.level.Set(level)
}

func (l *namedLogger) GetLevel() Level {
	return l.level.Get()
}

func (l *namedLogger) AddAppender(appender Appender) {
	l.appenders.add(appender)
}

func (l *namedLogger) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	child := &namedLogger{
		name:      name,
		level:     NewAtomicLevelAt(l.level.Get()),
		utc:       l.utc,
		appenders: l.appenders,
	}
	return globalLoggerRegistry.getOrRegister(name, child)
}

func (l *namedLogger) enabled(level Level) bool {
	return debugForced.Load() || level >= l.level.Get()
}

// emit must be called directly from an exported method for the caller column to point at the
// logging call site.
func (l *namedLogger) emit(level Level, msg string, fields []zapcore.Field) {
	now := time.Now()
	if l.utc {
		now = now.UTC()
	}
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       now,
		LoggerName: l.name,
		Message:    msg,
	}
	if pc, file, line, ok := runtime.Caller(callerSkip); ok {
		entry.Caller = zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	}
	l.appenders.write(entry, fields)
}

// fieldsOf pairs up keys and values. A trailing key with no value is kept and flagged.
func fieldsOf(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.String(key, "unpaired log key"))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (l *namedLogger) Debugf(template string, args ...interface{}) {
	if l.enabled(DEBUG) {
		l.emit(DEBUG, fmt.Sprintf(template, args...), nil)
	}
}

func (l *namedLogger) Debugw(msg string, keysAndValues ...interface{}) {
	if l.enabled(DEBUG) {
		l.emit(DEBUG, msg, fieldsOf(keysAndValues))
	}
}

func (l *namedLogger) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if !l.enabled(DEBUG) {
		return
	}
	fields := fieldsOf(keysAndValues)
	if cycle, ok := CycleFrom(ctx); ok {
		fields = append(fields, zap.Uint64("cycle", cycle))
	}
	l.emit(DEBUG, msg, fields)
}

func (l *namedLogger) Info(args ...interface{}) {
	if l.enabled(INFO) {
		l.emit(INFO, fmt.Sprint(args...), nil)
	}
}

func (l *namedLogger) Infof(template string, args ...interface{}) {
	if l.enabled(INFO) {
		l.emit(INFO, fmt.Sprintf(template, args...), nil)
	}
}

func (l *namedLogger) Infow(msg string, keysAndValues ...interface{}) {
	if l.enabled(INFO) {
		l.emit(INFO, msg, fieldsOf(keysAndValues))
	}
}

func (l *namedLogger) Warnw(msg string, keysAndValues ...interface{}) {
	if l.enabled(WARN) {
		l.emit(WARN, msg, fieldsOf(keysAndValues))
	}
}

func (l *namedLogger) Errorw(msg string, keysAndValues ...interface{}) {
	if l.enabled(ERROR) {
		l.emit(ERROR, msg, fieldsOf(keysAndValues))
	}
}
