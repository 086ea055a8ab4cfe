package logging

import (
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

var globalLoggerRegistry = newRegistry()

// Registry tracks named loggers so their levels can be changed from configuration after they
// have been handed out.
type Registry struct {
	mu       sync.RWMutex
	loggers  map[string]Logger
	patterns []levelPattern
}

// levelPattern is a validated LoggerPatternConfig.
type levelPattern struct {
	re    *regexp.Regexp
	level Level
}

func newRegistry() *Registry {
	return &Registry{loggers: make(map[string]Logger)}
}

func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
}

func (lr *Registry) loggerNamed(name string) (Logger, bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok := lr.loggers[name]
	return logger, ok
}

// levelFor returns the level of the last pattern matching name.
func levelFor(patterns []levelPattern, name string) (Level, bool) {
	var (
		level   Level
		matched bool
	)
	for _, p := range patterns {
		if p.re.MatchString(name) {
			level, matched = p.level, true
		}
	}
	return level, matched
}

// UpdateConfig replaces the pattern list and re-levels every registered logger. Invalid
// patterns are skipped with a warning; an unknown level fails the whole update. Loggers that no
// pattern matches are reset to INFO.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	patterns := make([]levelPattern, 0, len(logConfig))
	for _, lpc := range logConfig {
		if !validatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
			continue
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return errors.Wrapf(err, "log pattern %q", lpc.Pattern)
		}
		patterns = append(patterns, levelPattern{
			re:    regexp.MustCompile(buildRegexFromPattern(lpc.Pattern)),
			level: level,
		})
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.patterns = patterns
	for name, logger := range lr.loggers {
		level, ok := levelFor(patterns, name)
		if !ok {
			level = INFO
		}
		logger.SetLevel(level)
	}
	return nil
}

// getOrRegister returns the logger already registered under name or, failing that, registers
// logger and levels it by the current patterns. Concurrent callers all get the winner's logger.
func (lr *Registry) getOrRegister(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existing, ok := lr.loggers[name]; ok {
		return existing
	}
	lr.loggers[name] = logger
	if level, ok := levelFor(lr.patterns, name); ok {
		logger.SetLevel(level)
	}
	return logger
}

// RegisterLogger registers a new logger with a given name.
func RegisterLogger(name string, logger Logger) {
	globalLoggerRegistry.registerLogger(name, logger)
}

// UpdateLoggerRegistry applies the configured level patterns to all registered loggers.
func UpdateLoggerRegistry(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalLoggerRegistry.UpdateConfig(logConfig, errorLogger)
}
