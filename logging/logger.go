package logging

import "context"

// Logger is the sentinel's logging interface. Every component receives one, usually a
// Sublogger of the process logger, and never reaches for a global.
type Logger interface {
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	// CDebugw is Debugw plus the poll cycle ctx was tagged with by WithCycle.
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	SetLevel(level Level)
	GetLevel() Level
	// Sublogger returns the logger named "<name>.<subname>". Asking twice for the same name
	// returns the same logger.
	Sublogger(subname string) Logger
	// AddAppender adds an output to this logger and every logger in its Sublogger tree.
	AddAppender(appender Appender)
}
