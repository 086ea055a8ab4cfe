package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender routes lines through tb.Log so each one is attributed to the test that wrote it.
type testAppender struct {
	tb testing.TB
}

func (a testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	a.tb.Helper()
	line, err := formatLine(entry, fields)
	a.tb.Log(line)
	return err
}
