package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. A `zapcore.Core` satisfies it, which is how the
// observed test logger collects entries.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
}

// formatLine renders an entry as tab separated columns: time, level, logger name, caller and
// message. Fields follow as one JSON object, in the order they were logged.
func formatLine(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	cols := make([]string, 0, 6)
	cols = append(cols, entry.Time.Format(timeFormat), strings.ToUpper(entry.Level.String()), entry.LoggerName)
	if entry.Caller.Defined {
		cols = append(cols, entry.Caller.TrimmedPath())
	}
	cols = append(cols, entry.Message)
	if len(fields) == 0 {
		return strings.Join(cols, "\t"), nil
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := enc.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return strings.Join(cols, "\t"), err
	}
	defer buf.Free()
	cols = append(cols, buf.String())
	return strings.Join(cols, "\t"), nil
}

// ConsoleAppender writes one formatted line per entry to the wrapped writer.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender creates a new appender that writes to stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender creates a new appender that writes to w.
func NewWriterAppender(w io.Writer) ConsoleAppender {
	return ConsoleAppender{w}
}

func (a ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatLine(entry, fields)
	if _, werr := fmt.Fprintln(a.Writer, line); werr != nil {
		return werr
	}
	return err
}

// FileAppender writes console formatted lines into a size-rotated log file.
type FileAppender struct {
	ConsoleAppender
	file *lumberjack.Logger
}

// NewFileAppender returns an appender writing to `filename`. The file is rotated once it
// reaches `maxSizeMB` and at most `maxBackups` rotated files are kept.
func NewFileAppender(filename string, maxSizeMB, maxBackups int) *FileAppender {
	file := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	return &FileAppender{ConsoleAppender: ConsoleAppender{file}, file: file}
}

// Close releases the underlying file.
func (fa *FileAppender) Close() error {
	return fa.file.Close()
}
