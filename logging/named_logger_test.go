package logging

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type countdownState struct {
	ID      string
	Armed   bool
	private int
}

// assertLogMatches fuzzy matches the next line of actual. The timestamp is checked by length
// and the caller by filename only.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	test.That(t, actualParts[1:3], test.ShouldResemble, expectedParts[1:3])

	actualFile, actualLine, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFile, _, _ := strings.Cut(expectedParts[3], ":")
	test.That(t, actualFile, test.ShouldEqual, expectedFile)
	_, err = strconv.Atoi(actualLine)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	var expectedFields, actualFields map[string]any
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedFields), test.ShouldBeNil)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualFields), test.ShouldBeNil)
	test.That(t, actualFields, test.ShouldResemble, expectedFields)
}

func newBufferLogger(name string, level Level) (Logger, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return newNamedLogger(name, level, true, NewWriterAppender(out)), out
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, out := newBufferLogger("sentinel", DEBUG)

	logger.Info("frame acquired")
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tINFO\tsentinel\tlogging/named_logger_test.go:1\tframe acquired")

	logger.Infof("Detected %d issues", 3)
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tINFO\tsentinel\tlogging/named_logger_test.go:1\tDetected 3 issues")

	logger.Infow("countdown armed", "delay", "2m0s")
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tINFO\tsentinel\tlogging/named_logger_test.go:1\tcountdown armed\t{\"delay\":\"2m0s\"}")

	// only exported struct fields are serialized
	logger.Infow("state", "countdown", countdownState{"abc", true, 7})
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tINFO\tsentinel\tlogging/named_logger_test.go:1\tstate\t{\"countdown\":{\"ID\":\"abc\",\"Armed\":true}}")

	logger.Warnw("unpaired", "dangling")
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tWARN\tsentinel\tlogging/named_logger_test.go:1\tunpaired\t{\"dangling\":\"unpaired log key\"}")
}

func TestLevelFiltering(t *testing.T) {
	logger, out := newBufferLogger("sentinel", WARN)

	logger.Debugw("dropped")
	logger.Info("dropped")
	test.That(t, out.Len(), test.ShouldEqual, 0)

	logger.Errorw("kept")
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tERROR\tsentinel\tlogging/named_logger_test.go:1\tkept")

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debugf("now %s", "kept")
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tDEBUG\tsentinel\tlogging/named_logger_test.go:1\tnow kept")
}

func TestSetDebug(t *testing.T) {
	logger, out := newBufferLogger("sentinel", INFO)
	defer SetDebug(false)

	test.That(t, SetDebug(true), test.ShouldBeTrue)
	test.That(t, SetDebug(true), test.ShouldBeFalse)
	test.That(t, DebugForced(), test.ShouldBeTrue)
	logger.Debugw("forced")
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tDEBUG\tsentinel\tlogging/named_logger_test.go:1\tforced")

	test.That(t, SetDebug(false), test.ShouldBeTrue)
	logger.Debugw("dropped")
	test.That(t, out.Len(), test.ShouldEqual, 0)
}

func TestCycleField(t *testing.T) {
	logger, out := newBufferLogger("sentinel", DEBUG)

	_, ok := CycleFrom(t.Context())
	test.That(t, ok, test.ShouldBeFalse)
	logger.CDebugw(t.Context(), "untagged", "count", 2)
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tDEBUG\tsentinel\tlogging/named_logger_test.go:1\tuntagged\t{\"count\":2}")

	ctx := WithCycle(t.Context(), 41)
	cycle, ok := CycleFrom(ctx)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cycle, test.ShouldEqual, uint64(41))
	logger.CDebugw(ctx, "tagged", "count", 2)
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tDEBUG\tsentinel\tlogging/named_logger_test.go:1\ttagged\t{\"count\":2,\"cycle\":41}")

	logger.SetLevel(INFO)
	logger.CDebugw(ctx, "dropped")
	test.That(t, out.Len(), test.ShouldEqual, 0)
}

func TestSublogger(t *testing.T) {
	logger, out := newBufferLogger("sentinel", INFO)

	sub := logger.Sublogger("monitor-naming-test")
	subsub := sub.Sublogger("advisory")
	subsub.Info("hello")
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tINFO\tsentinel.monitor-naming-test.advisory\tlogging/named_logger_test.go:1\thello")

	registered, ok := globalLoggerRegistry.loggerNamed("sentinel.monitor-naming-test")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, registered, test.ShouldEqual, sub)
	test.That(t, logger.Sublogger("monitor-naming-test"), test.ShouldEqual, sub)

	// an appender added to the parent reaches subloggers made before it
	late := &bytes.Buffer{}
	logger.AddAppender(NewWriterAppender(late))
	subsub.Info("both")
	assertLogMatches(t, out,
		"2026-03-01T09:12:09.459Z\tINFO\tsentinel.monitor-naming-test.advisory\tlogging/named_logger_test.go:1\tboth")
	assertLogMatches(t, late,
		"2026-03-01T09:12:09.459Z\tINFO\tsentinel.monitor-naming-test.advisory\tlogging/named_logger_test.go:1\tboth")
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Warnw("stop failed", "error", "boom")

	test.That(t, logs.FilterMessage("stop failed").Len(), test.ShouldEqual, 1)
	entry := logs.All()[0]
	test.That(t, entry.Level.String(), test.ShouldEqual, "warn")
	test.That(t, entry.ContextMap()["error"], test.ShouldEqual, "boom")
	test.That(t, entry.Caller.TrimmedPath(), test.ShouldStartWith, "logging/named_logger_test.go:")
}

func TestLevelFromString(t *testing.T) {
	for input, expected := range map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"Warn":    WARN,
		"warning": WARN,
		"error":   ERROR,
	} {
		level, err := LevelFromString(input)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, level.UnmarshalJSON([]byte(`"error"`)), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, ERROR)
	out, err := level.MarshalJSON()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"Error"`)
}
