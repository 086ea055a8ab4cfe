package escalation

import (
	"time"

	"github.com/benbjohnson/clock"
)

// A Cancellable is a scheduled callback. Stop prevents the callback from running and reports
// whether it did so; calling it after the callback ran or after a previous Stop is a no-op.
type Cancellable interface {
	Stop() bool
}

// TimerService schedules one-shot callbacks.
type TimerService interface {
	Now() time.Time
	ScheduleOnce(delay time.Duration, callback func()) Cancellable
}

type clockTimers struct {
	clock clock.Clock
}

// NewTimerService returns a TimerService on clk. Pass clock.New() in production and a
// clock.Mock in tests.
func NewTimerService(clk clock.Clock) TimerService {
	return clockTimers{clock: clk}
}

func (ct clockTimers) Now() time.Time {
	return ct.clock.Now()
}

func (ct clockTimers) ScheduleOnce(delay time.Duration, callback func()) Cancellable {
	return ct.clock.AfterFunc(delay, callback)
}
