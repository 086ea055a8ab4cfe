package monitor

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// DefaultPollInterval is how often the printer is polled.
const DefaultPollInterval = 5 * time.Second

// Scheduler calls Tick on a fixed interval. A tick that runs longer than the interval delays
// the next one instead of overlapping it.
type Scheduler struct {
	scheduler gocron.Scheduler
	monitor   *Monitor
	interval  time.Duration
	logger    logging.Logger
	jobID     uuid.UUID

	cancelCtx  context.Context
	cancelFunc func()
}

// NewScheduler returns a stopped scheduler for m. Tick errors are logged.
func NewScheduler(m *Monitor, interval time.Duration, logger logging.Logger) (*Scheduler, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	s := &Scheduler{monitor: m, interval: interval, logger: logger}
	scheduler, err := gocron.NewScheduler(gocron.WithLogger(gocronLogger{logger}))
	if err != nil {
		return nil, errors.Wrap(err, "creating scheduler")
	}
	s.scheduler = scheduler

	j, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.tick),
		gocron.WithName("poll"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, jobName string, err error) {
				logger.Warnw("poll cycle failed", "job", jobName, "error", err)
			}),
			gocron.AfterJobRunsWithPanic(func(_ uuid.UUID, jobName string, recoverData any) {
				logger.Errorw("poll cycle panicked", "job", jobName, "panic", recoverData)
			}),
		),
	)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "creating poll job"), scheduler.Shutdown())
	}
	s.jobID = j.ID()
	s.cancelCtx, s.cancelFunc = context.WithCancel(context.Background())
	return s, nil
}

func (s *Scheduler) tick() error {
	ctx, cancel := context.WithTimeout(s.cancelCtx, s.interval+time.Minute)
	defer cancel()
	return s.monitor.Tick(ctx)
}

// Start begins polling.
func (s *Scheduler) Start() {
	s.logger.Infow("polling printer", "interval", s.interval, "job", s.jobID)
	s.scheduler.Start()
}

// Shutdown cancels a running tick and stops the scheduler.
func (s *Scheduler) Shutdown() error {
	s.cancelFunc()
	return s.scheduler.Shutdown()
}

// gocronLogger routes scheduler logs to a Logger.
type gocronLogger struct {
	logger logging.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.logger.Debugw(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.logger.Errorw(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.logger.Infow(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.logger.Warnw(msg, args...) }
