package homeassistant

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

var (
	// InitialRetryWait is the wait before the first reconnect attempt.
	// public for tests.
	InitialRetryWait = time.Second
	// RetryExponentialFactor defines the factor by which the retry wait time increases.
	// public for tests.
	RetryExponentialFactor = 2
)

const maxRetryInterval = 5 * time.Minute

// errSessionEnded marks a connection that was established and later dropped.
var errSessionEnded = errors.New("websocket session ended")

func newExponentialRetry(
	ctx context.Context,
	clock clock.Clock,
	logger logging.Logger,
	name string,
	fun func(context.Context) error,
) exponentialRetry {
	return exponentialRetry{ctx: ctx, clock: clock, logger: logger, name: name, fun: fun}
}

type exponentialRetry struct {
	ctx    context.Context
	clock  clock.Clock
	logger logging.Logger
	name   string
	fun    func(context.Context) error
}

// run calls fun until it succeeds, waiting exponentially longer between failed attempts up to
// maxRetryInterval. A dropped session restarts the backoff from InitialRetryWait.
// returns nil if completed successfully
// returns the context error if ctx is cancelled
// returns terminal errors unchanged.
func (er exponentialRetry) run() error {
	var nextWait time.Duration
	for {
		err := er.fun(er.ctx)
		switch {
		case err == nil:
			er.logger.Debugf("exponentialRetry.run %s succeeded", er.name)
			return nil
		case er.ctx.Err() != nil:
			return er.ctx.Err()
		case terminalError(err):
			er.logger.Errorw("giving up", "name", er.name, "error", err)
			return err
		case errors.Is(err, errSessionEnded):
			nextWait = 0
		default:
			er.logger.Warnw("attempt failed", "name", er.name, "error", err)
		}

		nextWait = getNextWait(nextWait)
		er.logger.Debugf("exponentialRetry.run %s will retry in: %s", er.name, nextWait)
		timer := er.clock.Timer(nextWait)
		select {
		case <-er.ctx.Done():
			timer.Stop()
			return er.ctx.Err()
		case <-timer.C:
		}
	}
}

func getNextWait(lastWait time.Duration) time.Duration {
	if lastWait == time.Duration(0) {
		return InitialRetryWait
	}

	nextWait := lastWait * time.Duration(RetryExponentialFactor)
	if nextWait > maxRetryInterval {
		return maxRetryInterval
	}
	return nextWait
}

// terminalError returns true if retrying will never succeed.
func terminalError(err error) bool {
	return errors.Is(err, ErrAuthInvalid)
}
