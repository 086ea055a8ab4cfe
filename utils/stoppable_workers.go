// Package utils contains small helpers shared by the sentinel's commands.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// StoppableWorkers is a collection of long running loops that are stopped together.
type StoppableWorkers interface {
	AddWorkers(...func(context.Context))
	// AddNamedWorker runs f until it returns or the workers are stopped. A non-nil error other
	// than the stop itself is logged.
	AddNamedWorker(name string, f func(context.Context) error)
	Stop()
	Context() context.Context
}

// stoppableWorkersImpl is only handed out behind the interface so the WaitGroup is never copied.
type stoppableWorkersImpl struct {
	mu         sync.Mutex
	cancelCtx  context.Context
	cancelFunc func()
	logger     logging.Logger
	active     sync.WaitGroup
}

// NewStoppableWorkers runs funcs in separate goroutines under a context derived from ctx.
func NewStoppableWorkers(ctx context.Context, logger logging.Logger, funcs ...func(context.Context)) StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(ctx)
	workers := &stoppableWorkersImpl{cancelCtx: cancelCtx, cancelFunc: cancelFunc, logger: logger}
	workers.AddWorkers(funcs...)
	return workers
}

// AddWorkers starts a goroutine per function. After Stop it does nothing.
func (sw *stoppableWorkersImpl) AddWorkers(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.active.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.active.Done()
			f(sw.cancelCtx)
		})
	}
}

func (sw *stoppableWorkersImpl) AddNamedWorker(name string, f func(context.Context) error) {
	sw.AddWorkers(func(ctx context.Context) {
		err := f(ctx)
		switch {
		case err == nil:
			sw.logger.Debugw("worker finished", "worker", name)
		case ctx.Err() != nil:
			sw.logger.Debugw("worker stopped", "worker", name, "error", err)
		default:
			sw.logger.Errorw("worker failed", "worker", name, "error", err)
		}
	})
}

// Stop cancels the shared context and waits for every worker to return.
func (sw *stoppableWorkersImpl) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cancelFunc()
	sw.active.Wait()
}

// Context is the context the workers watch.
func (sw *stoppableWorkersImpl) Context() context.Context {
	return sw.cancelCtx
}
