package logging

import "context"

type cycleKey struct{}

// WithCycle tags ctx with a poll cycle number. Debug lines logged through CDebugw under the
// returned context carry it as the "cycle" field, so one cycle can be followed from the frame
// capture through escalation.
func WithCycle(ctx context.Context, cycle uint64) context.Context {
	return context.WithValue(ctx, cycleKey{}, cycle)
}

// CycleFrom returns the poll cycle ctx was tagged with.
func CycleFrom(ctx context.Context) (uint64, bool) {
	cycle, ok := ctx.Value(cycleKey{}).(uint64)
	return cycle, ok
}
