package monitor

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/oliverbravery/3D-Print-Sentinel/components/sensor"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/services/notify"
)

// WarmUpTolerance is how far below its target a temperature may be and still count as reached.
const WarmUpTolerance = 1.0

// Heater pairs an actual and a target temperature sensor.
type Heater struct {
	Name   string
	Actual sensor.Sensor
	Target sensor.Sensor
}

// WarmUpAdvisory sends one notification per print job once every heater has reached its
// target.
type WarmUpAdvisory struct {
	heaters  []Heater
	notifier notify.Notifier
	logger   logging.Logger
	sent     atomic.Bool
}

// NewWarmUpAdvisory returns an advisory over heaters, usually the nozzle and the bed.
func NewWarmUpAdvisory(notifier notify.Notifier, logger logging.Logger, heaters ...Heater) (*WarmUpAdvisory, error) {
	if notifier == nil {
		return nil, errors.New("warm-up advisory needs a notifier")
	}
	if len(heaters) == 0 {
		return nil, errors.New("warm-up advisory needs at least one heater")
	}
	for _, h := range heaters {
		if h.Actual == nil || h.Target == nil {
			return nil, errors.Errorf("heater %q needs actual and target sensors", h.Name)
		}
	}
	return &WarmUpAdvisory{heaters: heaters, notifier: notifier, logger: logger}, nil
}

// Check sends the warmed up notification if it has not been sent for this job and every heater
// is within WarmUpTolerance of a positive target.
func (w *WarmUpAdvisory) Check(ctx context.Context) {
	if w.sent.Load() {
		return
	}
	for _, h := range w.heaters {
		ready, err := w.reached(ctx, h)
		if err != nil {
			w.logger.CDebugw(ctx, "cannot read heater", "heater", h.Name, "error", err)
			return
		}
		if !ready {
			return
		}
	}
	if err := w.notifier.Send(ctx, notify.Notification{
		Message: "Your 3D printer has warmed up and is ready to print.",
		Title:   "3D Printer Warmed Up",
	}); err != nil {
		w.logger.Errorw("failed to send notification", "title", "3D Printer Warmed Up", "error", err)
		return
	}
	w.sent.Store(true)
	w.logger.Info("printer warmed up")
}

// Reset rearms the advisory for the next print job.
func (w *WarmUpAdvisory) Reset() {
	w.sent.Store(false)
}

func (w *WarmUpAdvisory) reached(ctx context.Context, h Heater) (bool, error) {
	target, err := h.Target.Reading(ctx)
	if err != nil {
		return false, err
	}
	if target <= 0 {
		return false, nil
	}
	actual, err := h.Actual.Reading(ctx)
	if err != nil {
		return false, err
	}
	return actual >= target-WarmUpTolerance, nil
}
