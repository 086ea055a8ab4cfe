// Package monitor polls the printer and feeds detection counts to the escalation machine.
package monitor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/oliverbravery/3D-Print-Sentinel/components/camera"
	"github.com/oliverbravery/3D-Print-Sentinel/components/printer"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/vision/objectdetection"
)

// DefaultActiveState is the printer entity state that means a job is printing.
const DefaultActiveState = "on"

// Escalation is the part of the escalation machine a Monitor drives.
type Escalation interface {
	Pending() bool
	OnDetectionCycle(ctx context.Context, count int) bool
}

// An Advisory is a secondary check run on ticks that go on to capture a frame. Reset is called on
// ticks where the printer is not active.
type Advisory interface {
	Check(ctx context.Context)
	Reset()
}

// Monitor runs one poll cycle per Tick.
type Monitor struct {
	printer     printer.Status
	activeState string
	camera      camera.Camera
	detector    objectdetection.Detector
	escalation  Escalation
	advisories  []Advisory
	clock       clock.Clock
	logger      logging.Logger

	ticks         atomic.Uint64
	frameFailures atomic.Uint64
	lastTick      atomic.Time
	lastCount     atomic.Int64
	printing      atomic.Bool
}

// Status is what the last ticks observed.
type Status struct {
	Ticks          uint64
	FrameFailures  uint64
	LastTick       time.Time
	LastDetections int64
	Printing       bool
}

// New returns a Monitor. activeState defaults to DefaultActiveState.
func New(
	status printer.Status,
	activeState string,
	cam camera.Camera,
	detector objectdetection.Detector,
	escalation Escalation,
	clk clock.Clock,
	logger logging.Logger,
	advisories ...Advisory,
) (*Monitor, error) {
	switch {
	case status == nil:
		return nil, errors.New("monitor needs a printer status")
	case cam == nil:
		return nil, errors.New("monitor needs a camera")
	case detector == nil:
		return nil, errors.New("monitor needs a detector")
	case escalation == nil:
		return nil, errors.New("monitor needs an escalation machine")
	}
	if activeState == "" {
		activeState = DefaultActiveState
	}
	if clk == nil {
		clk = clock.New()
	}
	m := &Monitor{
		printer:     status,
		activeState: activeState,
		camera:      cam,
		detector:    detector,
		escalation:  escalation,
		advisories:  advisories,
		clock:       clk,
		logger:      logger,
	}
	m.lastCount.Store(-1)
	return m, nil
}

// Tick runs one poll cycle. It only returns an error when the printer state cannot be read;
// frame and detection failures skip the cycle.
func (m *Monitor) Tick(ctx context.Context) error {
	ctx = logging.WithCycle(ctx, m.ticks.Inc())
	m.lastTick.Store(m.clock.Now())

	active, err := m.printer.IsInState(ctx, m.activeState)
	if err != nil {
		return errors.Wrap(err, "reading printer state")
	}
	m.printing.Store(active)
	if !active {
		for _, a := range m.advisories {
			a.Reset()
		}
		return nil
	}
	if m.escalation.Pending() {
		m.logger.CDebugw(ctx, "stop countdown pending, skipping cycle")
		return nil
	}

	for _, a := range m.advisories {
		a.Check(ctx)
	}

	frame, err := m.camera.CaptureFrame(ctx)
	if err != nil {
		m.frameFailures.Inc()
		m.logger.Warnw("could not acquire frame, skipping cycle", "camera", m.camera.Name(), "error", err)
		return nil
	}
	detections, err := m.detector(ctx, frame)
	if err != nil {
		m.logger.Warnw("detection failed, skipping cycle", "error", err)
		return nil
	}

	count := len(detections)
	m.lastCount.Store(int64(count))
	m.logger.Infof("Detected %d issues", count)
	for _, d := range detections {
		m.logger.CDebugw(ctx, "detection", "detection", d.String())
	}
	m.escalation.OnDetectionCycle(ctx, count)
	return nil
}

// Status returns counters from the ticks so far. LastDetections is -1 until a cycle completes
// detection.
func (m *Monitor) Status() Status {
	return Status{
		Ticks:          m.ticks.Load(),
		FrameFailures:  m.frameFailures.Load(),
		LastTick:       m.lastTick.Load(),
		LastDetections: m.lastCount.Load(),
		Printing:       m.printing.Load(),
	}
}
