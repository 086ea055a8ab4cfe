// Package escalation owns the warn, count down, dismiss or stop workflow that follows a
// positive detection cycle.
//
// A Machine is either Idle or PendingStop. A qualifying detection cycle sends a warning and
// arms one countdown; while it is armed further detections are ignored. Dismissing cancels the
// countdown. If the countdown runs out the stop button is pressed. At most one countdown is
// armed at any time.
package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/oliverbravery/3D-Print-Sentinel/components/button"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/services/notify"
)

// Mode is the escalation state.
type Mode int

// The escalation states.
const (
	Idle Mode = iota
	PendingStop
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case PendingStop:
		return "pending_stop"
	default:
		return "unknown"
	}
}

// Defaults used when a Config field is zero.
const (
	DefaultTerminationDelay = 120 * time.Second
	DefaultMinDetections    = 2
	DefaultSnapshotImage    = "/media/local/snapshot.jpg"
	DefaultCallTimeout      = 10 * time.Second
)

// Config tunes a Machine.
type Config struct {
	// TerminationDelay is how long a warning stays open before the print is stopped.
	TerminationDelay time.Duration
	// MinDetections is the smallest detection count that starts a countdown.
	MinDetections int
	// SnapshotImage is attached to the warning notification.
	SnapshotImage string
	// CallTimeout bounds each notify or stop call made while a transition holds the lock.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TerminationDelay <= 0 {
		c.TerminationDelay = DefaultTerminationDelay
	}
	if c.MinDetections <= 0 {
		c.MinDetections = DefaultMinDetections
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

type countdownState int

const (
	countdownArmed countdownState = iota
	countdownConsumed
)

// countdown is one armed stop timer. Once consumed it can never fire its stop.
type countdown struct {
	id       uuid.UUID
	deadline time.Time
	handle   Cancellable
	state    countdownState
}

// consume cancels the timer if it has not fired. It is safe to call more than once.
func (c *countdown) consume() {
	if c.state == countdownConsumed {
		return
	}
	c.state = countdownConsumed
	c.handle.Stop()
}

// Status is a snapshot of a Machine for reporting.
type Status struct {
	Mode        Mode
	CountdownID string
	Deadline    time.Time
	Warnings    uint64
	Dismissals  uint64
	Stops       uint64
}

// Machine is the escalation state machine for one printer. All transitions are serialized.
type Machine struct {
	cfg      Config
	notifier notify.Notifier
	stopper  button.Button
	timers   TimerService
	logger   logging.Logger

	cancelCtx  context.Context
	cancelFunc func()

	mu     sync.Mutex
	armed  *countdown
	closed bool
	counts struct {
		warnings, dismissals, stops uint64
	}
}

// NewMachine returns an Idle machine. notifier and stopper are the capabilities it drives.
func NewMachine(
	cfg Config,
	notifier notify.Notifier,
	stopper button.Button,
	timers TimerService,
	logger logging.Logger,
) (*Machine, error) {
	if notifier == nil {
		return nil, errors.New("escalation needs a notifier")
	}
	if stopper == nil {
		return nil, errors.New("escalation needs a stop button")
	}
	if timers == nil {
		return nil, errors.New("escalation needs a timer service")
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Machine{
		cfg:        cfg.withDefaults(),
		notifier:   notifier,
		stopper:    stopper,
		timers:     timers,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// Mode returns the current state.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modeLocked()
}

func (m *Machine) modeLocked() Mode {
	if m.armed != nil {
		return PendingStop
	}
	return Idle
}

// Pending reports whether a countdown is armed.
func (m *Machine) Pending() bool {
	return m.Mode() == PendingStop
}

// Status returns the current state and counters.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		Mode:       m.modeLocked(),
		Warnings:   m.counts.warnings,
		Dismissals: m.counts.dismissals,
		Stops:      m.counts.stops,
	}
	if m.armed != nil {
		s.CountdownID = m.armed.id.String()
		s.Deadline = m.armed.deadline
	}
	return s
}

// OnDetectionCycle feeds the detection count of one poll cycle. When Idle and count reaches
// the configured minimum it sends the warning, arms the countdown and returns true. Otherwise
// it changes nothing.
func (m *Machine) OnDetectionCycle(ctx context.Context, count int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.armed != nil {
		m.logger.CDebugw(ctx, "countdown already armed, ignoring detections", "count", count, "countdown", m.armed.id)
		return false
	}
	if count < m.cfg.MinDetections {
		return false
	}

	id := uuid.New()
	m.counts.warnings++
	m.send(ctx, warningNotification(m.cfg.TerminationDelay, m.cfg.SnapshotImage, id.String()))

	m.armed = &countdown{
		id:       id,
		deadline: m.timers.Now().Add(m.cfg.TerminationDelay),
	}
	m.armed.handle = m.timers.ScheduleOnce(m.cfg.TerminationDelay, func() {
		m.onTimerExpired(id)
	})
	m.logger.Infow("print issue detected, stop countdown armed",
		"count", count, "countdown", id, "delay", m.cfg.TerminationDelay)
	return true
}

// OnDismiss cancels an armed countdown and sends the dismissed notification. The notification is
// sent even when nothing is armed.
func (m *Machine) OnDismiss(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismissLocked(ctx)
}

// StopPrintJob presses the stop button after the dismiss bookkeeping, then sends the stopped
// notification. It is the path taken on countdown expiry and on the stop action.
func (m *Machine) StopPrintJob(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(ctx)
}

// OnExternalAction routes a notification action. Unknown actions are ignored. Its signature
// matches homeassistant.ActionHandler.
func (m *Machine) OnExternalAction(ctx context.Context, action string, payload map[string]interface{}) {
	m.logger.Infow("received action", "action", action, "payload", payload)
	switch action {
	case ActionStopPrintJob:
		m.StopPrintJob(ctx)
	case ActionDismiss:
		m.OnDismiss(ctx)
	default:
		m.logger.Debugw("ignoring unknown action", "action", action)
	}
}

// Close cancels any armed countdown without notifying. Later transitions are no-ops.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed != nil {
		m.armed.consume()
		m.armed = nil
	}
	m.closed = true
	m.cancelFunc()
}

// onTimerExpired runs on the timer's goroutine. It only acts if id is still the armed countdown,
// so a dismiss that took the lock first always wins.
func (m *Machine) onTimerExpired(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.armed == nil || m.armed.id != id {
		m.logger.Debugw("stale countdown fired, ignoring", "countdown", id)
		return
	}
	m.logger.Warnw("countdown expired without dismissal, stopping print", "countdown", id)
	m.stopLocked(m.cancelCtx)
}

func (m *Machine) dismissLocked(ctx context.Context) {
	if m.closed {
		return
	}
	tag := ""
	if m.armed != nil {
		tag = m.armed.id.String()
		m.armed.consume()
		m.armed = nil
		m.logger.Infow("countdown cancelled", "countdown", tag)
	}
	m.counts.dismissals++
	m.send(ctx, dismissedNotification(tag))
}

func (m *Machine) stopLocked(ctx context.Context) {
	if m.closed {
		return
	}
	tag := ""
	if m.armed != nil {
		tag = m.armed.id.String()
	}
	m.dismissLocked(ctx)
	m.counts.stops++
	pressCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.stopper.Press(pressCtx); err != nil {
		m.logger.Errorw("failed to stop print job", "button", m.stopper.Name(), "error", err)
	}
	m.send(ctx, stoppedNotification(tag))
}

func (m *Machine) send(ctx context.Context, note notify.Notification) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.notifier.Send(ctx, note); err != nil {
		m.logger.Errorw("failed to send notification", "title", note.Title, "error", err)
	}
}
