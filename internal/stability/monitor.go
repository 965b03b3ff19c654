// File: internal/stability/monitor.go
package stability

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/schedule"
)

// Phase is the monitor's state machine position.
type Phase int32

const (
	Idle Phase = iota
	Monitoring
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Monitoring:
		return "monitoring"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Outcome describes why a monitoring window ended.
type Outcome string

const (
	// OutcomeQuiet means no new content change arrived for a full quiet period.
	OutcomeQuiet Outcome = "quiet"
	// OutcomeCeiling means the max wait elapsed while the screen was still changing.
	OutcomeCeiling Outcome = "ceiling"
	// OutcomeCancelled means monitoring was dropped before stability was declared.
	OutcomeCancelled Outcome = "cancelled"
)

// Result summarises one monitoring window.
type Result struct {
	Outcome Outcome
	Elapsed time.Duration
	Touched int
}

// ErrStopped is returned when the monitor's loop is no longer running.
var ErrStopped = errors.New("stability monitor stopped")

// Config tunes the debounce window.
type Config struct {
	// QuietPeriod is D: the screen is stable after D passes with no new content.
	QuietPeriod time.Duration
	// MaxWait caps a window measured from Start, regardless of ongoing churn.
	MaxWait time.Duration
}

type event interface{}

type startEvent struct{ waiter chan Result }
type changeEvent struct{ id string }
type cancelEvent struct{ waiter chan Result }
type tickEvent struct{ epoch uint64 }

// Monitor is the page-load debounce state machine. All state is owned by the Run
// goroutine; the exported methods only post events to it.
type Monitor struct {
	cfg      Config
	logger   *zap.Logger
	onStable func(Result)
	now      func() time.Time

	events  chan event
	stopped chan struct{}
	recheck schedule.Task
	phase   atomic.Int32

	// Owned by Run.
	epoch        uint64
	startedAt    time.Time
	lastUpdateAt time.Time
	touched      map[string]struct{}
	waiters      []chan Result
}

// New creates a Monitor. onStable may be nil; it is invoked on the Run goroutine.
func New(cfg Config, logger *zap.Logger, onStable func(Result)) *Monitor {
	return &Monitor{
		cfg:      cfg,
		logger:   logger.Named("stability"),
		onStable: onStable,
		now:      time.Now,
		events:   make(chan event, 256),
		stopped:  make(chan struct{}),
	}
}

// Phase returns the current state. It is safe to call from any goroutine.
func (m *Monitor) Phase() Phase { return Phase(m.phase.Load()) }

// ContentChanged records a content mutation from the node identified by id.
// Only the first change per node extends the window. It is ignored while Idle.
func (m *Monitor) ContentChanged(id string) { m.post(changeEvent{id: id}) }

// Cancel abandons the current window without invoking onStable.
func (m *Monitor) Cancel() { m.post(cancelEvent{}) }

// Window is a monitoring window started by Begin.
type Window struct {
	m   *Monitor
	res chan Result
}

// Wait blocks until the window ends or ctx is done.
func (w Window) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-w.res:
		return res, nil
	case <-w.m.stopped:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel abandons the window without invoking onStable. It is a no-op once the
// window has ended, so it never touches a window opened later.
func (w Window) Cancel() {
	if w.m == nil {
		return
	}
	w.m.post(cancelEvent{waiter: w.res})
}

// Begin starts a monitoring window and returns a handle to wait on it. It lets a
// caller arm the monitor before triggering the action whose effects it wants to observe.
// Beginning while already monitoring restarts the window.
func (m *Monitor) Begin(ctx context.Context) (Window, error) {
	w := Window{m: m, res: make(chan Result, 1)}
	select {
	case m.events <- startEvent{waiter: w.res}:
		return w, nil
	case <-m.stopped:
		return Window{}, ErrStopped
	case <-ctx.Done():
		return Window{}, ctx.Err()
	}
}

// Wait starts a monitoring window and blocks until it ends or ctx is done.
func (m *Monitor) Wait(ctx context.Context) (Result, error) {
	w, err := m.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	return w.Wait(ctx)
}

func (m *Monitor) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.stopped:
	}
}

// Run owns the state machine until ctx is done. It must be called exactly once.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.stopped)
	defer m.recheck.Cancel()

	for {
		select {
		case <-ctx.Done():
			if m.Phase() == Monitoring {
				m.finish(OutcomeCancelled)
			}
			return nil
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Monitor) handle(ev event) {
	switch e := ev.(type) {
	case startEvent:
		m.begin()
		if e.waiter != nil {
			m.waiters = append(m.waiters, e.waiter)
		}
	case changeEvent:
		if m.Phase() != Monitoring {
			return
		}
		if _, seen := m.touched[e.id]; seen {
			return
		}
		m.touched[e.id] = struct{}{}
		m.lastUpdateAt = m.now()
		m.logger.Debug("Content changed, quiet period restarted.", zap.String("node", e.id), zap.Int("touched", len(m.touched)))
	case cancelEvent:
		if e.waiter != nil && !slices.Contains(m.waiters, e.waiter) {
			return
		}
		if m.Phase() == Monitoring {
			m.finish(OutcomeCancelled)
		}
	case tickEvent:
		if m.Phase() != Monitoring || e.epoch != m.epoch {
			return
		}
		m.check()
	}
}

func (m *Monitor) begin() {
	now := m.now()
	m.epoch++
	m.startedAt = now
	m.lastUpdateAt = now
	m.touched = make(map[string]struct{})
	m.phase.Store(int32(Monitoring))
	m.logger.Debug("Monitoring started.", zap.Duration("quiet_period", m.cfg.QuietPeriod), zap.Duration("max_wait", m.cfg.MaxWait))
	m.arm(m.cfg.QuietPeriod)
}

func (m *Monitor) check() {
	now := m.now()
	if now.Sub(m.lastUpdateAt) > m.cfg.QuietPeriod {
		m.finish(OutcomeQuiet)
		return
	}
	remaining := m.cfg.MaxWait - now.Sub(m.startedAt)
	if remaining <= 0 {
		m.logger.Info("Stability ceiling reached while content was still changing.", zap.Int("touched", len(m.touched)))
		m.finish(OutcomeCeiling)
		return
	}
	m.arm(min(m.cfg.QuietPeriod, remaining))
}

func (m *Monitor) arm(d time.Duration) {
	epoch := m.epoch
	m.recheck.Schedule(d, func() { m.post(tickEvent{epoch: epoch}) })
}

func (m *Monitor) finish(outcome Outcome) {
	m.recheck.Cancel()
	res := Result{
		Outcome: outcome,
		Elapsed: m.now().Sub(m.startedAt),
		Touched: len(m.touched),
	}
	m.epoch++
	m.touched = nil
	m.phase.Store(int32(Idle))

	for _, w := range m.waiters {
		w <- res
	}
	m.waiters = nil

	if outcome == OutcomeCancelled {
		m.logger.Debug("Monitoring cancelled.")
		return
	}
	m.logger.Info("Page load finished.", zap.String("outcome", string(outcome)), zap.Duration("elapsed", res.Elapsed))
	if m.onStable != nil {
		m.onStable(res)
	}
}
