// File: internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/automation"
	"github.com/xkilldash9x/irpa-agent/internal/envelope"
	"github.com/xkilldash9x/irpa-agent/internal/geometry"
	"github.com/xkilldash9x/irpa-agent/internal/stability"
)

// Capabilities is the Automation Capability Provider as seen by the dispatcher.
type Capabilities interface {
	LaunchApp(ctx context.Context, pkg string) error
	LaunchActivity(ctx context.Context, pkg, activity string) error
	StopApp(ctx context.Context, pkg string) error
	Click(ctx context.Context, rect geometry.Rect) (automation.ClickOutcome, error)
	Swipe(ctx context.Context, d automation.Direction) error
	Screenshot(ctx context.Context) (string, error)
}

// Displayer shows transient messages. Implementations must not block on the UI.
type Displayer interface {
	Display(text string)
	DisplayFor(text string, d time.Duration)
}

// StabilityMonitor opens page-load monitoring windows.
type StabilityMonitor interface {
	Begin(ctx context.Context) (stability.Window, error)
}

// Observer is told about every dispatched operation.
type Observer interface {
	ObserveOperation(operation string, code ErrorCode, took time.Duration)
}

// handler executes one operation. A non-nil payload returned together with an
// error is still sent as the reply.
type handler func(ctx context.Context, p Params) (any, error)

// Dispatcher maps operation requests to capability calls and builds the reply.
// It keeps no device state of its own beyond the immutable app snapshot.
type Dispatcher struct {
	logger    *zap.Logger
	apps      []automation.AppDescriptor
	caps      Capabilities
	display   Displayer
	stability StabilityMonitor
	observer  Observer
	handlers  map[string]handler
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithObserver reports operation outcomes to o.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// New creates a Dispatcher. apps is the snapshot taken at startup and is never modified.
func New(logger *zap.Logger, apps []automation.AppDescriptor, caps Capabilities, display Displayer, monitor StabilityMonitor, opts ...Option) *Dispatcher {
	snapshot := make([]automation.AppDescriptor, len(apps))
	copy(snapshot, apps)

	d := &Dispatcher{
		logger:    logger.Named("dispatcher"),
		apps:      snapshot,
		caps:      caps,
		display:   display,
		stability: monitor,
		handlers:  make(map[string]handler),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.register("apps", d.handleApps)
	d.register("start", d.handleStart)
	d.register("goto", d.handleGoto)
	d.register("stop", d.handleStop)
	d.register("display", d.handleDisplay)
	d.register("screenshot", d.handleScreenshot)
	d.register("click", d.handleClick)
	d.register("swipe", d.handleSwipe)
	d.register("waitload", d.handleWaitLoad)
	return d
}

func (d *Dispatcher) register(operation string, h handler) {
	d.handlers[operation] = h
}

// Operations lists the supported operation names.
func (d *Dispatcher) Operations() []string {
	ops := make([]string, 0, len(d.handlers))
	for op := range d.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Dispatch executes req and returns the reply. ok is false for envelopes that
// get no reply, such as heartbeats from the controller.
func (d *Dispatcher) Dispatch(ctx context.Context, req envelope.Envelope) (reply envelope.Envelope, ok bool) {
	if req.Type == envelope.TypeHeartbeat {
		d.logger.Debug("Heartbeat received from controller.", zap.String("uuid", req.UUID))
		return envelope.Envelope{}, false
	}

	start := time.Now()
	operation, payload, err := d.execute(ctx, req)
	code := classify(err)
	took := time.Since(start)

	switch code {
	case CodeOK:
		d.logger.Info("Operation complete.", zap.String("operation", operation), zap.String("uuid", req.UUID), zap.Duration("took", took))
	case CodeCapabilityUnavailable, CodeUnsupportedOperation:
		d.logger.Warn("Operation not executed.", zap.String("operation", operation), zap.String("code", string(code)), zap.Error(err))
	default:
		d.logger.Error("Operation failed.", zap.String("operation", operation), zap.String("code", string(code)), zap.Error(err))
	}
	if d.observer != nil {
		d.observer.ObserveOperation(operation, code, took)
	}

	if payload == nil {
		payload = failureText(operation, code, err)
	}
	return envelope.Reply(req, payload), true
}

func (d *Dispatcher) execute(ctx context.Context, req envelope.Envelope) (string, any, error) {
	params, isMap := req.Operation()
	if !isMap {
		return "", nil, ErrMissingOperation
	}
	raw, present := params["operation"]
	operation, isString := raw.(string)
	if !present || !isString || operation == "" {
		return "", nil, ErrMissingOperation
	}

	h, found := d.handlers[operation]
	if !found {
		return operation, nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, operation)
	}
	payload, err := h(ctx, Params(params))
	return operation, payload, err
}

func failureText(operation string, code ErrorCode, err error) string {
	switch {
	case errors.Is(err, ErrMissingOperation):
		return "invalid request: missing operation"
	case code == CodeUnsupportedOperation:
		return "unsupported operation: " + operation
	case code == CodeCapabilityUnavailable:
		return operation + " skipped: capability unavailable"
	default:
		return fmt.Sprintf("%s failed: %v", operation, err)
	}
}

// -- Handlers --

func (d *Dispatcher) handleApps(ctx context.Context, p Params) (any, error) {
	return d.apps, nil
}

func (d *Dispatcher) handleStart(ctx context.Context, p Params) (any, error) {
	pkg, err := p.Text("packageName")
	if err != nil {
		return nil, err
	}
	if err := d.caps.LaunchApp(ctx, pkg); err != nil {
		return nil, err
	}
	return "start fin", nil
}

func (d *Dispatcher) handleGoto(ctx context.Context, p Params) (any, error) {
	pkg, err := p.Text("packageName")
	if err != nil {
		return nil, err
	}
	activity, err := p.Text("activityName")
	if err != nil {
		return nil, err
	}
	if err := d.caps.LaunchActivity(ctx, pkg, activity); err != nil {
		return nil, err
	}
	return "start fin", nil
}

func (d *Dispatcher) handleStop(ctx context.Context, p Params) (any, error) {
	pkg, err := p.Text("packageName")
	if err != nil {
		return nil, err
	}
	if err := d.caps.StopApp(ctx, pkg); err != nil {
		return nil, err
	}
	return "stop fin", nil
}

// handleDisplay posts the text and returns at once. A timed revert happens on
// the overlay's own goroutine and never delays the reply.
func (d *Dispatcher) handleDisplay(ctx context.Context, p Params) (any, error) {
	if d.display == nil {
		return nil, automation.ErrCapabilityUnavailable
	}
	text, ok := p["text"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: text must be a string", ErrInvalidParameters)
	}
	duration, timed, err := p.Seconds("duration")
	if err != nil {
		return nil, err
	}
	if timed && duration > 0 {
		d.display.DisplayFor(text, duration)
	} else {
		d.display.Display(text)
	}
	return "display fin", nil
}

// handleScreenshot replies with "" when the capture fails, so the controller
// always gets a string.
func (d *Dispatcher) handleScreenshot(ctx context.Context, p Params) (any, error) {
	data, err := d.caps.Screenshot(ctx)
	if errors.Is(err, automation.ErrCapabilityUnavailable) {
		return nil, err
	}
	if err != nil {
		return "", err
	}
	return data, nil
}

func (d *Dispatcher) handleClick(ctx context.Context, p Params) (any, error) {
	var rect geometry.Rect
	var err error
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"left", &rect.Left},
		{"top", &rect.Top},
		{"right", &rect.Right},
		{"bottom", &rect.Bottom},
	} {
		if *f.dst, err = p.Int(f.key); err != nil {
			return nil, err
		}
	}
	waitStable, err := p.Bool("waitStable")
	if err != nil {
		return nil, err
	}

	var window stability.Window
	if waitStable {
		if window, err = d.openWindow(ctx); err != nil {
			return nil, err
		}
	}

	outcome, err := d.caps.Click(ctx, rect)
	if err != nil {
		window.Cancel()
		return nil, err
	}
	d.logger.Debug("Click delivered.",
		zap.Stringer("rect", rect),
		zap.Bool("fallback", outcome.Fallback),
		zap.Float64("iou", outcome.Score))

	if !waitStable {
		return "click fin", nil
	}
	res, err := window.Wait(ctx)
	if err != nil {
		window.Cancel()
		return nil, err
	}
	if res.Outcome == stability.OutcomeCeiling {
		return "click fin: stability ceiling reached", nil
	}
	return "click fin", nil
}

func (d *Dispatcher) handleSwipe(ctx context.Context, p Params) (any, error) {
	raw, err := p.Text("direction")
	if err != nil {
		return nil, err
	}
	dir, err := automation.ParseDirection(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if err := d.caps.Swipe(ctx, dir); err != nil {
		return nil, err
	}
	return "swipe fin", nil
}

func (d *Dispatcher) handleWaitLoad(ctx context.Context, p Params) (any, error) {
	window, err := d.openWindow(ctx)
	if err != nil {
		return nil, err
	}
	res, err := window.Wait(ctx)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("Wait for load finished.", zap.String("outcome", string(res.Outcome)), zap.Int("touched", res.Touched))
	return "waitload fin", nil
}

func (d *Dispatcher) openWindow(ctx context.Context) (stability.Window, error) {
	if d.stability == nil {
		return stability.Window{}, automation.ErrCapabilityUnavailable
	}
	return d.stability.Begin(ctx)
}
