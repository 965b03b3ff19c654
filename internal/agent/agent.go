// File: internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/irpa-agent/internal/automation"
	"github.com/xkilldash9x/irpa-agent/internal/capture"
	"github.com/xkilldash9x/irpa-agent/internal/config"
	"github.com/xkilldash9x/irpa-agent/internal/dispatch"
	"github.com/xkilldash9x/irpa-agent/internal/envelope"
	"github.com/xkilldash9x/irpa-agent/internal/heartbeat"
	"github.com/xkilldash9x/irpa-agent/internal/matcher"
	"github.com/xkilldash9x/irpa-agent/internal/metrics"
	"github.com/xkilldash9x/irpa-agent/internal/observability"
	"github.com/xkilldash9x/irpa-agent/internal/overlay"
	"github.com/xkilldash9x/irpa-agent/internal/stability"
	"github.com/xkilldash9x/irpa-agent/internal/transport"
)

// ErrAlreadyStarted is returned by Run on an agent that has been run or closed.
var ErrAlreadyStarted = errors.New("agent already started")

// Option customises an Agent.
type Option func(*options)

type options struct {
	identity string
	renderer overlay.Renderer
	metrics  *metrics.Metrics
}

// WithIdentity overrides the generated routing identity.
func WithIdentity(id string) Option {
	return func(o *options) { o.identity = id }
}

// WithRenderer draws overlay text. Without one, text changes are logged.
func WithRenderer(r overlay.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// WithMetrics records activity on m. The endpoint is served only when enabled in config.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Agent owns the controller connection and every loop the device needs.
type Agent struct {
	logger   *zap.Logger
	cfg      config.Interface
	identity string

	client     *transport.Client
	dispatcher *dispatch.Dispatcher
	monitor    *stability.Monitor
	overlay    *overlay.Overlay
	heartbeat  *heartbeat.Emitter
	metrics    *metrics.Metrics

	// teardown undoes startup registrations; it runs in reverse order.
	teardown []func()

	started atomic.Bool
	stop    chan struct{}
	once    sync.Once
}

// NewIdentity returns a fresh routing identity of the form agent_<uuid>.
func NewIdentity() string { return "agent_" + uuid.NewString() }

// New wires an agent around device. device may be nil, in which case every
// operation that needs it reports the capability as unavailable.
// Only a malformed controller address is an error.
func New(ctx context.Context, cfg config.Interface, device *automation.Device, logger *zap.Logger, opts ...Option) (*Agent, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.identity == "" {
		o.identity = NewIdentity()
	}
	logger = observability.ForAgent(logger, o.identity)

	a := &Agent{
		logger:   logger,
		cfg:      cfg,
		identity: o.identity,
		metrics:  o.metrics,
		stop:     make(chan struct{}),
	}

	// 1. Bind the device for late capability lookups.
	bindings := automation.NewBindings(logger)
	if device != nil {
		a.teardown = append(a.teardown, bindings.Bind(device))
	}

	// 2. Stability monitor, fed by the device's content notifications.
	stab := cfg.Stability()
	a.monitor = stability.New(stability.Config{QuietPeriod: stab.QuietPeriod, MaxWait: stab.MaxWait}, logger, a.onStable)
	if device != nil && device.Content != nil {
		unwatch := device.Content.Watch(func(sourceID string) {
			if sourceID == "" {
				return
			}
			a.monitor.ContentChanged(sourceID)
		})
		a.teardown = append(a.teardown, unwatch)
	}

	// 3. Capability provider and the installed-apps snapshot.
	dcfg := cfg.Dispatch()
	provider := automation.NewProvider(
		logger,
		bindings,
		matcher.New(logger, dcfg.TapDuration),
		capture.New(logger, dcfg.JPEGQuality, dcfg.ScreenshotTimeout),
	)
	apps, err := provider.InstalledApps(ctx)
	if err != nil {
		logger.Warn("Installed apps unavailable, continuing with an empty list.", zap.Error(err))
		apps = nil
	}

	// 4. Overlay and dispatcher.
	a.overlay = overlay.New(cfg.Overlay().InitialText, o.renderer, logger)
	var dispatchOpts []dispatch.Option
	if a.metrics != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithObserver(a.metrics))
	}
	a.dispatcher = dispatch.New(logger, apps, provider, a.overlay, a.monitor, dispatchOpts...)

	// 5. Transport and heartbeat.
	acfg := cfg.Agent()
	var transportOpts []transport.Option
	if a.metrics != nil {
		transportOpts = append(transportOpts, transport.WithObserver(a.metrics))
	}
	a.client, err = transport.Connect(a.identity, acfg.Address, logger, transport.Config{
		WriteTimeout:         acfg.WriteTimeout,
		ReconnectMinInterval: acfg.ReconnectMinInterval,
		OutboundQueue:        acfg.OutboundQueue,
	}, transportOpts...)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("failed to configure controller connection: %w", err)
	}

	var beatObserver heartbeat.Observer
	if a.metrics != nil {
		beatObserver = a.metrics
	}
	a.heartbeat = heartbeat.New(logger, a.identity, heartbeat.Config{
		Delay:    acfg.HeartbeatDelay,
		Interval: acfg.HeartbeatInterval,
	}, a.client, beatObserver)

	logger.Info("Agent initialized.",
		zap.String("controller", a.client.URL()),
		zap.Int("apps", len(apps)),
		zap.Strings("operations", a.dispatcher.Operations()),
	)
	return a, nil
}

// Identity returns the routing identity announced to the controller.
func (a *Agent) Identity() string { return a.identity }

// Run blocks until ctx is done or Close is called. All loops are joined and
// startup registrations undone before it returns.
func (a *Agent) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer a.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-a.stop:
			cancel()
		case <-gctx.Done():
		}
		<-gctx.Done()
		return a.client.Close()
	})
	g.Go(func() error { return a.client.Run(gctx) })
	g.Go(func() error { return a.monitor.Run(gctx) })
	g.Go(func() error { return a.overlay.Run(gctx) })
	g.Go(func() error { return a.heartbeat.Run(gctx) })
	g.Go(func() error { return a.receive(gctx) })
	if mcfg := a.cfg.Metrics(); mcfg.Enabled && a.metrics != nil {
		g.Go(func() error {
			// Losing the metrics endpoint must not take the agent down.
			if err := a.metrics.Serve(gctx, mcfg.ListenAddress, a.logger); err != nil {
				a.logger.Error("Metrics endpoint failed.", zap.String("addr", mcfg.ListenAddress), zap.Error(err))
			}
			return nil
		})
	}

	a.logger.Info("Agent running.")
	err := g.Wait()
	a.logger.Info("Agent stopped.")
	return err
}

// receive processes one request at a time: decode, dispatch, encode, reply.
func (a *Agent) receive(ctx context.Context) error {
	for {
		frame, err := a.client.Recv(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		req, err := envelope.Decode(frame)
		if err != nil {
			a.logger.Warn("Dropping malformed frame.", zap.Error(err))
			continue
		}

		reply, ok := a.dispatcher.Dispatch(ctx, req)
		if !ok {
			continue
		}
		a.send(ctx, reply)
	}
}

func (a *Agent) send(ctx context.Context, reply envelope.Envelope) {
	out, err := envelope.Encode(reply)
	if err != nil {
		a.logger.Error("Failed to encode reply.", zap.String("uuid", reply.UUID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Agent().WriteTimeout)
	defer cancel()
	if err := a.client.Send(ctx, out); err != nil {
		a.logger.Warn("Failed to send reply.", zap.String("uuid", reply.UUID), zap.Error(err))
	}
}

func (a *Agent) onStable(res stability.Result) {
	a.logger.Debug("Screen settled.",
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("touched", res.Touched),
	)
	if a.metrics != nil {
		a.metrics.ObserveStable(string(res.Outcome))
	}
}

// Close stops a running agent. Run returns once shutdown completes.
// Closing an agent that was never run releases its registrations.
func (a *Agent) Close() error {
	a.once.Do(func() { close(a.stop) })
	if a.started.CompareAndSwap(false, true) {
		a.release()
		return a.client.Close()
	}
	return nil
}

func (a *Agent) release() {
	for i := len(a.teardown) - 1; i >= 0; i-- {
		a.teardown[i]()
	}
	a.teardown = nil
}
