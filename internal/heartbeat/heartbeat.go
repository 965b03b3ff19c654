// File: internal/heartbeat/heartbeat.go
package heartbeat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/envelope"
)

// Sender writes one encoded frame through the shared writer path.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Observer is told about each heartbeat attempt.
type Observer interface {
	ObserveHeartbeat(err error)
}

// Config sets the cadence. The first beat fires after Delay, then every Interval.
type Config struct {
	Delay    time.Duration
	Interval time.Duration
}

// Emitter periodically announces that the agent is alive.
type Emitter struct {
	logger   *zap.Logger
	agentID  string
	cfg      Config
	sender   Sender
	observer Observer
}

// New creates an Emitter for the agent identified by agentID. observer may be nil.
func New(logger *zap.Logger, agentID string, cfg Config, sender Sender, observer Observer) *Emitter {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &Emitter{
		logger:   logger.Named("heartbeat"),
		agentID:  agentID,
		cfg:      cfg,
		sender:   sender,
		observer: observer,
	}
}

// Message is the heartbeat payload.
func (e *Emitter) Message() map[string]any {
	return map[string]any{"agent": e.agentID, "status": "on"}
}

// Run emits heartbeats until ctx is done. Failed beats are logged and skipped.
func (e *Emitter) Run(ctx context.Context) error {
	delay := time.NewTimer(e.cfg.Delay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-delay.C:
	}
	e.beat(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.beat(ctx)
		}
	}
}

func (e *Emitter) beat(ctx context.Context) {
	// A beat that cannot be written before the next one is due is dropped.
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Interval)
	defer cancel()

	err := e.send(ctx)
	if e.observer != nil {
		e.observer.ObserveHeartbeat(err)
	}
	switch {
	case err == nil:
		e.logger.Debug("Heartbeat sent.")
	case errors.Is(err, context.Canceled):
		// Shutting down.
	default:
		e.logger.Warn("Heartbeat failed.", zap.Error(err))
	}
}

func (e *Emitter) send(ctx context.Context) error {
	frame, err := envelope.Encode(envelope.New(envelope.TypeHeartbeat, e.Message()))
	if err != nil {
		return err
	}
	return e.sender.Send(ctx, frame)
}
