// File: internal/overlay/overlay.go
package overlay

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/schedule"
)

// Renderer draws text onto the on-screen widget. Rendering itself lives outside the agent.
type Renderer interface {
	Render(text string)
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(text string)

func (f RendererFunc) Render(text string) { f(text) }

type command struct {
	text     string
	duration time.Duration
	revert   bool
	epoch    uint64
}

// Overlay is the message displayer. Text changes are posted to the goroutine in Run,
// which is the only code that touches the renderer. Background callers never block on a revert.
type Overlay struct {
	logger   *zap.Logger
	renderer Renderer
	cmds     chan command
	stopped  chan struct{}
	revert   schedule.Task
	shown    atomic.Pointer[string]

	// Owned by Run.
	base  string
	timed bool
	epoch uint64
}

// New creates an Overlay showing initial once Run starts. A nil renderer logs text changes.
func New(initial string, renderer Renderer, logger *zap.Logger) *Overlay {
	o := &Overlay{
		logger:   logger.Named("overlay"),
		renderer: renderer,
		cmds:     make(chan command, 32),
		stopped:  make(chan struct{}),
		base:     initial,
	}
	if o.renderer == nil {
		o.renderer = RendererFunc(func(text string) {
			o.logger.Info("Overlay text.", zap.String("text", text))
		})
	}
	o.shown.Store(&initial)
	return o
}

// Text returns the text currently on screen.
func (o *Overlay) Text() string { return *o.shown.Load() }

// Display replaces the message until the next Display call.
func (o *Overlay) Display(text string) {
	o.post(command{text: text})
}

// DisplayFor shows text for d, then restores the message that was showing before
// the first timed message of a run. Zero or negative d behaves like Display.
func (o *Overlay) DisplayFor(text string, d time.Duration) {
	o.post(command{text: text, duration: d})
}

func (o *Overlay) post(c command) {
	select {
	case o.cmds <- c:
	case <-o.stopped:
		o.logger.Debug("Overlay stopped, dropping message.", zap.String("text", c.text))
	}
}

// Run owns the widget until ctx is done. It must be called exactly once.
func (o *Overlay) Run(ctx context.Context) error {
	defer close(o.stopped)
	defer o.revert.Cancel()

	o.render(o.base)
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-o.cmds:
			o.apply(c)
		}
	}
}

func (o *Overlay) apply(c command) {
	switch {
	case c.revert:
		if !o.timed || c.epoch != o.epoch {
			return
		}
		o.timed = false
		o.render(o.base)
	case c.duration <= 0:
		o.revert.Cancel()
		o.timed = false
		o.epoch++
		o.base = c.text
		o.render(c.text)
	default:
		if !o.timed {
			o.base = o.Text()
		}
		o.timed = true
		o.epoch++
		epoch := o.epoch
		o.render(c.text)
		o.revert.Schedule(c.duration, func() {
			o.post(command{revert: true, epoch: epoch})
		})
	}
}

func (o *Overlay) render(text string) {
	o.shown.Store(&text)
	o.renderer.Render(text)
}
