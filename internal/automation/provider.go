// File: internal/automation/provider.go
package automation

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/capture"
	"github.com/xkilldash9x/irpa-agent/internal/geometry"
	"github.com/xkilldash9x/irpa-agent/internal/matcher"
)

// Direction is a swipe direction. The numeric values are the controller's legacy codes.
type Direction int

const (
	SwipeRight Direction = 1
	SwipeLeft  Direction = 2
	SwipeUp    Direction = 3
	SwipeDown  Direction = 4
)

// SwipeDuration is how long a swipe stroke lasts.
const SwipeDuration = 50 * time.Millisecond

var directionNames = map[string]Direction{
	"right": SwipeRight,
	"left":  SwipeLeft,
	"up":    SwipeUp,
	"down":  SwipeDown,
}

func (d Direction) String() string {
	for name, v := range directionNames {
		if v == d {
			return name
		}
	}
	return "Direction(" + strconv.Itoa(int(d)) + ")"
}

// ParseDirection accepts a direction name or its numeric code.
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if d, ok := directionNames[s]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= int(SwipeRight) && n <= int(SwipeDown) {
		return Direction(n), nil
	}
	return 0, fmt.Errorf("unknown swipe direction %q", s)
}

// Path returns the stroke endpoints on a width x height screen, laid out on a quarter grid.
func (d Direction) Path(width, height int) (from, to geometry.Point, ok bool) {
	w, h := width/4, height/4
	switch d {
	case SwipeRight:
		return geometry.Point{X: w, Y: 2 * h}, geometry.Point{X: 3 * w, Y: 2 * h}, true
	case SwipeLeft:
		return geometry.Point{X: 3 * w, Y: 2 * h}, geometry.Point{X: w, Y: 2 * h}, true
	case SwipeUp:
		return geometry.Point{X: 2 * w, Y: 3 * h}, geometry.Point{X: w, Y: h}, true
	case SwipeDown:
		return geometry.Point{X: 2 * w, Y: h}, geometry.Point{X: w, Y: 3 * h}, true
	default:
		return geometry.Point{}, geometry.Point{}, false
	}
}

// ClickOutcome describes how a click was delivered.
type ClickOutcome struct {
	Fallback bool
	Score    float64
	At       geometry.Point
}

// Provider is the Automation Capability Provider. It resolves every call
// against whatever Device is bound at that moment.
type Provider struct {
	logger   *zap.Logger
	bindings *Bindings
	matcher  *matcher.Matcher
	capture  *capture.Pipeline
}

// NewProvider wires a Provider over bindings.
func NewProvider(logger *zap.Logger, bindings *Bindings, m *matcher.Matcher, p *capture.Pipeline) *Provider {
	return &Provider{
		logger:   logger.Named("provider"),
		bindings: bindings,
		matcher:  m,
		capture:  p,
	}
}

func (p *Provider) launcher() (Launcher, error) {
	dev := p.bindings.Current()
	if dev == nil || dev.Launcher == nil {
		return nil, ErrCapabilityUnavailable
	}
	return dev.Launcher, nil
}

func (p *Provider) gestures() (*Device, error) {
	dev := p.bindings.Current()
	if dev == nil || dev.Gestures == nil {
		return nil, ErrCapabilityUnavailable
	}
	return dev, nil
}

// LaunchApp opens the main entry of pkg.
func (p *Provider) LaunchApp(ctx context.Context, pkg string) error {
	l, err := p.launcher()
	if err != nil {
		return err
	}
	return l.LaunchApp(ctx, pkg)
}

// LaunchActivity opens an explicit component of pkg.
func (p *Provider) LaunchActivity(ctx context.Context, pkg, activity string) error {
	l, err := p.launcher()
	if err != nil {
		return err
	}
	return l.LaunchActivity(ctx, pkg, activity)
}

// StopApp terminates the background process of pkg.
func (p *Provider) StopApp(ctx context.Context, pkg string) error {
	l, err := p.launcher()
	if err != nil {
		return err
	}
	return l.StopApp(ctx, pkg)
}

// Click resolves rect against the active UI tree and clicks the best node.
// Without an overlapping node it taps the centroid of rect instead.
func (p *Provider) Click(ctx context.Context, rect geometry.Rect) (ClickOutcome, error) {
	dev, err := p.gestures()
	if err != nil {
		return ClickOutcome{}, err
	}

	var root matcher.Node
	if dev.Tree != nil {
		root, err = dev.Tree.ActiveRoot(ctx)
		if err != nil {
			p.logger.Warn("Could not read the UI tree, falling back to tap.", zap.Error(err))
			root = nil
		}
	}

	target, err := p.matcher.Resolve(ctx, root, rect)
	if err != nil {
		return ClickOutcome{}, err
	}
	defer target.Release()

	outcome := ClickOutcome{Fallback: target.Fallback(), Score: target.Score, At: target.Tap}
	if !target.Fallback() {
		err := dev.Gestures.ClickNode(ctx, target.Node)
		if err == nil {
			outcome.At = target.Node.Bounds().Center()
			return outcome, nil
		}
		p.logger.Debug("Node click failed, tapping instead.", zap.Error(err))
		outcome.Fallback = true
	}
	if err := dev.Gestures.Tap(ctx, target.Tap, target.Hold); err != nil {
		return outcome, fmt.Errorf("failed to tap %v: %w", target.Tap, err)
	}
	return outcome, nil
}

// Swipe strokes across the screen in direction d.
func (p *Provider) Swipe(ctx context.Context, d Direction) error {
	dev, err := p.gestures()
	if err != nil {
		return err
	}
	width, height := dev.Gestures.ScreenSize()
	from, to, ok := d.Path(width, height)
	if !ok {
		return fmt.Errorf("unknown swipe direction %d", int(d))
	}
	return dev.Gestures.Stroke(ctx, from, to, SwipeDuration)
}

// Screenshot captures the screen as a base64 JPEG. It returns "" when the
// device offers no frame source.
func (p *Provider) Screenshot(ctx context.Context) (string, error) {
	dev := p.bindings.Current()
	if dev == nil {
		return "", ErrCapabilityUnavailable
	}
	if dev.Frames == nil {
		p.logger.Debug("No frame source bound, returning empty screenshot.")
		return "", nil
	}
	return p.capture.Screenshot(ctx, func(ctx context.Context) (image.Image, error) {
		return dev.Frames.Capture(ctx)
	})
}

// InstalledApps queries the App Directory.
func (p *Provider) InstalledApps(ctx context.Context) ([]AppDescriptor, error) {
	dev := p.bindings.Current()
	if dev == nil || dev.Apps == nil {
		return nil, ErrCapabilityUnavailable
	}
	return dev.Apps.EnumerateInstalledApps(ctx)
}
