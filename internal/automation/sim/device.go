// File: internal/automation/sim/device.go
package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/automation"
	"github.com/xkilldash9x/irpa-agent/internal/geometry"
	"github.com/xkilldash9x/irpa-agent/internal/matcher"
)

// Options configures a simulated device.
type Options struct {
	Width  int
	Height int
	Apps   []automation.AppDescriptor
	// LoadEvents is the number of content changes emitted after a launch, LoadSpacing apart.
	LoadEvents  int
	LoadSpacing time.Duration
}

// DefaultOptions is a phone-sized screen with a handful of installed apps.
func DefaultOptions() Options {
	return Options{
		Width:       1080,
		Height:      1920,
		Apps:        DefaultApps(),
		LoadEvents:  5,
		LoadSpacing: 20 * time.Millisecond,
	}
}

// DefaultApps is the launcher list of the simulated device.
func DefaultApps() []automation.AppDescriptor {
	return []automation.AppDescriptor{
		{Name: "Clock", Package: "com.android.deskclock", MainActivity: "com.android.deskclock.DeskClock"},
		{Name: "Contacts", Package: "com.android.contacts", MainActivity: "com.android.contacts.activities.PeopleActivity"},
		{Name: "Settings", Package: "com.android.settings", MainActivity: "com.android.settings.Settings"},
		{Name: "Example", Package: "com.example", MainActivity: "com.example.MainActivity"},
	}
}

// Action is one recorded side effect on the simulated device.
type Action struct {
	Kind     string
	Package  string
	Activity string
	Node     string
	At       geometry.Point
	To       geometry.Point
	Duration time.Duration
}

// Device is an in-memory device implementing every automation collaborator.
// It backs the run command when no platform bridge is attached, and the end-to-end tests.
type Device struct {
	logger *zap.Logger
	opts   Options

	mu         sync.Mutex
	running    map[string]bool
	foreground string
	activity   string
	actions    []Action
	watchers   map[int]func(string)
	nextWatch  int

	open   atomic.Int64
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// New creates a simulated device.
func New(logger *zap.Logger, opts Options) *Device {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1080, 1920
	}
	return &Device{
		logger:   logger.Named("sim"),
		opts:     opts,
		running:  make(map[string]bool),
		watchers: make(map[int]func(string)),
		closed:   make(chan struct{}),
	}
}

// Automation exposes d as a fully populated automation.Device.
func (d *Device) Automation() *automation.Device {
	return &automation.Device{
		Launcher: d,
		Gestures: d,
		Tree:     d,
		Frames:   d,
		Apps:     d,
		Content:  d,
	}
}

// Close stops pending load simulations and waits for them to exit.
func (d *Device) Close() {
	d.once.Do(func() { close(d.closed) })
	d.wg.Wait()
}

// Actions returns a copy of everything recorded so far.
func (d *Device) Actions() []Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Action(nil), d.actions...)
}

// Foreground returns the package currently in front, or "".
func (d *Device) Foreground() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.foreground
}

// Running reports whether pkg has a live process.
func (d *Device) Running(pkg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[pkg]
}

// OpenHandles reports node handles acquired but not yet released.
func (d *Device) OpenHandles() int64 { return d.open.Load() }

func (d *Device) record(a Action) {
	d.mu.Lock()
	d.actions = append(d.actions, a)
	d.mu.Unlock()
}

func (d *Device) lookup(pkg string) (automation.AppDescriptor, bool) {
	for _, app := range d.opts.Apps {
		if app.Package == pkg {
			return app, true
		}
	}
	return automation.AppDescriptor{}, false
}

// -- Launcher --

func (d *Device) LaunchApp(ctx context.Context, pkg string) error {
	app, ok := d.lookup(pkg)
	if !ok {
		return fmt.Errorf("package %q is not installed", pkg)
	}
	return d.launch(pkg, app.MainActivity, "launch")
}

func (d *Device) LaunchActivity(ctx context.Context, pkg, activity string) error {
	if _, ok := d.lookup(pkg); !ok {
		return fmt.Errorf("package %q is not installed", pkg)
	}
	if activity == "" {
		return fmt.Errorf("no activity given for %q", pkg)
	}
	return d.launch(pkg, activity, "goto")
}

func (d *Device) launch(pkg, activity, kind string) error {
	d.mu.Lock()
	d.running[pkg] = true
	d.foreground = pkg
	d.activity = activity
	d.actions = append(d.actions, Action{Kind: kind, Package: pkg, Activity: activity})
	d.mu.Unlock()

	d.logger.Info("App started.", zap.String("package", pkg), zap.String("activity", activity))
	d.simulateLoad(pkg)
	return nil
}

func (d *Device) StopApp(ctx context.Context, pkg string) error {
	if _, ok := d.lookup(pkg); !ok {
		return fmt.Errorf("package %q is not installed", pkg)
	}
	d.mu.Lock()
	delete(d.running, pkg)
	if d.foreground == pkg {
		d.foreground, d.activity = "", ""
	}
	d.actions = append(d.actions, Action{Kind: "stop", Package: pkg})
	d.mu.Unlock()

	d.logger.Info("App stopped.", zap.String("package", pkg))
	return nil
}

// simulateLoad emits a burst of content changes the way a screen does while it renders.
func (d *Device) simulateLoad(pkg string) {
	if d.opts.LoadEvents <= 0 {
		return
	}
	select {
	case <-d.closed:
		return
	default:
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for i := 0; i < d.opts.LoadEvents; i++ {
			select {
			case <-d.closed:
				return
			case <-time.After(d.opts.LoadSpacing):
			}
			d.notify(fmt.Sprintf("%s:view-%d", pkg, i))
		}
	}()
}

// -- ContentWatcher --

func (d *Device) Watch(fn func(sourceID string)) (unregister func()) {
	d.mu.Lock()
	id := d.nextWatch
	d.nextWatch++
	d.watchers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.watchers, id)
		d.mu.Unlock()
	}
}

func (d *Device) notify(sourceID string) {
	d.mu.Lock()
	fns := make([]func(string), 0, len(d.watchers))
	for _, fn := range d.watchers {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(sourceID)
	}
}

// -- Gesturer --

func (d *Device) ScreenSize() (width, height int) { return d.opts.Width, d.opts.Height }

func (d *Device) ClickNode(ctx context.Context, n matcher.Node) error {
	h, ok := n.(*handle)
	if !ok {
		return fmt.Errorf("node %T does not belong to this device", n)
	}
	d.record(Action{Kind: "click", Node: h.n.id, At: h.n.bounds.Center()})
	if pkg, ok := strings.CutPrefix(h.n.id, iconPrefix); ok {
		return d.LaunchApp(ctx, pkg)
	}
	d.notify(h.n.id)
	return nil
}

func (d *Device) Tap(ctx context.Context, at geometry.Point, hold time.Duration) error {
	if err := d.hold(ctx, hold); err != nil {
		return err
	}
	d.record(Action{Kind: "tap", At: at, Duration: hold})
	return nil
}

func (d *Device) Stroke(ctx context.Context, from, to geometry.Point, dur time.Duration) error {
	if err := d.hold(ctx, dur); err != nil {
		return err
	}
	d.record(Action{Kind: "stroke", At: from, To: to, Duration: dur})
	return nil
}

func (d *Device) hold(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// -- AppDirectory --

func (d *Device) EnumerateInstalledApps(ctx context.Context) ([]automation.AppDescriptor, error) {
	return append([]automation.AppDescriptor(nil), d.opts.Apps...), nil
}

// -- FrameSource --

// Capture renders a flat frame tinted by the foreground package.
func (d *Device) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(d.Foreground()))
	sum := h.Sum32()
	c := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, d.opts.Width, d.opts.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img, nil
}
