// File: internal/automation/automation.go
package automation

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/xkilldash9x/irpa-agent/internal/geometry"
	"github.com/xkilldash9x/irpa-agent/internal/matcher"
)

// ErrCapabilityUnavailable is returned when the platform side of a capability is not bound yet.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// AppDescriptor is one launchable application, as reported by the App Directory.
type AppDescriptor struct {
	Name         string `json:"name"`
	Package      string `json:"package"`
	MainActivity string `json:"mainActivity"`
}

// Launcher starts and stops applications.
type Launcher interface {
	LaunchApp(ctx context.Context, pkg string) error
	LaunchActivity(ctx context.Context, pkg, activity string) error
	StopApp(ctx context.Context, pkg string) error
}

// Gesturer injects input on the device screen.
type Gesturer interface {
	ScreenSize() (width, height int)
	// ClickNode performs the platform click action on a matched node.
	ClickNode(ctx context.Context, node matcher.Node) error
	Tap(ctx context.Context, at geometry.Point, hold time.Duration) error
	Stroke(ctx context.Context, from, to geometry.Point, d time.Duration) error
}

// UITree exposes the accessibility tree of the foreground window.
type UITree interface {
	// ActiveRoot acquires a handle to the root node, or nil when no window is active.
	// The caller owns the handle.
	ActiveRoot(ctx context.Context) (matcher.Node, error)
}

// FrameSource grabs the raw screen buffer.
type FrameSource interface {
	Capture(ctx context.Context) (image.Image, error)
}

// AppDirectory lists installed applications. It is queried once at startup.
type AppDirectory interface {
	EnumerateInstalledApps(ctx context.Context) ([]AppDescriptor, error)
}

// ContentWatcher delivers window-state and window-content change notifications.
// sourceID identifies the node that changed.
type ContentWatcher interface {
	Watch(fn func(sourceID string)) (unregister func())
}

// Device bundles the platform collaborators. Any field may be nil when the
// platform does not offer that capability.
type Device struct {
	Launcher Launcher
	Gestures Gesturer
	Tree     UITree
	Frames   FrameSource
	Apps     AppDirectory
	Content  ContentWatcher
}
