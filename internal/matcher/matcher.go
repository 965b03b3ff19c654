// File: internal/matcher/matcher.go
package matcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/geometry"
)

// Node is a handle to one element of a UI tree snapshot owned by the platform.
// Handles returned from Child must be released exactly once.
type Node interface {
	Bounds() geometry.Rect
	ChildCount() int
	// Child acquires the i-th child. It returns nil if the child vanished.
	Child(i int) Node
	Release()
}

// Target is the result of resolving a rectangle against the UI tree.
// When Node is nil the caller should fall back to a synthetic tap at Tap, held for Hold.
type Target struct {
	Node    Node
	Score   float64
	Visited int
	Tap     geometry.Point
	Hold    time.Duration
}

// Fallback reports whether no node overlapped the requested rectangle.
func (t Target) Fallback() bool { return t.Node == nil }

// Release frees the matched node handle, if any.
func (t *Target) Release() {
	if t.Node != nil {
		t.Node.Release()
		t.Node = nil
	}
}

// Matcher selects the UI node whose bounds best match a target rectangle.
type Matcher struct {
	logger *zap.Logger
	hold   time.Duration
}

// New creates a Matcher. hold is the press duration used for centroid fallback taps.
func New(logger *zap.Logger, hold time.Duration) *Matcher {
	return &Matcher{
		logger: logger.Named("matcher"),
		hold:   hold,
	}
}

type search struct {
	target geometry.Rect
	best   Node
	score  float64
	// closed is set once the best node's own subtree has been walked.
	closed  bool
	visited int
}

// Resolve walks the tree rooted at root in pre-order and returns the max-IoU node.
// Ties go to the node visited first. Ownership of root passes to Resolve; every
// handle except the returned Target.Node is released before Resolve returns.
func (m *Matcher) Resolve(ctx context.Context, root Node, target geometry.Rect) (Target, error) {
	result := Target{
		Tap:  target.Center(),
		Hold: m.hold,
	}
	if root == nil {
		m.logger.Debug("No active window, falling back to tap.", zap.Stringer("rect", target))
		return result, nil
	}

	s := &search{target: target}
	if err := m.visit(ctx, root, s); err != nil {
		if s.best != nil {
			s.best.Release()
		}
		return result, fmt.Errorf("ui tree traversal aborted: %w", err)
	}

	result.Visited = s.visited
	if s.best == nil {
		m.logger.Debug("No overlapping node, falling back to tap.",
			zap.Stringer("rect", target), zap.Int("visited", s.visited))
		return result, nil
	}
	result.Node = s.best
	result.Score = s.score
	return result, nil
}

func (m *Matcher) visit(ctx context.Context, n Node, s *search) (err error) {
	defer func() {
		if s.best == n {
			s.closed = true
			return
		}
		n.Release()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.visited++

	if score := geometry.IoU(n.Bounds(), s.target); score > s.score {
		// A dethroned ancestor is still being walked and releases itself on the way out.
		if s.best != nil && s.closed {
			s.best.Release()
		}
		s.best, s.score, s.closed = n, score, false
	}

	for i := 0; i < n.ChildCount(); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if err := m.visit(ctx, child, s); err != nil {
			return err
		}
	}
	return nil
}
