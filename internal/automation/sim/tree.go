// File: internal/automation/sim/tree.go
package sim

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xkilldash9x/irpa-agent/internal/geometry"
	"github.com/xkilldash9x/irpa-agent/internal/matcher"
)

const iconPrefix = "icon:"

type node struct {
	id       string
	bounds   geometry.Rect
	children []*node
}

// handle is an acquired reference to a node. The device counts open handles
// so tests can check the matcher releases everything it visits.
type handle struct {
	dev      *Device
	n        *node
	released atomic.Bool
}

func (d *Device) acquire(n *node) *handle {
	d.open.Add(1)
	return &handle{dev: d, n: n}
}

func (h *handle) ID() string { return h.n.id }
func (h *handle) Bounds() geometry.Rect { return h.n.bounds }
func (h *handle) ChildCount() int { return len(h.n.children) }

func (h *handle) Child(i int) matcher.Node {
	if i < 0 || i >= len(h.n.children) {
		return nil
	}
	return h.dev.acquire(h.n.children[i])
}

func (h *handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.dev.open.Add(-1)
	}
}

// ActiveRoot returns the tree of the foreground app, or the home screen.
func (d *Device) ActiveRoot(ctx context.Context) (matcher.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkg := d.Foreground()
	if pkg == "" {
		return d.acquire(d.homeScreen()), nil
	}
	return d.acquire(d.appScreen(pkg)), nil
}

func (d *Device) homeScreen() *node {
	w, h := d.opts.Width, d.opts.Height
	root := &node{id: "home", bounds: geometry.Rect{Right: w, Bottom: h}}
	cell := w / 4
	for i, app := range d.opts.Apps {
		col, row := i%4, i/4
		root.children = append(root.children, &node{
			id: iconPrefix + app.Package,
			bounds: geometry.Rect{
				Left:   col * cell,
				Top:    200 + row*300,
				Right:  (col + 1) * cell,
				Bottom: 200 + (row+1)*300,
			},
		})
	}
	return root
}

func (d *Device) appScreen(pkg string) *node {
	w, h := d.opts.Width, d.opts.Height
	id := func(name string) string { return pkg + ":" + name }

	toolbar := &node{
		id:     id("toolbar"),
		bounds: geometry.Rect{Right: w, Bottom: 200},
		children: []*node{
			{id: id("back"), bounds: geometry.Rect{Right: 200, Bottom: 200}},
			{id: id("title"), bounds: geometry.Rect{Left: 200, Right: w - 200, Bottom: 200}},
		},
	}
	list := &node{id: id("list"), bounds: geometry.Rect{Top: 200, Right: w, Bottom: h - 300}}
	for i := 0; i < 4; i++ {
		list.children = append(list.children, &node{
			id:     id(fmt.Sprintf("row-%d", i)),
			bounds: geometry.Rect{Top: 200 + i*300, Right: w, Bottom: 200 + (i+1)*300},
		})
	}
	action := &node{
		id:     id("action"),
		bounds: geometry.Rect{Left: w/2 - 200, Top: h - 300, Right: w/2 + 200, Bottom: h - 100},
	}
	return &node{
		id:       id("window"),
		bounds:   geometry.Rect{Right: w, Bottom: h},
		children: []*node{toolbar, list, action},
	}
}
