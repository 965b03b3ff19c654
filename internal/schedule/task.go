// File: internal/schedule/task.go
package schedule

import (
	"sync"
	"time"
)

// Task is a single-slot delayed callback. Scheduling replaces any pending run,
// so at most one callback is ever outstanding per Task. The zero value is ready to use.
type Task struct {
	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
}

// Schedule arms fn to run after d, atomically cancelling any previously scheduled run.
// A run that was already firing when Schedule was called is suppressed.
func (t *Task) Schedule(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.pending = true
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.pending = false
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending run. It reports whether a run was pending.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.pending
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.pending = false
	return was
}

// Pending reports whether a run is armed and has not started.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
