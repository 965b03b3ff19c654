// File: internal/automation/bindings.go
package automation

import (
	"sync"

	"go.uber.org/zap"
)

// Bindings holds the currently registered Device. Registration is explicit
// and happens during startup sequencing; readers always see the latest device.
type Bindings struct {
	logger *zap.Logger
	mu     sync.RWMutex
	device *Device
	// gen distinguishes successive registrations so a stale unbind is a no-op.
	gen uint64
}

// NewBindings creates an empty set of bindings.
func NewBindings(logger *zap.Logger) *Bindings {
	return &Bindings{logger: logger.Named("bindings")}
}

// Bind registers d, replacing any previous device. The returned function
// unregisters it, unless another device has been bound since.
func (b *Bindings) Bind(d *Device) (unbind func()) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.device = d
	b.mu.Unlock()
	b.logger.Info("Device bound.")

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.gen != gen {
				return
			}
			b.device = nil
			b.logger.Info("Device unbound.")
		})
	}
}

// Current returns the bound device, or nil.
func (b *Bindings) Current() *Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.device
}
