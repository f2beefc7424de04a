// Package resource implements the Resource Manager (C2): memory ceiling
// checks, batch-size optimization under a memory budget, and device
// selection with fallback.
package resource

import (
	"fmt"

	"github.com/indexforge/ingestcore/internal/coreerrors"
	"github.com/indexforge/ingestcore/internal/procstat"
)

// Limits bounds the resources a Manager enforces.
type Limits struct {
	MaxMemoryMB    int
	TargetDevice   string
	FallbackDevice string
}

// Manager enforces Limits around unit-of-work execution.
type Manager struct {
	limits     Limits
	device     string
	memoryUsed func() int64 // bytes; overridable for tests
}

// Option configures a Manager.
type Option func(*Manager)

// WithMemoryReader overrides how current process memory usage is read,
// primarily for tests.
func WithMemoryReader(fn func() int64) Option {
	return func(m *Manager) { m.memoryUsed = fn }
}

// New creates a Manager and resolves the active device: "cpu" for an empty
// or "cpu" target, otherwise Limits.FallbackDevice (or "cpu" if that is
// empty). A non-cpu target is not probed.
func New(limits Limits, opts ...Option) *Manager {
	m := &Manager{limits: limits, memoryUsed: defaultMemoryUsed}
	for _, opt := range opts {
		opt(m)
	}
	m.device = m.initializeDevice()
	return m
}

func defaultMemoryUsed() int64 {
	snap := procstat.Read()
	if snap.RSSBytes == nil {
		return 0
	}
	return *snap.RSSBytes
}

// Device returns the resolved device name. No device probe or test
// allocation is made; a non-cpu target always resolves to the fallback.
func (m *Manager) Device() string { return m.device }

func (m *Manager) initializeDevice() string {
	if m.limits.TargetDevice == "" || m.limits.TargetDevice == "cpu" {
		return "cpu"
	}
	// No GPU runtime is reachable from pure Go without a third-party binding
	// absent from this codebase's dependency set; always fall back.
	if m.limits.FallbackDevice != "" {
		return m.limits.FallbackDevice
	}
	return "cpu"
}

// CurrentMemoryMB returns current process memory usage in megabytes.
func (m *Manager) CurrentMemoryMB() int {
	return int(m.memoryUsed() / (1024 * 1024))
}

// CheckMemory returns an error if projected usage would exceed the
// configured ceiling.
func (m *Manager) CheckMemory(additionalMB int) error {
	current := m.CurrentMemoryMB()
	if current+additionalMB > m.limits.MaxMemoryMB {
		return coreerrors.NewResourceExhaustedError(
			"resource-manager",
			fmt.Sprintf("memory ceiling exceeded: %dMB current + %dMB requested > %dMB limit", current, additionalMB, m.limits.MaxMemoryMB),
			map[string]any{"max_memory_mb": m.limits.MaxMemoryMB},
			map[string]any{"current_memory_mb": current, "additional_mb": additionalMB},
		)
	}
	return nil
}

// OptimizeBatchSize returns the largest batch size, capped at requested,
// that fits the available memory budget given a per-item memory cost.
func (m *Manager) OptimizeBatchSize(requested int, itemMB float64) int {
	if itemMB <= 0 {
		return requested
	}
	availableMB := m.limits.MaxMemoryMB - m.CurrentMemoryMB()
	if availableMB <= 0 {
		return 0
	}
	maxFit := int(float64(availableMB) / itemMB)
	if maxFit > requested {
		return requested
	}
	if maxFit < 0 {
		return 0
	}
	return maxFit
}

// ExecuteWithResources checks the memory budget then runs fn, wrapping any
// failure from fn as a ResourceError so callers see a single taxonomy
// regardless of the underlying cause.
func ExecuteWithResources[T any](m *Manager, additionalMB int, fn func() (T, error)) (T, error) {
	var zero T
	if err := m.CheckMemory(additionalMB); err != nil {
		return zero, err
	}
	result, err := fn()
	if err != nil {
		return zero, coreerrors.NewResourceError("execution failed under resource guard", err)
	}
	return result, nil
}
