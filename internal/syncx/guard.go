// Package syncx provides extended synchronization primitives
package syncx

import (
	"context"
	"sync"
)

// RWGuard is a read projection of state owned by a single writer.
// Readers get copies; Changed lets them wait for the next write.
type RWGuard[T any] struct {
	mu      sync.RWMutex
	value   T
	changed chan struct{}
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial, changed: make(chan struct{})}
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set replaces the value and wakes watchers.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
	g.notifyLocked()
}

// Swap replaces and returns the old value.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	g.notifyLocked()
	return old
}

// Update mutates the value in place and returns the result.
func (g *RWGuard[T]) Update(fn func(*T)) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
	g.notifyLocked()
	return g.value
}

// Changed returns a channel closed on the next write.
func (g *RWGuard[T]) Changed() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.changed
}

// WaitFor blocks until pred holds for the current value or ctx ends.
func (g *RWGuard[T]) WaitFor(ctx context.Context, pred func(T) bool) (T, error) {
	for {
		g.mu.RLock()
		v, ch := g.value, g.changed
		g.mu.RUnlock()
		if pred(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ch:
		}
	}
}

func (g *RWGuard[T]) notifyLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}
