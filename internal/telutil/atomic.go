// Package telutil contains small helpers shared by telescope packages.
package telutil

import "sync"

// Atomic set and get operations for any type.
type Atomic[T any] struct {
	mtx sync.RWMutex
	val T
}

// NewAtomic returns a new atomic wrapper around val.
func NewAtomic[T any](val T) *Atomic[T] {
	return &Atomic[T]{val: val}
}

// Set the value to val.
func (a *Atomic[T]) Set(val T) { a.mtx.Lock(); defer a.mtx.Unlock(); a.val = val }

// Get the current value.
func (a *Atomic[T]) Get() T { a.mtx.RLock(); defer a.mtx.RUnlock(); return a.val }

// Update replaces the value with the result of fn, which is called with the
// current value while holding the lock. The new value is returned.
func (a *Atomic[T]) Update(fn func(T) T) T {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.val = fn(a.val)
	return a.val
}
