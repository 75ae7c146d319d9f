// Package sync provides the spinlock used to serialize access to shared
// hardware register windows.
package sync

import "sync/atomic"

// spinsBeforeYield controls how many failed acquisition attempts are made
// before yieldFn is invoked.
const spinsBeforeYield = 64

var (
	// yieldFn is invoked while spinning on a contended lock. It stays nil
	// until the kernel is able to switch between tasks.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. The zero value is an unlocked Spinlock.
type Spinlock struct {
	state atomic.Uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for spins := 0; !l.state.CompareAndSwap(0, 1); spins++ {
		if spins == spinsBeforeYield {
			spins = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	l.state.Store(0)
}
