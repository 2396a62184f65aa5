// Package sleeplock provides a blocking mutex that remembers its holder.
//
// Unlike sync.Mutex, a Lock is acquired on behalf of a token (a lease id).
// The holder can be queried with Holding, which lets callers detect a
// release or write by someone who does not own the lock. Waiters block
// (the goroutine is parked) until the lock is released, so it is safe to
// hold a Lock across device I/O.
package sleeplock

import (
	"sync/atomic"
)

// Lock is a blocking mutex owned by a non-zero token.
// The zero value is not usable; call Init first.
type Lock struct {
	ch     chan struct{}
	holder atomic.Uint64
}

// Init prepares the lock for use. It must not be called concurrently
// with any other method.
func (l *Lock) Init() {
	l.ch = make(chan struct{}, 1)
	l.holder.Store(0)
}

// Acquire blocks until the lock is free and records token as its holder.
func (l *Lock) Acquire(token uint64) {
	if token == 0 {
		panic("sleeplock: zero token")
	}
	l.ch <- struct{}{}
	l.holder.Store(token)
}

// TryAcquire acquires the lock if it is free.
func (l *Lock) TryAcquire(token uint64) bool {
	if token == 0 {
		panic("sleeplock: zero token")
	}
	select {
	case l.ch <- struct{}{}:
		l.holder.Store(token)
		return true
	default:
		return false
	}
}

// Holding reports whether token currently holds the lock.
func (l *Lock) Holding(token uint64) bool {
	return token != 0 && l.holder.Load() == token
}

// Release unlocks the lock. It panics if token is not the holder.
func (l *Lock) Release(token uint64) {
	if token == 0 || !l.holder.CompareAndSwap(token, 0) {
		panic("sleeplock: release by non-holder")
	}
	<-l.ch
}
