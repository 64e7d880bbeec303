// Package limiter bounds the number of concurrent outbound asset downloads
// across the entire process. Job- and item-level concurrency are local to
// their own scopes; this is the only global ceiling.
package limiter

import (
	"context"
	"sync"
)

// Limiter is a counting semaphore with FIFO waiters. A released slot is
// handed directly to the oldest waiter instead of re-entering the counting
// path, so a waiter can never be starved by a late acquirer and the ceiling
// can never be exceeded.
type Limiter struct {
	max int

	mu       sync.Mutex
	inflight int
	waiters  []chan struct{}
}

// New creates a limiter with the given ceiling. A ceiling of zero disables
// limiting entirely; every Acquire passes straight through.
func New(max int) *Limiter {
	return &Limiter{max: max}
}

// Acquire obtains a slot, blocking in FIFO order while the ceiling is
// reached. It returns the context's error if the caller gives up first.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.max <= 0 {
		return nil
	}

	l.mu.Lock()
	if l.inflight < l.max && len(l.waiters) == 0 {
		l.inflight++
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The slot was handed to us while we were giving up; return it so
		// it is not lost.
		l.Release()
		return ctx.Err()
	}
}

// Release returns a slot. If a waiter exists the slot is handed to it
// directly and the inflight count stays unchanged.
func (l *Limiter) Release() {
	if l.max <= 0 {
		return
	}

	l.mu.Lock()
	if len(l.waiters) > 0 {
		ch := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		close(ch)
		return
	}
	if l.inflight > 0 {
		l.inflight--
	}
	l.mu.Unlock()
}

// InFlight reports how many slots are currently held.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight
}

// Waiting reports how many callers are queued for a slot.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
