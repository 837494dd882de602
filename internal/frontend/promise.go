// Package frontend implements the interaction surfaces a human uses to steer
// the agent: supplying instructions, answering questions and acknowledging
// consent prompts, while watching the transcript.
package frontend

import (
	"context"
	"sync/atomic"
)

// Promise is a single-assignment value. The first Resolve wins; later calls
// are rejected and leave the value untouched. Waiters block on a channel, so
// awaiting never polls.
type Promise[T any] struct {
	resolved atomic.Bool
	done     chan struct{}
	value    T
}

// NewPromise returns an unresolved promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve sets the value and wakes all waiters. It reports false if the
// promise had already been resolved.
func (p *Promise[T]) Resolve(v T) bool {
	if !p.resolved.CompareAndSwap(false, true) {
		return false
	}
	p.value = v
	close(p.done)
	return true
}

// Done is closed once the promise is resolved.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Resolved reports whether Resolve has succeeded.
func (p *Promise[T]) Resolved() bool { return p.resolved.Load() }

// Await blocks until the promise is resolved or ctx ends.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
