// Package dispatch marshals callbacks onto the execution context an
// observer requires.
package dispatch

import (
	"context"
	"sync"
)

// Func delivers fn on some execution context. Implementations must run
// callbacks in the order they were handed over and must not block the
// caller waiting for fn to finish, unless they run fn inline.
type Func func(fn func())

// Immediate runs fn on the calling goroutine.
func Immediate(fn func()) { fn() }

// Loop is an unbounded FIFO of callbacks drained by Run.
// Post never blocks, so a producer is never slowed by its consumer.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn. It reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return true
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Dispatch is Post shaped as a Func.
func (l *Loop) Dispatch(fn func()) { l.Post(fn) }

// Run executes queued callbacks on the calling goroutine until ctx is done
// or the loop is closed and drained.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			fn()
		}

		l.mu.Lock()
		done := l.closed && len(l.queue) == 0
		l.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// Len returns the number of callbacks waiting to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting callbacks; Run returns after draining the rest.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}
