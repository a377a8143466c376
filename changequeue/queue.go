/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package changequeue serializes hardware-control side effects so that only one
// device command runs at a time, in submission order.
package changequeue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrClosed is returned for operations submitted to, or still pending in, a closed queue.
var ErrClosed = errors.New("change queue closed")

// Logger is the interface for queue logging. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Operation is a single queued change.
type Operation func(ctx context.Context) (any, error)

type queuedChange struct {
	op     Operation
	future *Future
}

// Queue runs queued operations one at a time in FIFO order.
// The zero value is not usable; use New.
type Queue struct {
	mu       sync.Mutex
	pending  []*queuedChange
	draining bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	logger Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for operation failures.
func WithLogger(l Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ctx:    ctx,
		cancel: cancel,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue submits op and returns a Future for its outcome.
func (q *Queue) Enqueue(op Operation) *Future {
	f := newFuture()
	if op == nil {
		f.resolve(nil, fmt.Errorf("nil operation"))
		return f
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.resolve(nil, ErrClosed)
		return f
	}
	q.pending = append(q.pending, &queuedChange{op: op, future: f})
	q.mu.Unlock()

	q.drain()
	return f
}

// Clear discards every operation that has not started yet. Their futures are
// abandoned and never resolve. The in-flight operation, if any, completes normally.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	if dropped > 0 {
		q.logger.Printf("ChangeQueue: cleared %d pending changes", dropped)
	}
}

// Len returns the number of operations waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the queue. Operations that have not started resolve with ErrClosed
// and the in-flight operation's context is cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	for _, change := range pending {
		change.future.resolve(nil, ErrClosed)
	}
}

// drain starts the single draining goroutine unless one is already running.
func (q *Queue) drain() {
	q.mu.Lock()
	if q.draining || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	go q.run()
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.closed {
			q.draining = false
			q.mu.Unlock()
			return
		}
		change := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		value, err := q.execute(change.op)
		if err != nil {
			q.logger.Printf("ChangeQueue: queued change failed: %v", err)
		}
		change.future.resolve(value, err)
	}
}

func (q *Queue) execute(op Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued change panicked: %v", r)
		}
	}()
	return op(q.ctx)
}

// Do enqueues fn on q and waits for its typed result.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	f := q.Enqueue(func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	v, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T", v)
	}
	return typed, nil
}
