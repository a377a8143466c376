/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package changequeue

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestQueue() *Queue {
	return New(WithLogger(log.New(io.Discard, "", 0)))
}

func isDone(f *Future) bool {
	select {
	case <-f.Done():
		return true
	default:
		return false
	}
}

func waitFuture(t *testing.T, f *Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("Timed out waiting for queued change")
	}
	return v, err
}

func TestQueue_FIFOWithFailure(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	gate := make(chan struct{})
	errB := errors.New("b failed")

	var fa, fb *Future
	fa = q.Enqueue(func(ctx context.Context) (any, error) {
		<-gate
		record("A")
		return "a", nil
	})
	fb = q.Enqueue(func(ctx context.Context) (any, error) {
		record("B")
		if !isDone(fa) {
			t.Error("A should be resolved before B runs")
		}
		return nil, errB
	})
	fc := q.Enqueue(func(ctx context.Context) (any, error) {
		record("C")
		if !isDone(fa) || !isDone(fb) {
			t.Error("A and B should be resolved before C runs")
		}
		return "c", nil
	})
	close(gate)

	if v, err := waitFuture(t, fa); err != nil || v != "a" {
		t.Errorf("A: expected (a, nil), got (%v, %v)", v, err)
	}
	if _, err := waitFuture(t, fb); !errors.Is(err, errB) {
		t.Errorf("B: expected errB, got %v", err)
	}
	if v, err := waitFuture(t, fc); err != nil || v != "c" {
		t.Errorf("C: expected (c, nil), got (%v, %v)", v, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Errorf("Expected order [A B C], got %v", order)
	}
}

func TestQueue_OneInFlight(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	var inFlight, maxInFlight int32
	futures := make([]*Future, 0, 20)
	for i := 0; i < 20; i++ {
		futures = append(futures, q.Enqueue(func(ctx context.Context) (any, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil, nil
		}))
	}
	for _, f := range futures {
		waitFuture(t, f)
	}
	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("Expected at most 1 operation in flight, saw %d", got)
	}
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	var ran int32
	var wg sync.WaitGroup
	futures := make(chan *Future, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			futures <- q.Enqueue(func(ctx context.Context) (any, error) {
				atomic.AddInt32(&ran, 1)
				return nil, nil
			})
		}()
	}
	wg.Wait()
	close(futures)
	for f := range futures {
		waitFuture(t, f)
	}
	if atomic.LoadInt32(&ran) != 50 {
		t.Errorf("Expected 50 operations to run, got %d", ran)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var laterRan int32

	first := q.Enqueue(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "first", nil
	})
	<-started

	second := q.Enqueue(func(ctx context.Context) (any, error) {
		atomic.AddInt32(&laterRan, 1)
		return nil, nil
	})
	third := q.Enqueue(func(ctx context.Context) (any, error) {
		atomic.AddInt32(&laterRan, 1)
		return nil, nil
	})
	if q.Len() != 2 {
		t.Fatalf("Expected 2 pending changes, got %d", q.Len())
	}

	q.Clear()
	close(release)

	if v, err := waitFuture(t, first); err != nil || v != "first" {
		t.Errorf("In-flight change should complete, got (%v, %v)", v, err)
	}

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&laterRan) != 0 {
		t.Error("Cleared changes must not run")
	}
	if isDone(second) || isDone(third) {
		t.Error("Cleared futures must stay unresolved")
	}

	// The queue keeps working after a clear.
	if v, err := waitFuture(t, q.Enqueue(func(ctx context.Context) (any, error) { return 1, nil })); err != nil || v != 1 {
		t.Errorf("Expected queue to keep draining, got (%v, %v)", v, err)
	}
}

func TestQueue_PanicIsolated(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	bad := q.Enqueue(func(ctx context.Context) (any, error) {
		panic("driver exploded")
	})
	good := q.Enqueue(func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	if _, err := waitFuture(t, bad); err == nil {
		t.Error("Expected panicking change to fail")
	}
	if v, err := waitFuture(t, good); err != nil || v != "ok" {
		t.Errorf("Expected next change to succeed, got (%v, %v)", v, err)
	}
}

func TestQueue_Close(t *testing.T) {
	q := newTestQueue()

	started := make(chan struct{})
	inFlight := q.Enqueue(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	pending := q.Enqueue(func(ctx context.Context) (any, error) { return nil, nil })

	q.Close()

	if _, err := waitFuture(t, pending); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed for pending change, got %v", err)
	}
	if _, err := waitFuture(t, inFlight); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected in-flight change to observe cancellation, got %v", err)
	}
	if _, err := waitFuture(t, q.Enqueue(func(ctx context.Context) (any, error) { return nil, nil })); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestDo(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	n, err := Do(context.Background(), q, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || n != 42 {
		t.Errorf("Expected (42, nil), got (%d, %v)", n, err)
	}

	_, err = Do(context.Background(), q, func(ctx context.Context) (string, error) {
		return "", io.ErrUnexpectedEOF
	})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected wrapped error, got %v", err)
	}
}

func TestEnqueueNil(t *testing.T) {
	q := newTestQueue()
	defer q.Close()
	if _, err := waitFuture(t, q.Enqueue(nil)); err == nil {
		t.Error("Expected error for nil operation")
	}
}
