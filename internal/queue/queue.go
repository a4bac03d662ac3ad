// Package queue provides ordered execution of asynchronous closures over the
// goroutine runtime.
//
// An AsyncQueue does not own a thread. Each enqueued closure runs in its own
// goroutine whose body first awaits the entries it is ordered after, then
// runs the closure, then removes its own pending entry. A serial queue runs
// closures strictly in enqueue order; a concurrent queue runs them in
// parallel except across barriers, which fence both sides.
package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	hosterrors "github.com/conneroisu/lsphost/internal/errors"
	"github.com/conneroisu/lsphost/internal/types"
)

// Mode selects the ordering discipline of a queue.
type Mode int

const (
	// Serial runs every closure after the previous one, in enqueue order.
	Serial Mode = iota
	// Concurrent runs closures in parallel, ordered only across barriers.
	Concurrent
)

// pendingEntry tracks one enqueued closure until its body has finished and
// cleaned up. Entries are strictly ordered by insertion.
type pendingEntry struct {
	id      uuid.UUID
	barrier bool
	// done is closed when the closure has finished, successfully or not.
	// Dependents wait on it; they never inspect the result.
	done chan struct{}
}

// AsyncQueue imposes ordering on user-supplied asynchronous closures.
type AsyncQueue struct {
	name string
	mode Mode

	mu      sync.Mutex
	pending []*pendingEntry
	closed  bool
}

// New creates a queue with the given mode. The name labels the queue's
// metrics and has no behavioral meaning.
func New(mode Mode, name string) *AsyncQueue {
	return &AsyncQueue{name: name, mode: mode}
}

// Close marks the queue as closed. Closures already enqueued run to
// completion; new enqueues are refused with a caller error.
func (q *AsyncQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Handle is the single-producer-many-consumer result of an enqueued closure.
type Handle[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc

	value T
	err   error
}

// Await blocks until the closure has finished and returns its result. A
// cancelled waiter context aborts the wait but does not cancel the closure.
func (h *Handle[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the closure has finished.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Cancel cancels the context the closure runs under. The closure still runs
// (observing the cancelled context), and its pending entry is removed only by
// the body's cleanup, preserving the queue's ordering guarantees.
func (h *Handle[T]) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Enqueue adds a closure to the queue and returns a handle for its result.
// The closure's context carries the given priority.
func Enqueue[T any](q *AsyncQueue, priority types.TaskPriority, fn func(ctx context.Context) (T, error)) *Handle[T] {
	return enqueue(q, false, priority, fn)
}

// EnqueueBarrier adds a barrier closure to the queue. On a concurrent queue
// the barrier runs only after every earlier-enqueued closure has finished and
// blocks every later-enqueued closure until it finishes. On a serial queue it
// behaves like an ordinary closure.
func EnqueueBarrier[T any](q *AsyncQueue, priority types.TaskPriority, fn func(ctx context.Context) (T, error)) *Handle[T] {
	return enqueue(q, true, priority, fn)
}

func enqueue[T any](q *AsyncQueue, barrier bool, priority types.TaskPriority, fn func(ctx context.Context) (T, error)) *Handle[T] {
	entry := &pendingEntry{
		id:      uuid.New(),
		barrier: barrier,
		done:    make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = types.ContextWithPriority(ctx, priority)
	handle := &Handle[T]{done: make(chan struct{}), cancel: cancel}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cancel()
		handle.err = hosterrors.NewCallerError("enqueue", "queue %q: %v", q.name, hosterrors.ErrQueueClosed)
		close(handle.done)
		return handle
	}
	dependencies := q.dependenciesLocked(barrier)
	q.pending = append(q.pending, entry)
	pendingDepth.WithLabelValues(q.name).Set(float64(len(q.pending)))
	q.mu.Unlock()

	go func() {
		defer cancel()

		// Ordering holds even under cancellation or failure of a
		// dependency: a dependent waits only for its dependencies to
		// finish, success or not.
		for _, dep := range dependencies {
			<-dep.done
		}

		handle.value, handle.err = fn(ctx)
		close(handle.done)

		// Cleanup is infallible: remove the entry under the lock,
		// keyed by the identifier assigned at enqueue time.
		q.mu.Lock()
		for i, e := range q.pending {
			if e.id == entry.id {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
		pendingDepth.WithLabelValues(q.name).Set(float64(len(q.pending)))
		q.mu.Unlock()
		close(entry.done)
	}()

	return handle
}

// dependenciesLocked computes the entries the new closure must wait for,
// before the new entry is appended. Callers hold q.mu.
func (q *AsyncQueue) dependenciesLocked(barrier bool) []*pendingEntry {
	if q.mode == Serial {
		if n := len(q.pending); n > 0 {
			return []*pendingEntry{q.pending[n-1]}
		}
		return nil
	}

	lastBarrier := -1
	for i := len(q.pending) - 1; i >= 0; i-- {
		if q.pending[i].barrier {
			lastBarrier = i
			break
		}
	}

	if barrier {
		// A barrier waits for everything since (and including) the
		// last barrier, or everything if there is none.
		start := 0
		if lastBarrier >= 0 {
			start = lastBarrier
		}
		deps := make([]*pendingEntry, len(q.pending)-start)
		copy(deps, q.pending[start:])
		return deps
	}

	if lastBarrier >= 0 {
		return []*pendingEntry{q.pending[lastBarrier]}
	}
	return nil
}

// PendingCount returns the number of entries whose bodies have not finished
// cleanup yet. Intended for tests and introspection.
func (q *AsyncQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
