package scheduler

import (
	"context"
	"sync"

	hosterrors "github.com/conneroisu/lsphost/internal/errors"
	"github.com/conneroisu/lsphost/internal/types"
)

// ExecutionState is the lifecycle state of a queued task.
type ExecutionState int

const (
	// StatePending means the task is waiting to be admitted.
	StatePending ExecutionState = iota
	// StateExecuting means the task's execute function is running.
	StateExecuting
	// StateCancelledToBeRescheduled means the task was asked to stop so a
	// pending task of equal or higher priority can run; it will be
	// re-queued, not failed.
	StateCancelledToBeRescheduled
	// StateFinished is terminal: the result handle is resolved.
	StateFinished
)

// String returns the state name.
func (s ExecutionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuting:
		return "executing"
	case StateCancelledToBeRescheduled:
		return "cancelledToBeRescheduled"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// StateChangeCallback observes a task's state transitions. It is invoked
// outside the scheduler's lock, after the transition took effect.
type StateChangeCallback func(task *QueuedTask, newState ExecutionState)

// QueuedTask is the scheduler's per-unit record: the owning reference to the
// description, the current priority, the execution state, and the result
// handle external callers await.
//
// A queued task lives in exactly one of the scheduler's pending or executing
// collections until it finishes. An internal cancel-to-be-rescheduled cycle
// preserves the task's identity and result handle, so outside awaiters keep
// their continuation and only observe the task taking longer.
type QueuedTask struct {
	description    TaskDescription
	onStateChanged StateChangeCallback
	sched          *TaskScheduler

	// The fields below are guarded by sched.mu.
	priority            types.TaskPriority
	seq                 uint64
	state               ExecutionState
	rescheduled         bool
	externallyCancelled bool
	execCancel          context.CancelFunc

	finishOnce sync.Once
	resultErr  error
	done       chan struct{}
}

// Description returns the task's description.
func (t *QueuedTask) Description() TaskDescription { return t.description }

// ID returns the description's identifier.
func (t *QueuedTask) ID() TaskID { return t.description.ID() }

// Priority returns the task's current priority. Priority is weakly
// monotonically non-decreasing until the task finishes or is re-queued.
func (t *QueuedTask) Priority() types.TaskPriority {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.priority
}

// State returns the task's current execution state.
func (t *QueuedTask) State() ExecutionState {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.state
}

// Await blocks until the task finishes and returns its result. Cancelling
// the waiter's context aborts the wait without cancelling the task. If the
// context carries a priority above the task's current priority, the task is
// elevated so the waiter does not wait behind lower-priority work.
func (t *QueuedTask) Await(ctx context.Context) error {
	if p, ok := types.PriorityFromContext(ctx); ok {
		t.sched.elevate(t, p)
	}
	select {
	case <-t.done:
		return t.resultErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitPropagatingCancellation behaves like Await but cancels the task when
// the waiter's context ends, then still reports the task's final result.
func (t *QueuedTask) AwaitPropagatingCancellation(ctx context.Context) error {
	if p, ok := types.PriorityFromContext(ctx); ok {
		t.sched.elevate(t, p)
	}
	select {
	case <-t.done:
		return t.resultErr
	case <-ctx.Done():
		t.Cancel()
		<-t.done
		return t.resultErr
	}
}

// Done returns a channel closed when the task has finished.
func (t *QueuedTask) Done() <-chan struct{} { return t.done }

// Cancel requests cooperative cancellation. A pending task finishes
// immediately without executing; an executing task keeps running until its
// execute function observes the cancelled context. Either way the result is
// a cancellation error.
func (t *QueuedTask) Cancel() {
	t.sched.cancelTask(t)
}

// finish resolves the result handle exactly once.
func (t *QueuedTask) finish(err error) {
	t.finishOnce.Do(func() {
		t.resultErr = err
		close(t.done)
	})
}

// notifyStateChanged invokes the observer callback, if any. Must be called
// without holding the scheduler lock.
func (t *QueuedTask) notifyStateChanged(newState ExecutionState) {
	if t.onStateChanged != nil {
		t.onStateChanged(t, newState)
	}
}

// cancellationResult is the value awaiters see for externally cancelled
// tasks.
func cancellationResult() error { return hosterrors.CancellationError{} }
