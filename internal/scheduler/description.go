package scheduler

import "context"

// TaskID is the stable identifier of a task description. Two descriptions
// with the same ID describe the same unit of work.
type TaskID string

// TaskDescription describes a unit of work the scheduler can execute. The
// scheduler never inspects a description beyond these operations; callers
// supply variants such as prepare-target or update-index-store.
//
// Descriptions must be cheap to copy, IDs must be stable, and Dependencies
// must terminate in bounded work.
type TaskDescription interface {
	// ID returns the task's stable identifier.
	ID() TaskID

	// Execute runs the task. It must observe ctx cancellation at
	// suspension points and return ctx.Err() when it stops early.
	Execute(ctx context.Context) error

	// Dependencies returns the actions relating this task to the
	// currently-executing set.
	Dependencies(executing []TaskDescription) []DependencyAction

	// IsIdempotent reports whether the task's observable effect is the
	// same whether it runs once, or runs, is cancelled, and runs again.
	// Only idempotent tasks may be cancelled to be rescheduled.
	IsIdempotent() bool

	// EstimatedCPUCoreCount is the number of cores the task is expected
	// to saturate, counted against the concurrency cap.
	EstimatedCPUCoreCount() int
}

// DependencyActionKind distinguishes the two ways a pending task can relate
// to an executing one.
type DependencyActionKind int

const (
	// KindWaitAndElevate blocks the pending task until the named
	// executing task completes, elevating the blocker's priority to the
	// pending task's priority while blocked.
	KindWaitAndElevate DependencyActionKind = iota
	// KindCancelAndReschedule asks the scheduler to cancel the named
	// task so the pending task may run now; the cancelled task is
	// re-queued.
	KindCancelAndReschedule
)

// DependencyAction relates a pending task to one currently-executing task.
type DependencyAction struct {
	Kind   DependencyActionKind
	TaskID TaskID
}

// WaitAndElevate builds a wait dependency on the named task.
func WaitAndElevate(id TaskID) DependencyAction {
	return DependencyAction{Kind: KindWaitAndElevate, TaskID: id}
}

// CancelAndReschedule builds a cancel-and-reschedule request for the named
// task.
func CancelAndReschedule(id TaskID) DependencyAction {
	return DependencyAction{Kind: KindCancelAndReschedule, TaskID: id}
}
