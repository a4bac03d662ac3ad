// Package scheduler executes an unordered, dynamic population of tasks
// subject to a per-priority concurrency cap, caller-declared dependencies on
// the currently-executing set, priority elevation of blockers, and
// cancel-and-reschedule of lower-priority in-flight tasks.
//
// All mutations of the pending and executing collections are serialized on
// one mutex. Execute functions run outside the lock; their completion
// re-enters it for post-finish bookkeeping.
//
// A task running on a scheduler must never synchronously await another task
// on the same scheduler while holding one of its execution slots: cycles of
// outer-waits-inner can consume every slot. This rule is part of the
// package's contract.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	hosterrors "github.com/conneroisu/lsphost/internal/errors"
	"github.com/conneroisu/lsphost/internal/logging"
	"github.com/conneroisu/lsphost/internal/types"
)

// TaskScheduler executes tasks described by TaskDescriptions with
// priority-based admission control.
type TaskScheduler struct {
	logger logging.Logger
	table  MaxConcurrencyTable

	mu        sync.Mutex
	pending   []*QueuedTask
	executing []*QueuedTask
	seq       uint64
	closed    bool
}

// NewTaskScheduler creates a scheduler with the given concurrency table.
// The table must be non-empty and well-formed.
func NewTaskScheduler(table MaxConcurrencyTable, logger logging.Logger) (*TaskScheduler, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TaskScheduler{
		logger: logger.WithComponent("scheduler"),
		table:  table,
	}, nil
}

// NewSchedulerForTesting creates a scheduler with the intrinsic test table:
// one low-priority band capped at the logical core count.
func NewSchedulerForTesting(logger logging.Logger) *TaskScheduler {
	s, err := NewTaskScheduler(DefaultTestTable(), logger)
	if err != nil {
		panic(err)
	}
	return s
}

// Schedule adds a task to the pending set and triggers a scheduling pass.
// The returned QueuedTask can be awaited, cancelled, and observed through
// the optional onStateChanged callback.
func (s *TaskScheduler) Schedule(priority types.TaskPriority, description TaskDescription, onStateChanged StateChangeCallback) *QueuedTask {
	task := &QueuedTask{
		description:    description,
		onStateChanged: onStateChanged,
		sched:          s,
		priority:       priority,
		state:          StatePending,
		done:           make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		task.state = StateFinished
		task.finish(hosterrors.ErrSchedulerShutDown)
		return task
	}
	s.seq++
	task.seq = s.seq
	s.pending = append(s.pending, task)
	s.updateMetricsLocked()
	s.mu.Unlock()

	task.notifyStateChanged(StatePending)
	s.schedulingPass()
	return task
}

// Shutdown cancels every task and refuses new ones. Pending tasks finish
// with a cancellation result without executing; executing tasks are
// cancelled cooperatively.
func (s *TaskScheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = nil
	var cancels []context.CancelFunc
	for _, t := range s.executing {
		t.externallyCancelled = true
		t.rescheduled = false
		if t.execCancel != nil {
			cancels = append(cancels, t.execCancel)
		}
	}
	for _, t := range pending {
		t.state = StateFinished
	}
	s.updateMetricsLocked()
	s.mu.Unlock()

	for _, t := range pending {
		t.finish(cancellationResult())
		t.notifyStateChanged(StateFinished)
	}
	for _, cancel := range cancels {
		cancel()
	}
}

// schedulingPass runs one admission pass over the pending set. It is
// triggered on enqueue and after every task state transition. The pass
// itself never suspends.
func (s *TaskScheduler) schedulingPass() {
	type startedTask struct {
		task *QueuedTask
		ctx  context.Context
	}
	var started []startedTask
	var rescheduled []*QueuedTask

	s.mu.Lock()
	s.sortPendingLocked()

	i := 0
	for i < len(s.pending) {
		t := s.pending[i]

		// Capacity check. Pending tasks are ordered by priority, and
		// caps are weakly descending with priority, so no later task
		// can be admitted either once the cap is hit.
		if s.usedCapacityLocked() >= s.table.CapAt(t.priority) {
			break
		}

		waits, reschedules := s.partitionDependenciesLocked(t)

		if len(waits) > 0 {
			for _, blocker := range waits {
				s.elevateLocked(blocker, t.priority)
			}
			i++
			continue
		}

		if len(reschedules) > 0 {
			for _, victim := range reschedules {
				if victim.state != StateExecuting {
					continue
				}
				victim.state = StateCancelledToBeRescheduled
				victim.rescheduled = true
				if victim.execCancel != nil {
					victim.execCancel()
				}
				rescheduled = append(rescheduled, victim)
			}
			// The cancelled tasks re-trigger the pass when they
			// actually unwind; only then can this task be admitted.
			break
		}

		// Admit.
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		t.state = StateExecuting
		ctx, cancel := context.WithCancel(context.Background())
		ctx = types.ContextWithPriority(ctx, t.priority)
		t.execCancel = cancel
		s.executing = append(s.executing, t)
		started = append(started, startedTask{task: t, ctx: ctx})
	}
	s.updateMetricsLocked()
	s.mu.Unlock()

	for _, victim := range rescheduled {
		victim.notifyStateChanged(StateCancelledToBeRescheduled)
	}
	for _, st := range started {
		st.task.notifyStateChanged(StateExecuting)
		go s.runExecute(st.task, st.ctx)
	}
}

// runExecute runs one admitted task to completion and performs the
// post-finish bookkeeping, including the re-queue of tasks that were
// cancelled to be rescheduled.
func (s *TaskScheduler) runExecute(t *QueuedTask, ctx context.Context) {
	err := s.executeGuarded(ctx, t)

	s.mu.Lock()
	s.removeExecutingLocked(t)
	t.execCancel = nil

	requeue := t.rescheduled && !t.externallyCancelled && err != nil && errors.Is(err, context.Canceled)
	if requeue {
		t.rescheduled = false
		t.state = StatePending
		s.seq++
		t.seq = s.seq
		if s.closed {
			// Shut down while unwinding: the re-queue has nowhere
			// to go, so the task ends as cancelled.
			t.state = StateFinished
			s.updateMetricsLocked()
			s.mu.Unlock()
			t.finish(cancellationResult())
			t.notifyStateChanged(StateFinished)
			return
		}
		s.pending = append(s.pending, t)
		s.updateMetricsLocked()
		s.mu.Unlock()

		s.logger.Debug(ctx, "task re-queued after cancellation", "task", string(t.ID()))
		t.notifyStateChanged(StatePending)
		s.schedulingPass()
		return
	}

	t.state = StateFinished
	finalErr := err
	if t.externallyCancelled {
		finalErr = cancellationResult()
	}
	s.updateMetricsLocked()
	s.mu.Unlock()

	t.finish(finalErr)
	t.notifyStateChanged(StateFinished)
	s.schedulingPass()
}

// executeGuarded shields the scheduler from panicking execute bodies.
func (s *TaskScheduler) executeGuarded(ctx context.Context, t *QueuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.ID(), r)
			s.logger.Error(ctx, err, "execute panicked", "task", string(t.ID()))
		}
	}()
	return t.description.Execute(ctx)
}

// partitionDependenciesLocked asks the task's description for its dependency
// actions against the executing set and splits them into blockers to wait on
// and victims to cancel-and-reschedule, applying the demotion rules:
// a CancelAndReschedule of a non-idempotent task, or of a task whose current
// priority is strictly above the requester's, becomes a WaitAndElevate.
func (s *TaskScheduler) partitionDependenciesLocked(t *QueuedTask) (waits, reschedules []*QueuedTask) {
	actions := s.dependencyActionsLocked(t)
	for _, action := range actions {
		target := s.executingByIDLocked(action.TaskID)
		if target == nil {
			s.logger.Info(context.Background(), "dependency names a task that is not executing; dropping",
				"task", string(t.ID()), "dependency", string(action.TaskID))
			continue
		}
		switch action.Kind {
		case KindWaitAndElevate:
			waits = append(waits, target)
		case KindCancelAndReschedule:
			if !target.description.IsIdempotent() {
				s.logger.Info(context.Background(), "demoting cancel of non-idempotent task to wait",
					"task", string(t.ID()), "dependency", string(action.TaskID))
				waits = append(waits, target)
			} else if target.priority > t.priority {
				s.logger.Info(context.Background(), "demoting cancel of higher-priority task to wait",
					"task", string(t.ID()), "dependency", string(action.TaskID))
				waits = append(waits, target)
			} else {
				reschedules = append(reschedules, target)
			}
		}
	}
	return waits, reschedules
}

// dependencyActionsLocked calls user code defensively: a description that
// panics during dependency computation is treated as having no dependencies.
func (s *TaskScheduler) dependencyActionsLocked(t *QueuedTask) (actions []DependencyAction) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(context.Background(), fmt.Errorf("%v", r),
				"dependency computation panicked; assuming no dependencies", "task", string(t.ID()))
			actions = nil
		}
	}()
	descriptions := make([]TaskDescription, len(s.executing))
	for i, e := range s.executing {
		descriptions[i] = e.description
	}
	return t.description.Dependencies(descriptions)
}

// cancelTask handles an external cancellation request.
func (s *TaskScheduler) cancelTask(t *QueuedTask) {
	s.mu.Lock()
	switch t.state {
	case StatePending:
		s.removePendingLocked(t)
		t.state = StateFinished
		s.updateMetricsLocked()
		s.mu.Unlock()
		t.finish(cancellationResult())
		t.notifyStateChanged(StateFinished)
		s.schedulingPass()
	case StateExecuting, StateCancelledToBeRescheduled:
		// External cancellation wins over an in-flight reschedule.
		t.externallyCancelled = true
		t.rescheduled = false
		cancel := t.execCancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	default:
		s.mu.Unlock()
	}
}

// elevate raises the task's priority to at least p and triggers a pass so
// the new priority is considered immediately.
func (s *TaskScheduler) elevate(t *QueuedTask, p types.TaskPriority) {
	s.mu.Lock()
	changed := s.elevateLocked(t, p)
	s.mu.Unlock()
	if changed {
		s.schedulingPass()
	}
}

func (s *TaskScheduler) elevateLocked(t *QueuedTask, p types.TaskPriority) bool {
	if t.state == StateFinished || p <= t.priority {
		return false
	}
	s.logger.Debug(context.Background(), "elevating task priority",
		"task", string(t.ID()), "from", t.priority.String(), "to", p.String())
	t.priority = p
	return true
}

func (s *TaskScheduler) usedCapacityLocked() int {
	used := 0
	for _, t := range s.executing {
		used += t.description.EstimatedCPUCoreCount()
	}
	return used
}

func (s *TaskScheduler) executingByIDLocked(id TaskID) *QueuedTask {
	for _, t := range s.executing {
		if t.description.ID() == id {
			return t
		}
	}
	return nil
}

func (s *TaskScheduler) removeExecutingLocked(t *QueuedTask) {
	for i, e := range s.executing {
		if e == t {
			s.executing = append(s.executing[:i], s.executing[i+1:]...)
			return
		}
	}
}

func (s *TaskScheduler) removePendingLocked(t *QueuedTask) {
	for i, e := range s.pending {
		if e == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// sortPendingLocked orders the pending set by priority descending, with the
// insertion sequence breaking ties so equal-priority tasks run in arrival
// order.
func (s *TaskScheduler) sortPendingLocked() {
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].priority != s.pending[j].priority {
			return s.pending[i].priority > s.pending[j].priority
		}
		return s.pending[i].seq < s.pending[j].seq
	})
}

func (s *TaskScheduler) updateMetricsLocked() {
	pendingTasks.Set(float64(len(s.pending)))
	executingTasks.Set(float64(len(s.executing)))
	usedCapacity.Set(float64(s.usedCapacityLocked()))
}
