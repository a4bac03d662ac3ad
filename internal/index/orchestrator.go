package index

import (
	"context"

	"github.com/conneroisu/lsphost/internal/buildsettings"
	"github.com/conneroisu/lsphost/internal/logging"
	"github.com/conneroisu/lsphost/internal/scheduler"
	"github.com/conneroisu/lsphost/internal/types"
)

// Orchestrator turns file-change batches and explicit prepare requests into
// scheduled index tasks. Routine maintenance runs at low priority; requests a
// user is waiting on come in at whatever priority the caller passes.
type Orchestrator struct {
	scheduler *scheduler.TaskScheduler
	store     *Store
	settings  *buildsettings.Manager
	preparer  TargetPreparer
	logger    logging.Logger
}

// NewOrchestrator creates an orchestrator. preparer may be nil, in which
// case prepare requests are recorded without building anything.
func NewOrchestrator(sched *scheduler.TaskScheduler, store *Store, settings *buildsettings.Manager, preparer TargetPreparer, logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if preparer == nil {
		preparer = TargetPreparerFunc(func(context.Context, []string) error { return nil })
	}
	return &Orchestrator{
		scheduler: sched,
		store:     store,
		settings:  settings,
		preparer:  preparer,
		logger:    logger.WithComponent("index"),
	}
}

// FilesDidChange reacts to a batch of filesystem events: deleted files lose
// their units immediately, created and modified files are re-indexed through
// a background update task.
func (o *Orchestrator) FilesDidChange(events []types.FileEvent) {
	var toIndex []types.DocumentURI
	for _, event := range events {
		switch event.Type {
		case types.FileEventDeleted:
			if err := o.store.RemoveUnit(context.Background(), event.URI); err != nil {
				o.logger.Warn(context.Background(), err, "failed to drop unit for deleted file",
					"uri", string(event.URI))
			}
		default:
			toIndex = append(toIndex, event.URI)
		}
	}
	if len(toIndex) > 0 {
		o.ScheduleUpdate(toIndex, types.PriorityLow)
	}
}

// ScheduleUpdate schedules an index update for the given files.
func (o *Orchestrator) ScheduleUpdate(files []types.DocumentURI, priority types.TaskPriority) *scheduler.QueuedTask {
	task := NewUpdateIndexStoreTask(files, o.settings, o.store, o.logger)
	return o.scheduler.Schedule(priority, task, nil)
}

// PrepareTargets schedules preparation of the given targets.
func (o *Orchestrator) PrepareTargets(targets []string, priority types.TaskPriority) *scheduler.QueuedTask {
	task := NewPrepareTargetTask(targets, o.preparer, o.store, o.logger)
	return o.scheduler.Schedule(priority, task, nil)
}
