package index

import (
	"context"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"

	"github.com/conneroisu/lsphost/internal/buildsettings"
	"github.com/conneroisu/lsphost/internal/logging"
	"github.com/conneroisu/lsphost/internal/scheduler"
	"github.com/conneroisu/lsphost/internal/types"
)

// TargetPreparer builds the dependencies of targets so their sources can be
// indexed. Implementations call into the build system; the engine only needs
// the contract.
type TargetPreparer interface {
	PrepareTargets(ctx context.Context, targets []string) error
}

// TargetPreparerFunc adapts a function to the TargetPreparer interface.
type TargetPreparerFunc func(ctx context.Context, targets []string) error

// PrepareTargets implements TargetPreparer.
func (f TargetPreparerFunc) PrepareTargets(ctx context.Context, targets []string) error {
	return f(ctx, targets)
}

// UpdateIndexStoreTask indexes a set of files into the store. It is
// idempotent: re-running it after a cancellation produces the same units.
//
// Against the executing set, an update task waits for any other update task
// it shares files with, and asks the scheduler to cancel a task indexing a
// strict superset of its files so the smaller task can finish first; the
// superset task is re-queued and re-runs afterwards.
type UpdateIndexStoreTask struct {
	files    []types.DocumentURI
	fileSet  map[types.DocumentURI]bool
	settings *buildsettings.Manager
	store    *Store
	logger   logging.Logger
}

// NewUpdateIndexStoreTask creates an update task for the given files.
func NewUpdateIndexStoreTask(files []types.DocumentURI, settings *buildsettings.Manager, store *Store, logger logging.Logger) *UpdateIndexStoreTask {
	if logger == nil {
		logger = logging.NewNop()
	}
	sorted := append([]types.DocumentURI(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	set := make(map[types.DocumentURI]bool, len(sorted))
	for _, f := range sorted {
		set[f] = true
	}
	return &UpdateIndexStoreTask{
		files:    sorted,
		fileSet:  set,
		settings: settings,
		store:    store,
		logger:   logger.WithComponent("index"),
	}
}

// Files returns the sorted files the task indexes.
func (t *UpdateIndexStoreTask) Files() []types.DocumentURI {
	return append([]types.DocumentURI(nil), t.files...)
}

// ID identifies the task by its file set.
func (t *UpdateIndexStoreTask) ID() scheduler.TaskID {
	return scheduler.TaskID("update-indexstore-" + hashStrings(urisToStrings(t.files)))
}

// Execute indexes each file, observing cancellation between files.
func (t *UpdateIndexStoreTask) Execute(ctx context.Context) error {
	for _, uri := range t.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.indexFile(ctx, uri); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn(ctx, err, "failed to index file", "uri", string(uri))
		}
	}
	return nil
}

func (t *UpdateIndexStoreTask) indexFile(ctx context.Context, uri types.DocumentURI) error {
	hash := ""
	if uri.IsFileScheme() {
		h, err := HashFileContents(uri.FileSystemPath())
		if err != nil {
			// The file may have been deleted since the change event;
			// drop its unit instead.
			return t.store.RemoveUnit(ctx, uri)
		}
		hash = h
	}

	if stored, ok, err := t.store.UnitHash(ctx, uri); err == nil && ok && stored == hash {
		return nil
	}

	target := ""
	if settings, _ := t.settings.BuildSettingsInferredFromMainFile(ctx, uri, types.LanguageC); settings != nil {
		target = settings.WorkingDirectory
	}
	return t.store.RecordUnit(ctx, uri, target, hash)
}

// Dependencies relates this task to other executing index tasks.
func (t *UpdateIndexStoreTask) Dependencies(executing []scheduler.TaskDescription) []scheduler.DependencyAction {
	var actions []scheduler.DependencyAction
	for _, other := range executing {
		update, ok := other.(*UpdateIndexStoreTask)
		if !ok {
			continue
		}
		switch relate(t.fileSet, update.fileSet) {
		case relationSuperset:
			actions = append(actions, scheduler.CancelAndReschedule(update.ID()))
		case relationOverlap:
			actions = append(actions, scheduler.WaitAndElevate(update.ID()))
		}
	}
	return actions
}

// IsIdempotent reports that update tasks may be cancelled and re-run.
func (t *UpdateIndexStoreTask) IsIdempotent() bool { return true }

// EstimatedCPUCoreCount is one core per update task.
func (t *UpdateIndexStoreTask) EstimatedCPUCoreCount() int { return 1 }

// PrepareTargetTask readies the build dependencies of a set of targets. Like
// update tasks, prepare tasks are idempotent, wait for overlapping prepare
// tasks, and displace executing strict-superset preparations.
type PrepareTargetTask struct {
	targets   []string
	targetSet map[string]bool
	preparer  TargetPreparer
	store     *Store
	logger    logging.Logger
}

// NewPrepareTargetTask creates a prepare task for the given targets.
func NewPrepareTargetTask(targets []string, preparer TargetPreparer, store *Store, logger logging.Logger) *PrepareTargetTask {
	if logger == nil {
		logger = logging.NewNop()
	}
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)
	set := make(map[string]bool, len(sorted))
	for _, target := range sorted {
		set[target] = true
	}
	return &PrepareTargetTask{
		targets:   sorted,
		targetSet: set,
		preparer:  preparer,
		store:     store,
		logger:    logger.WithComponent("index"),
	}
}

// Targets returns the sorted targets the task prepares.
func (t *PrepareTargetTask) Targets() []string {
	return append([]string(nil), t.targets...)
}

// ID identifies the task by its target set.
func (t *PrepareTargetTask) ID() scheduler.TaskID {
	return scheduler.TaskID("prepare-" + hashStrings(t.targets))
}

// Execute prepares the targets and records them as prepared.
func (t *PrepareTargetTask) Execute(ctx context.Context) error {
	if err := t.preparer.PrepareTargets(ctx, t.targets); err != nil {
		return err
	}
	for _, target := range t.targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.store.MarkTargetPrepared(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

// Dependencies relates this task to other executing prepare tasks.
func (t *PrepareTargetTask) Dependencies(executing []scheduler.TaskDescription) []scheduler.DependencyAction {
	var actions []scheduler.DependencyAction
	for _, other := range executing {
		prepare, ok := other.(*PrepareTargetTask)
		if !ok {
			continue
		}
		switch relate(t.targetSet, prepare.targetSet) {
		case relationSuperset:
			actions = append(actions, scheduler.CancelAndReschedule(prepare.ID()))
		case relationOverlap:
			actions = append(actions, scheduler.WaitAndElevate(prepare.ID()))
		}
	}
	return actions
}

// IsIdempotent reports that prepare tasks may be cancelled and re-run.
func (t *PrepareTargetTask) IsIdempotent() bool { return true }

// EstimatedCPUCoreCount is one core per prepare task.
func (t *PrepareTargetTask) EstimatedCPUCoreCount() int { return 1 }

type setRelation int

const (
	relationDisjoint setRelation = iota
	// relationSuperset means the other set strictly contains this one.
	relationSuperset
	relationOverlap
)

// relate classifies how the other set relates to mine: strict superset,
// overlapping, or disjoint.
func relate[K comparable](mine, other map[K]bool) setRelation {
	shared := 0
	for k := range mine {
		if other[k] {
			shared++
		}
	}
	if shared == 0 {
		return relationDisjoint
	}
	if shared == len(mine) && len(other) > len(mine) {
		return relationSuperset
	}
	return relationOverlap
}

func urisToStrings(uris []types.DocumentURI) []string {
	out := make([]string, len(uris))
	for i, uri := range uris {
		out[i] = string(uri)
	}
	return out
}

func hashStrings(values []string) string {
	sum := crc32.Checksum([]byte(strings.Join(values, "\x00")), crcTable)
	return strconv.FormatUint(uint64(sum), 16)
}
