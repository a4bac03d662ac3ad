package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/lsphost/internal/buildsettings"
	"github.com/conneroisu/lsphost/internal/buildsystem"
	"github.com/conneroisu/lsphost/internal/scheduler"
	"github.com/conneroisu/lsphost/internal/types"
)

func newTestSettings(t *testing.T) *buildsettings.Manager {
	t.Helper()
	m := buildsettings.NewManager(nil, buildsystem.NewFallback(nil, ""), nil, nil)
	t.Cleanup(m.Close)
	return m
}

func updateTask(t *testing.T, store *Store, files ...types.DocumentURI) *UpdateIndexStoreTask {
	t.Helper()
	return NewUpdateIndexStoreTask(files, newTestSettings(t), store, nil)
}

func TestUpdateTaskDisplacesStrictSuperset(t *testing.T) {
	store := newTestStore(t)

	small := updateTask(t, store, "file:///a.c")
	big := updateTask(t, store, "file:///a.c", "file:///b.c", "file:///c.c")

	actions := small.Dependencies([]scheduler.TaskDescription{big})
	require.Len(t, actions, 1)
	assert.Equal(t, scheduler.KindCancelAndReschedule, actions[0].Kind)
	assert.Equal(t, big.ID(), actions[0].TaskID)
}

func TestUpdateTaskWaitsForOverlap(t *testing.T) {
	store := newTestStore(t)

	left := updateTask(t, store, "file:///a.c", "file:///b.c")
	right := updateTask(t, store, "file:///b.c", "file:///c.c")

	actions := left.Dependencies([]scheduler.TaskDescription{right})
	require.Len(t, actions, 1)
	assert.Equal(t, scheduler.KindWaitAndElevate, actions[0].Kind)
}

func TestUpdateTaskIgnoresDisjointTasks(t *testing.T) {
	store := newTestStore(t)

	left := updateTask(t, store, "file:///a.c")
	right := updateTask(t, store, "file:///z.c")

	assert.Empty(t, left.Dependencies([]scheduler.TaskDescription{right}))
}

func TestUpdateTaskWaitsForEqualSet(t *testing.T) {
	store := newTestStore(t)

	first := updateTask(t, store, "file:///a.c", "file:///b.c")
	second := updateTask(t, store, "file:///b.c", "file:///a.c")

	// Equal sets share an ID; the later task waits rather than displacing.
	assert.Equal(t, first.ID(), second.ID())
	actions := second.Dependencies([]scheduler.TaskDescription{first})
	require.Len(t, actions, 1)
	assert.Equal(t, scheduler.KindWaitAndElevate, actions[0].Kind)
}

func TestUpdateTaskIDIsOrderIndependent(t *testing.T) {
	store := newTestStore(t)
	a := updateTask(t, store, "file:///x.c", "file:///y.c")
	b := updateTask(t, store, "file:///y.c", "file:///x.c")
	assert.Equal(t, a.ID(), b.ID())
}

func TestPrepareTaskDependencies(t *testing.T) {
	store := newTestStore(t)
	preparer := TargetPreparerFunc(func(context.Context, []string) error { return nil })

	small := NewPrepareTargetTask([]string{"app"}, preparer, store, nil)
	big := NewPrepareTargetTask([]string{"app", "lib", "tests"}, preparer, store, nil)

	actions := small.Dependencies([]scheduler.TaskDescription{big})
	require.Len(t, actions, 1)
	assert.Equal(t, scheduler.KindCancelAndReschedule, actions[0].Kind)

	// The superset task waits for the smaller one, never displaces it.
	actions = big.Dependencies([]scheduler.TaskDescription{small})
	require.Len(t, actions, 1)
	assert.Equal(t, scheduler.KindWaitAndElevate, actions[0].Kind)
}

func TestUpdateTaskIndexesFiles(t *testing.T) {
	store := newTestStore(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "main.c")
	require.NoError(t, os.WriteFile(path, []byte("int main() {}\n"), 0o644))

	task := updateTask(t, store, types.DocumentURIFromPath(path))
	require.NoError(t, task.Execute(context.Background()))

	hash, ok, err := store.UnitHash(context.Background(), types.DocumentURIFromPath(path))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, hash)
}

func TestUpdateTaskSkipsUpToDateFiles(t *testing.T) {
	store := newTestStore(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "main.c")
	require.NoError(t, os.WriteFile(path, []byte("int main() {}\n"), 0o644))
	uri := types.DocumentURIFromPath(path)

	task := updateTask(t, store, uri)
	require.NoError(t, task.Execute(context.Background()))
	first, _, err := store.UnitHash(context.Background(), uri)
	require.NoError(t, err)

	// Unchanged contents: re-running leaves the same hash.
	require.NoError(t, task.Execute(context.Background()))
	second, _, err := store.UnitHash(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUpdateTaskObservesCancellation(t *testing.T) {
	store := newTestStore(t)
	task := updateTask(t, store, "file:///a.c", "file:///b.c")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, task.Execute(ctx), context.Canceled)
}

func TestPrepareTaskExecuteRecordsTargets(t *testing.T) {
	store := newTestStore(t)

	var prepared []string
	preparer := TargetPreparerFunc(func(_ context.Context, targets []string) error {
		prepared = append(prepared, targets...)
		return nil
	})

	task := NewPrepareTargetTask([]string{"app", "lib"}, preparer, store, nil)
	require.NoError(t, task.Execute(context.Background()))
	assert.Equal(t, []string{"app", "lib"}, prepared)

	ok, err := store.IsTargetPrepared(context.Background(), "app")
	require.NoError(t, err)
	assert.True(t, ok)
}
