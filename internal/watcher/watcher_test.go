package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/lsphost/internal/interfaces"
	"github.com/conneroisu/lsphost/internal/types"
)

func TestEventTypeMapping(t *testing.T) {
	assert.Equal(t, types.FileEventCreated, eventType(fsnotify.Create))
	assert.Equal(t, types.FileEventModified, eventType(fsnotify.Write))
	assert.Equal(t, types.FileEventModified, eventType(fsnotify.Chmod))
	assert.Equal(t, types.FileEventDeleted, eventType(fsnotify.Remove))
	assert.Equal(t, types.FileEventDeleted, eventType(fsnotify.Rename))
}

func TestDebouncerCoalescesRapidEvents(t *testing.T) {
	d := &debouncer{
		delay:  20 * time.Millisecond,
		events: make(chan types.FileEvent, 100),
		output: make(chan []types.FileEvent, 10),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.run(ctx)

	uri := types.DocumentURI("file:///proj/a.c")
	for i := 0; i < 5; i++ {
		d.events <- types.FileEvent{URI: uri, Type: types.FileEventModified}
	}
	d.events <- types.FileEvent{URI: "file:///proj/b.c", Type: types.FileEventCreated}

	select {
	case batch := <-d.output:
		// Repeated events for the same URI collapse into one.
		require.Len(t, batch, 2)
		assert.Equal(t, uri, batch[0].URI)
		assert.Equal(t, types.DocumentURI("file:///proj/b.c"), batch[1].URI)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestDebouncerEmitsSeparateBatches(t *testing.T) {
	d := &debouncer{
		delay:  10 * time.Millisecond,
		events: make(chan types.FileEvent, 100),
		output: make(chan []types.FileEvent, 10),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.run(ctx)

	d.events <- types.FileEvent{URI: "file:///proj/a.c"}
	first := <-d.output
	d.events <- types.FileEvent{URI: "file:///proj/b.c"}
	second := <-d.output

	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
	assert.NotEqual(t, first[0].URI, second[0].URI)
}

func TestWatcherReportsFileChanges(t *testing.T) {
	dir := t.TempDir()

	fw, err := New(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	var mu sync.Mutex
	var received []types.FileEvent
	fw.AddHandler(func(events []types.FileEvent) error {
		mu.Lock()
		received = append(received, events...)
		mu.Unlock()
		return nil
	})
	require.NoError(t, fw.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	path := filepath.Join(dir, "main.c")
	require.NoError(t, os.WriteFile(path, []byte("int main() {}\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, event := range received {
			if event.URI == types.DocumentURIFromPath(path) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcherAppliesFilters(t *testing.T) {
	dir := t.TempDir()

	fw, err := New(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(interfaces.FileFilterFunc(func(path string) bool {
		return filepath.Ext(path) != ".tmp"
	}))

	var mu sync.Mutex
	var received []types.FileEvent
	fw.AddHandler(func(events []types.FileEvent) error {
		mu.Lock()
		received = append(received, events...)
		mu.Unlock()
		return nil
	})
	require.NoError(t, fw.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept.c"), []byte("x"), 0o644))

	keptURI := types.DocumentURIFromPath(filepath.Join(dir, "kept.c"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, event := range received {
			if event.URI == keptURI {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, event := range received {
		assert.NotEqual(t, ".tmp", filepath.Ext(event.URI.FileSystemPath()))
	}
}
