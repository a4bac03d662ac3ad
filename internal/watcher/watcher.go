// Package watcher provides real-time file system monitoring with debouncing
// and recursive directory watching.
//
// The watcher feeds batched change events into the settings layer and the
// index orchestrator. Debouncing prevents a storm of rebuild and re-index
// work during rapid editor saves; ignore filters keep build output and VCS
// metadata out of the event stream.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/lsphost/internal/interfaces"
	"github.com/conneroisu/lsphost/internal/logging"
	"github.com/conneroisu/lsphost/internal/types"
)

// maxPendingEvents caps the debouncer's input buffer; events beyond it are
// dropped rather than blocking the watch loop.
const maxPendingEvents = 1000

// FileWatcher watches for file changes with debouncing.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	logger    logging.Logger
	filters   []interfaces.FileFilter
	handlers  []interfaces.ChangeHandlerFunc
	mutex     sync.RWMutex
	stopped   bool
}

// New creates a file watcher that batches events closer together than the
// debounce delay into a single handler invocation.
func New(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileWatcher{
		watcher: fsWatcher,
		debouncer: &debouncer{
			delay:  debounceDelay,
			events: make(chan types.FileEvent, maxPendingEvents),
			output: make(chan []types.FileEvent, 10),
		},
		logger: logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter. A path is reported only if every filter
// includes it.
func (fw *FileWatcher) AddFilter(filter interfaces.FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler invoked with each debounced batch.
func (fw *FileWatcher) AddHandler(handler interfaces.ChangeHandlerFunc) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddPath adds a single path to watch.
func (fw *FileWatcher) AddPath(path string) error {
	return fw.watcher.Add(filepath.Clean(path))
}

// AddRecursive adds a directory and all subdirectories to watch.
func (fw *FileWatcher) AddRecursive(root string) error {
	return filepath.Walk(filepath.Clean(root), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fw.watcher.Add(path)
		}
		return nil
	})
}

// Start starts the watch, debounce, and dispatch goroutines. They stop when
// ctx is cancelled.
func (fw *FileWatcher) Start(ctx context.Context) {
	go fw.debouncer.run(ctx)
	go fw.dispatchLoop(ctx)
	go fw.watchLoop(ctx)
}

// Stop stops the file watcher and releases the underlying watches.
func (fw *FileWatcher) Stop() error {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	if fw.stopped {
		return nil
	}
	fw.stopped = true
	return fw.watcher.Close()
}

// watchLoop translates raw fsnotify events into FileEvents and feeds the
// debouncer. Newly created directories are added to the watch so recursive
// watches stay complete.
func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.watcher.Add(event.Name); err != nil {
						fw.logger.Warn(ctx, err, "failed to watch new directory", "path", event.Name)
					}
					continue
				}
			}
			if !fw.shouldInclude(event.Name) {
				continue
			}
			fileEvent := types.FileEvent{
				URI:     types.DocumentURIFromPath(event.Name),
				Type:    eventType(event.Op),
				ModTime: time.Now(),
			}
			select {
			case fw.debouncer.events <- fileEvent:
			default:
				fw.logger.Warn(ctx, nil, "dropping file event, debounce buffer full", "path", event.Name)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "watch error")
		}
	}
}

// dispatchLoop delivers debounced batches to the registered handlers.
func (fw *FileWatcher) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-fw.debouncer.output:
			if !ok {
				return
			}
			fw.mutex.RLock()
			handlers := make([]interfaces.ChangeHandlerFunc, len(fw.handlers))
			copy(handlers, fw.handlers)
			fw.mutex.RUnlock()
			for _, handler := range handlers {
				if err := handler(batch); err != nil {
					fw.logger.Warn(ctx, err, "change handler failed")
				}
			}
		}
	}
}

func (fw *FileWatcher) shouldInclude(path string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	for _, filter := range fw.filters {
		if !filter.ShouldInclude(path) {
			return false
		}
	}
	return true
}

func eventType(op fsnotify.Op) types.FileEventType {
	switch {
	case op&fsnotify.Create != 0:
		return types.FileEventCreated
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return types.FileEventDeleted
	default:
		return types.FileEventModified
	}
}

// debouncer coalesces events closer together than delay into one batch.
// Repeated events for the same URI keep only the most recent.
type debouncer struct {
	delay   time.Duration
	events  chan types.FileEvent
	output  chan []types.FileEvent
	pending map[types.DocumentURI]types.FileEvent
	order   []types.DocumentURI
}

func (d *debouncer) run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	d.pending = make(map[types.DocumentURI]types.FileEvent)

	flush := func() {
		if len(d.pending) == 0 {
			return
		}
		batch := make([]types.FileEvent, 0, len(d.order))
		for _, uri := range d.order {
			if event, ok := d.pending[uri]; ok {
				batch = append(batch, event)
				delete(d.pending, uri)
			}
		}
		d.order = d.order[:0]
		select {
		case d.output <- batch:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event := <-d.events:
			if _, ok := d.pending[event.URI]; !ok {
				d.order = append(d.order, event.URI)
			}
			d.pending[event.URI] = event
			if timer == nil {
				timer = time.NewTimer(d.delay)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d.delay)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			flush()
		}
	}
}
