// Package buildsettings provides a single, stable view of per-file build
// settings over a (primary, fallback) pair of build systems.
//
// The manager maintains the watched-file set, the mapping from watched files
// onto the main files that actually have settings, and forwards settings
// changes from the underlying systems back through that mapping. Delegate
// notifications are delivered through an internal channel drained on the
// manager's own goroutine, so a callback can never re-enter the manager
// while it holds its lock.
package buildsettings

import (
	"context"
	"fmt"
	"sync"

	hosterrors "github.com/conneroisu/lsphost/internal/errors"
	"github.com/conneroisu/lsphost/internal/interfaces"
	"github.com/conneroisu/lsphost/internal/logging"
	"github.com/conneroisu/lsphost/internal/types"
)

// watchEntry records the main file and language chosen for one watched URI.
type watchEntry struct {
	mainFile types.DocumentURI
	language types.Language
}

// Manager layers a primary build system over a fallback one and maps derived
// files onto main files using a MainFilesProvider.
type Manager struct {
	primary  interfaces.BuildSystem // may be nil
	fallback interfaces.BuildSystem
	provider interfaces.MainFilesProvider // may be nil
	logger   logging.Logger

	mu           sync.Mutex
	watched      map[types.DocumentURI]watchEntry
	mainFileRefs map[types.DocumentURI]int

	delegateMu sync.Mutex
	delegate   interfaces.SettingsDelegate

	notifications chan notification
	quit          chan struct{}
	closeOnce     sync.Once
	drained       sync.WaitGroup
}

// NewManager creates a settings manager. primary and provider may be nil;
// fallback must not be.
func NewManager(primary, fallback interfaces.BuildSystem, provider interfaces.MainFilesProvider, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		primary:       primary,
		fallback:      fallback,
		provider:      provider,
		logger:        logger.WithComponent("buildsettings"),
		watched:       make(map[types.DocumentURI]watchEntry),
		mainFileRefs:  make(map[types.DocumentURI]int),
		notifications: make(chan notification, 128),
		quit:          make(chan struct{}),
	}
	if primary != nil {
		primary.SetDelegate(m)
	}
	m.drained.Add(1)
	go m.drainNotifications()
	return m
}

// SetDelegate installs the consumer of settings-change notifications.
func (m *Manager) SetDelegate(delegate interfaces.SettingsDelegate) {
	m.delegateMu.Lock()
	defer m.delegateMu.Unlock()
	m.delegate = delegate
}

// Close stops notification delivery. Notifications not yet delivered are
// dropped.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	m.drained.Wait()
}

// BuildSettingsInferredFromMainFile resolves settings for the given URI,
// inferring them from the URI's main file when the two differ. The second
// return value reports whether the settings are approximate fallback
// settings that downstream consumers must treat accordingly. Returns nil
// settings only if no layer can produce any.
func (m *Manager) BuildSettingsInferredFromMainFile(ctx context.Context, uri types.DocumentURI, language types.Language) (*types.BuildSettings, bool) {
	mainFile := m.mainFileFor(uri)
	if mainFile != uri {
		settings, isFallback := m.settingsForMainFile(ctx, mainFile, language)
		if settings == nil {
			return nil, false
		}
		patched := settings.PatchingMainFile(uri, mainFile, language)
		return &patched, isFallback
	}
	return m.settingsForMainFile(ctx, uri, language)
}

// SettingsChangeFor re-derives the current settings for a watched URI as a
// tagged change value, the form delegate consumers use after a notification.
func (m *Manager) SettingsChangeFor(ctx context.Context, uri types.DocumentURI) types.SettingsChange {
	m.mu.Lock()
	entry, ok := m.watched[uri]
	m.mu.Unlock()
	language := entry.language
	if !ok {
		language = types.LanguageC
	}

	settings, isFallback := m.BuildSettingsInferredFromMainFile(ctx, uri, language)
	switch {
	case settings == nil:
		return types.SettingsChange{Kind: types.SettingsRemovedOrUnavailable}
	case isFallback:
		return types.SettingsChange{Kind: types.SettingsFallback, Settings: *settings}
	default:
		return types.SettingsChange{Kind: types.SettingsModified, Settings: *settings}
	}
}

// settingsForMainFile queries the primary system first and falls back to the
// synthesized settings. A primary failure is not an error; the manager falls
// through silently. Fallback settings count as authoritative when no primary
// exists.
func (m *Manager) settingsForMainFile(ctx context.Context, uri types.DocumentURI, language types.Language) (*types.BuildSettings, bool) {
	if m.primary != nil {
		settings, err := m.primary.BuildSettings(ctx, uri, language)
		if err != nil {
			m.logger.Debug(ctx, "primary build system failed to produce settings",
				"uri", string(uri), "error", err.Error())
		}
		if settings != nil {
			return settings, false
		}
	}
	settings, err := m.fallback.BuildSettings(ctx, uri, language)
	if err != nil || settings == nil {
		return nil, false
	}
	return settings, m.primary != nil
}

// RegisterForChangeNotifications records the URI in the watch table, chooses
// its main file, and registers that main file with the primary system if
// this is its first watcher. An initial settings notification for the URI is
// always delivered asynchronously, even if no settings are available yet.
func (m *Manager) RegisterForChangeNotifications(ctx context.Context, uri types.DocumentURI, language types.Language) error {
	m.mu.Lock()
	if _, ok := m.watched[uri]; ok {
		m.mu.Unlock()
		err := hosterrors.NewCallerError("registerForChangeNotifications", "uri %q is already registered", uri)
		m.logger.Error(ctx, err, "refusing duplicate registration")
		return err
	}
	mainFile := chooseMainFile(uri, nil, m.candidatesFor(uri))
	m.watched[uri] = watchEntry{mainFile: mainFile, language: language}
	first := m.mainFileRefs[mainFile] == 0
	m.mainFileRefs[mainFile]++
	m.mu.Unlock()

	if first && m.primary != nil {
		if err := m.primary.RegisterForChangeNotifications(ctx, mainFile, language); err != nil {
			m.logger.Warn(ctx, err, "failed to register main file with primary build system",
				"mainFile", string(mainFile))
		}
	}

	// Guaranteed initial notification; the consumer re-queries and sees
	// RemovedOrUnavailable if nothing is available yet.
	m.enqueue(notification{kind: notifySettingsChanged, uris: uriSet(uri)})
	return nil
}

// UnregisterForChangeNotifications drops the watch on the URI. If this was
// the last watch on the underlying main file, the main file is unregistered
// from the primary system.
func (m *Manager) UnregisterForChangeNotifications(uri types.DocumentURI) {
	m.mu.Lock()
	entry, ok := m.watched[uri]
	if !ok {
		m.mu.Unlock()
		m.logger.Error(context.Background(),
			hosterrors.NewCallerError("unregisterForChangeNotifications", "uri %q is not registered", uri),
			"ignoring unregistration of unwatched uri")
		return
	}
	delete(m.watched, uri)
	m.mainFileRefs[entry.mainFile]--
	last := m.mainFileRefs[entry.mainFile] == 0
	if last {
		delete(m.mainFileRefs, entry.mainFile)
	}
	m.mu.Unlock()

	if last && m.primary != nil {
		m.primary.UnregisterForChangeNotifications(entry.mainFile)
	}
}

// FilesDidChange forwards filesystem change events to both underlying
// systems.
func (m *Manager) FilesDidChange(events []types.FileEvent) {
	if m.primary != nil {
		m.primary.FilesDidChange(events)
	}
	m.fallback.FilesDidChange(events)
}

// WatchedMainFiles returns the set of distinct main files referenced by the
// watch table. Intended for tests and introspection.
func (m *Manager) WatchedMainFiles() map[types.DocumentURI]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[types.DocumentURI]bool, len(m.mainFileRefs))
	for mainFile := range m.mainFileRefs {
		result[mainFile] = true
	}
	return result
}

// mainFileFor returns the main file recorded for a watched URI, or chooses
// one from the provider for unwatched URIs.
func (m *Manager) mainFileFor(uri types.DocumentURI) types.DocumentURI {
	m.mu.Lock()
	if entry, ok := m.watched[uri]; ok {
		m.mu.Unlock()
		return entry.mainFile
	}
	candidates := m.candidatesFor(uri)
	m.mu.Unlock()
	return chooseMainFile(uri, nil, candidates)
}

// candidatesFor queries the provider. Callers hold m.mu; the provider
// contract requires bounded, non-reentrant work.
func (m *Manager) candidatesFor(uri types.DocumentURI) map[types.DocumentURI]bool {
	if m.provider == nil {
		return nil
	}
	return m.provider.MainFilesContainingFile(uri)
}

// chooseMainFile implements the main-file-selection policy: keep the
// previous choice while it remains a candidate; otherwise use the URI itself
// when the candidate set is empty or contains it; otherwise pick the
// lexicographically smallest candidate so the choice is deterministic.
func chooseMainFile(uri types.DocumentURI, previous *types.DocumentURI, candidates map[types.DocumentURI]bool) types.DocumentURI {
	if previous != nil && candidates[*previous] {
		return *previous
	}
	if len(candidates) == 0 || candidates[uri] {
		return uri
	}
	var best types.DocumentURI
	for candidate := range candidates {
		if best == "" || candidate < best {
			best = candidate
		}
	}
	return best
}

// MainFilesChanged re-evaluates the main file of every watch after the
// provider signalled that the file-to-main-file mapping may have changed.
// Watches whose main file changed are reported as a settings change; main
// files that lost their last watcher are unregistered.
func (m *Manager) MainFilesChanged() {
	var toRegister []watchEntry
	var toUnregister []types.DocumentURI
	changed := map[types.DocumentURI]bool{}

	m.mu.Lock()
	for uri, entry := range m.watched {
		previous := entry.mainFile
		newMain := chooseMainFile(uri, &previous, m.candidatesFor(uri))
		if newMain == previous {
			continue
		}
		m.mainFileRefs[previous]--
		if m.mainFileRefs[previous] == 0 {
			delete(m.mainFileRefs, previous)
			toUnregister = append(toUnregister, previous)
		}
		if m.mainFileRefs[newMain] == 0 {
			toRegister = append(toRegister, watchEntry{mainFile: newMain, language: entry.language})
		}
		m.mainFileRefs[newMain]++
		m.watched[uri] = watchEntry{mainFile: newMain, language: entry.language}
		changed[uri] = true
	}
	m.mu.Unlock()

	if m.primary != nil {
		for _, entry := range toRegister {
			if err := m.primary.RegisterForChangeNotifications(context.Background(), entry.mainFile, entry.language); err != nil {
				m.logger.Warn(context.Background(), err, "failed to register re-evaluated main file",
					"mainFile", string(entry.mainFile))
			}
		}
		for _, mainFile := range toUnregister {
			m.primary.UnregisterForChangeNotifications(mainFile)
		}
	}
	if len(changed) > 0 {
		m.enqueue(notification{kind: notifySettingsChanged, uris: changed})
	}
}

// FileBuildSettingsChanged maps changed main files back onto the watched
// URIs that recorded them and notifies the delegate once with that URI set.
func (m *Manager) FileBuildSettingsChanged(mainFiles map[types.DocumentURI]bool) {
	uris := m.watchedURIsForMainFiles(mainFiles)
	if len(uris) == 0 {
		return
	}
	m.enqueue(notification{kind: notifySettingsChanged, uris: uris})
}

// FilesDependenciesUpdated maps updated main files onto watched URIs. An
// empty incoming set means every watched URI may be affected and is
// forwarded as the empty set.
func (m *Manager) FilesDependenciesUpdated(mainFiles map[types.DocumentURI]bool) {
	if len(mainFiles) == 0 {
		m.enqueue(notification{kind: notifyDependenciesUpdated, uris: map[types.DocumentURI]bool{}})
		return
	}
	uris := m.watchedURIsForMainFiles(mainFiles)
	if len(uris) == 0 {
		return
	}
	m.enqueue(notification{kind: notifyDependenciesUpdated, uris: uris})
}

// BuildTargetsChanged forwards build target changes to the delegate.
func (m *Manager) BuildTargetsChanged(events []types.BuildTargetEvent) {
	m.enqueue(notification{kind: notifyTargetsChanged, events: events})
}

// FileHandlingCapabilityChanged forwards the capability change to the
// delegate.
func (m *Manager) FileHandlingCapabilityChanged() {
	m.enqueue(notification{kind: notifyCapabilityChanged})
}

func (m *Manager) watchedURIsForMainFiles(mainFiles map[types.DocumentURI]bool) map[types.DocumentURI]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	uris := map[types.DocumentURI]bool{}
	for uri, entry := range m.watched {
		if mainFiles[entry.mainFile] {
			uris[uri] = true
		}
	}
	return uris
}

func (m *Manager) enqueue(n notification) {
	select {
	case m.notifications <- n:
	case <-m.quit:
	}
}

// drainNotifications delivers notifications to the delegate in arrival
// order. A panicking delegate is logged and swallowed; it never takes down
// the manager.
func (m *Manager) drainNotifications() {
	defer m.drained.Done()
	for {
		select {
		case n := <-m.notifications:
			m.delegateMu.Lock()
			delegate := m.delegate
			m.delegateMu.Unlock()
			if delegate == nil {
				continue
			}
			m.deliver(delegate, n)
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) deliver(delegate interfaces.SettingsDelegate, n notification) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(context.Background(), fmt.Errorf("%v", r), "settings delegate panicked")
		}
	}()
	switch n.kind {
	case notifySettingsChanged:
		delegate.FileBuildSettingsChanged(n.uris)
	case notifyDependenciesUpdated:
		delegate.FilesDependenciesUpdated(n.uris)
	case notifyTargetsChanged:
		delegate.BuildTargetsChanged(n.events)
	case notifyCapabilityChanged:
		delegate.FileHandlingCapabilityChanged()
	}
}

type notificationKind int

const (
	notifySettingsChanged notificationKind = iota
	notifyDependenciesUpdated
	notifyTargetsChanged
	notifyCapabilityChanged
)

// notification is one queued delegate callback.
type notification struct {
	kind   notificationKind
	uris   map[types.DocumentURI]bool
	events []types.BuildTargetEvent
}

func uriSet(uris ...types.DocumentURI) map[types.DocumentURI]bool {
	set := make(map[types.DocumentURI]bool, len(uris))
	for _, uri := range uris {
		set[uri] = true
	}
	return set
}
