// Package interfaces provides core abstractions for the lsphost core. This
// package defines interfaces to reduce coupling between packages and improve
// testability by enabling dependency injection and mocking.
package interfaces

import (
	"context"

	"github.com/conneroisu/lsphost/internal/types"
)

// FileHandlingCapability describes how well a build system can answer
// queries for a given file.
type FileHandlingCapability int

const (
	// FileUnhandled means the build system knows nothing about the file.
	FileUnhandled FileHandlingCapability = iota
	// FileFallback means the build system can only synthesize
	// approximate settings for the file.
	FileFallback
	// FileHandled means the build system has authoritative settings for
	// the file.
	FileHandled
)

// MainFilesProvider maps a secondary file (e.g. a header) onto the set of
// main files whose compilation includes it. The returned set may contain the
// URI itself.
type MainFilesProvider interface {
	MainFilesContainingFile(uri types.DocumentURI) map[types.DocumentURI]bool
}

// MainFilesDelegate is notified when the file-to-main-file mapping may have
// changed, e.g. after an index update.
type MainFilesDelegate interface {
	MainFilesChanged()
}

// BuildSystem is the contract an underlying build system (compilation
// database, build server, fallback) fulfills towards the settings layer.
type BuildSystem interface {
	// BuildSettings returns the settings for the given main file, or nil
	// if this layer has none. An error means the query itself failed;
	// callers treat it the same as having no settings.
	BuildSettings(ctx context.Context, uri types.DocumentURI, language types.Language) (*types.BuildSettings, error)

	// RegisterForChangeNotifications starts watching the main file for
	// settings changes, reported through the delegate.
	RegisterForChangeNotifications(ctx context.Context, uri types.DocumentURI, language types.Language) error

	// UnregisterForChangeNotifications stops watching the main file.
	UnregisterForChangeNotifications(uri types.DocumentURI)

	// FilesDidChange informs the build system about filesystem changes so
	// it can reload manifests or compilation databases.
	FilesDidChange(events []types.FileEvent)

	// FileHandlingCapability reports how this build system can handle the
	// given file.
	FileHandlingCapability(uri types.DocumentURI) FileHandlingCapability

	// SetDelegate installs the callback receiver. Pass nil to detach.
	SetDelegate(delegate BuildSystemDelegate)
}

// BuildSystemDelegate receives change callbacks from an underlying build
// system. Main files are reported; the settings layer maps them back onto
// watched URIs.
type BuildSystemDelegate interface {
	FileBuildSettingsChanged(mainFiles map[types.DocumentURI]bool)
	FilesDependenciesUpdated(mainFiles map[types.DocumentURI]bool)
	BuildTargetsChanged(events []types.BuildTargetEvent)
	FileHandlingCapabilityChanged()
}

// SettingsDelegate receives change notifications from the settings layer,
// phrased in terms of watched URIs. Consumers re-query settings for the
// reported URIs; no snapshot is carried.
type SettingsDelegate interface {
	// FileBuildSettingsChanged reports that settings for the given
	// watched URIs changed, became available, or went away.
	FileBuildSettingsChanged(watchedURIs map[types.DocumentURI]bool)
	// FilesDependenciesUpdated reports that the dependencies of the given
	// watched URIs were updated. An empty set means all watched URIs.
	FilesDependenciesUpdated(watchedURIs map[types.DocumentURI]bool)
	BuildTargetsChanged(events []types.BuildTargetEvent)
	FileHandlingCapabilityChanged()
}

// FileFilter defines the interface for filtering files.
type FileFilter interface {
	ShouldInclude(path string) bool
}

// FileFilterFunc is the concrete file filter function type that implements
// FileFilter.
type FileFilterFunc func(path string) bool

// ShouldInclude implements the FileFilter interface.
func (f FileFilterFunc) ShouldInclude(path string) bool {
	return f(path)
}

// ChangeHandlerFunc handles a batch of debounced file change events.
type ChangeHandlerFunc func(events []types.FileEvent) error
