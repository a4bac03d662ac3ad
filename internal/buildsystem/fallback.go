// Package buildsystem contains build-system implementations the settings
// layer composes. The fallback system synthesizes plausible compiler
// arguments for files no real build system has settings for.
package buildsystem

import (
	"context"
	"sync"

	"github.com/conneroisu/lsphost/internal/interfaces"
	"github.com/conneroisu/lsphost/internal/types"
)

// FallbackBuildSystem produces approximate settings without knowledge of the
// real build: a configurable per-language base argument list followed by the
// file path. It never watches files and never reports changes.
type FallbackBuildSystem struct {
	mu             sync.Mutex
	argsByLanguage map[types.Language][]string
	defaultWorkDir string
	delegate       interfaces.BuildSystemDelegate
}

// NewFallback creates a fallback build system. argsByLanguage may be nil, in
// which case every language gets just the file path.
func NewFallback(argsByLanguage map[types.Language][]string, workDir string) *FallbackBuildSystem {
	if argsByLanguage == nil {
		argsByLanguage = map[types.Language][]string{}
	}
	return &FallbackBuildSystem{argsByLanguage: argsByLanguage, defaultWorkDir: workDir}
}

// BuildSettings synthesizes settings for the given file.
func (f *FallbackBuildSystem) BuildSettings(_ context.Context, uri types.DocumentURI, language types.Language) (*types.BuildSettings, error) {
	f.mu.Lock()
	base := f.argsByLanguage[language]
	workDir := f.defaultWorkDir
	f.mu.Unlock()

	args := make([]string, 0, len(base)+1)
	args = append(args, base...)
	args = append(args, uri.FileSystemPath())
	return &types.BuildSettings{CompilerArguments: args, WorkingDirectory: workDir}, nil
}

// RegisterForChangeNotifications is a no-op: synthesized settings never
// change.
func (f *FallbackBuildSystem) RegisterForChangeNotifications(context.Context, types.DocumentURI, types.Language) error {
	return nil
}

// UnregisterForChangeNotifications is a no-op.
func (f *FallbackBuildSystem) UnregisterForChangeNotifications(types.DocumentURI) {}

// FilesDidChange is a no-op.
func (f *FallbackBuildSystem) FilesDidChange([]types.FileEvent) {}

// FileHandlingCapability reports that this system can only approximate.
func (f *FallbackBuildSystem) FileHandlingCapability(types.DocumentURI) interfaces.FileHandlingCapability {
	return interfaces.FileFallback
}

// SetDelegate stores the delegate. The fallback system never calls it.
func (f *FallbackBuildSystem) SetDelegate(delegate interfaces.BuildSystemDelegate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delegate = delegate
}
