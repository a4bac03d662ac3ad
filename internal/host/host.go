// Package host ties the core components together behind a JSON-RPC message
// surface: each connection's messages are serialized on an AsyncQueue so a
// document change and the request that follows it are never reordered,
// settings queries go through the build-settings manager, and heavy work is
// handed to the task scheduler.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/conneroisu/lsphost/internal/buildsettings"
	"github.com/conneroisu/lsphost/internal/index"
	"github.com/conneroisu/lsphost/internal/logging"
	"github.com/conneroisu/lsphost/internal/scheduler"
	"github.com/conneroisu/lsphost/internal/types"
)

// HandlerFunc handles one JSON-RPC method. Params stay raw; handlers decode
// what they need.
type HandlerFunc func(ctx context.Context, conn *Connection, params json.RawMessage) (any, error)

// LanguageHost is the long-lived process core between editors and the
// language backends.
type LanguageHost struct {
	logger       logging.Logger
	settings     *buildsettings.Manager
	scheduler    *scheduler.TaskScheduler
	orchestrator *index.Orchestrator

	mu          sync.RWMutex
	handlers    map[string]HandlerFunc
	connections map[*Connection]bool
}

// New creates a host over the given components and registers the built-in
// document lifecycle handlers.
func New(settings *buildsettings.Manager, sched *scheduler.TaskScheduler, orchestrator *index.Orchestrator, logger logging.Logger) *LanguageHost {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &LanguageHost{
		logger:       logger.WithComponent("host"),
		settings:     settings,
		scheduler:    sched,
		orchestrator: orchestrator,
		handlers:     make(map[string]HandlerFunc),
		connections:  make(map[*Connection]bool),
	}
	h.registerBuiltins()
	settings.SetDelegate(h)
	return h
}

// RegisterHandler installs the handler for a JSON-RPC method, replacing any
// previous one.
func (h *LanguageHost) RegisterHandler(method string, handler HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[method] = handler
}

func (h *LanguageHost) handlerFor(method string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[method]
	return handler, ok
}

// FilesDidChange feeds watcher batches into the settings layer and the
// index orchestrator.
func (h *LanguageHost) FilesDidChange(events []types.FileEvent) error {
	h.settings.FilesDidChange(events)
	h.orchestrator.FilesDidChange(events)
	return nil
}

// documentParams is the subset of didOpen/didClose parameters the host
// needs.
type documentParams struct {
	TextDocument struct {
		URI        string `json:"uri"`
		LanguageID string `json:"languageId"`
	} `json:"textDocument"`
}

// prepareParams names the targets an editor asks to prepare.
type prepareParams struct {
	Targets []string `json:"targets"`
}

func (h *LanguageHost) registerBuiltins() {
	h.handlers["textDocument/didOpen"] = func(ctx context.Context, conn *Connection, params json.RawMessage) (any, error) {
		var p documentParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		uri := types.DocumentURI(p.TextDocument.URI)
		language := types.Language(p.TextDocument.LanguageID)
		conn.trackDocument(uri)
		return nil, h.settings.RegisterForChangeNotifications(ctx, uri, language)
	}

	h.handlers["textDocument/didClose"] = func(ctx context.Context, conn *Connection, params json.RawMessage) (any, error) {
		var p documentParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		uri := types.DocumentURI(p.TextDocument.URI)
		conn.untrackDocument(uri)
		h.settings.UnregisterForChangeNotifications(uri)
		return nil, nil
	}

	h.handlers["textDocument/didSave"] = func(ctx context.Context, conn *Connection, params json.RawMessage) (any, error) {
		var p documentParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		uri := types.DocumentURI(p.TextDocument.URI)
		h.orchestrator.ScheduleUpdate([]types.DocumentURI{uri}, types.PriorityMedium)
		return nil, nil
	}

	h.handlers["textDocument/buildSettings"] = func(ctx context.Context, conn *Connection, params json.RawMessage) (any, error) {
		var p documentParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		uri := types.DocumentURI(p.TextDocument.URI)
		language := types.Language(p.TextDocument.LanguageID)
		settings, isFallback := h.settings.BuildSettingsInferredFromMainFile(ctx, uri, language)
		if settings == nil {
			return map[string]any{"available": false}, nil
		}
		return map[string]any{
			"available":         true,
			"isFallback":        isFallback,
			"compilerArguments": settings.CompilerArguments,
			"workingDirectory":  settings.WorkingDirectory,
		}, nil
	}

	h.handlers["workspace/prepareTargets"] = func(ctx context.Context, conn *Connection, params json.RawMessage) (any, error) {
		var p prepareParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		task := h.orchestrator.PrepareTargets(p.Targets, types.PriorityUserInitiated)
		ctx = types.ContextWithPriority(ctx, types.PriorityUserInitiated)
		if err := task.AwaitPropagatingCancellation(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"prepared": p.Targets}, nil
	}
}

func (h *LanguageHost) addConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn] = true
}

func (h *LanguageHost) removeConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, conn)
}

func (h *LanguageHost) broadcast(method string, params any) {
	encoded, err := json.Marshal(params)
	if err != nil {
		h.logger.Error(context.Background(), err, "failed to encode notification", "method", method)
		return
	}
	h.mu.RLock()
	connections := make([]*Connection, 0, len(h.connections))
	for conn := range h.connections {
		connections = append(connections, conn)
	}
	h.mu.RUnlock()
	for _, conn := range connections {
		conn.Notify(method, encoded)
	}
}

// FileBuildSettingsChanged fans the changed URIs out to every connection so
// editors re-query settings-derived state.
func (h *LanguageHost) FileBuildSettingsChanged(watchedURIs map[types.DocumentURI]bool) {
	h.broadcast("workspace/buildSettingsChanged", map[string]any{"uris": uriList(watchedURIs)})
}

// FilesDependenciesUpdated reports updated dependencies; an empty set means
// all watched documents.
func (h *LanguageHost) FilesDependenciesUpdated(watchedURIs map[types.DocumentURI]bool) {
	h.broadcast("workspace/filesDependenciesUpdated", map[string]any{"uris": uriList(watchedURIs)})
}

// BuildTargetsChanged forwards build target changes to editors.
func (h *LanguageHost) BuildTargetsChanged(events []types.BuildTargetEvent) {
	payload := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payload = append(payload, map[string]any{"target": event.Target, "kind": int(event.Kind)})
	}
	h.broadcast("workspace/buildTargetsChanged", map[string]any{"changes": payload})
}

// FileHandlingCapabilityChanged tells editors that which files the build
// system can answer for has changed.
func (h *LanguageHost) FileHandlingCapabilityChanged() {
	h.broadcast("workspace/fileHandlingCapabilityChanged", map[string]any{})
}

func uriList(uris map[types.DocumentURI]bool) []string {
	list := make([]string, 0, len(uris))
	for uri := range uris {
		list = append(list, string(uri))
	}
	return list
}

var errMethodNotFound = fmt.Errorf("method not found")
