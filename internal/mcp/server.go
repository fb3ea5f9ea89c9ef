package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mamaar/vbarefactor/pkg/refactor"
	"github.com/mamaar/vbarefactor/pkg/watch"
)

// WatchDebounce is how long the watcher waits for file events to settle.
const WatchDebounce = 200 * time.Millisecond

// MCPServer holds the shared state for the MCP tool handlers:
// a loaded workspace, its refactoring engine, and an optional
// filesystem watcher that keeps the parsed modules current.
type MCPServer struct {
	mu       sync.Mutex
	engine   *refactor.DefaultEngine
	notifier *refactor.CollectingNotifier
	watcher  *watch.Watcher
	updater  *watch.WorkspaceUpdater
	cancel   context.CancelFunc // stops watcher goroutine
	logger   *slog.Logger
}

// NewMCPServer creates a new MCPServer with the given logger.
func NewMCPServer(logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPServer{notifier: &refactor.CollectingNotifier{}, logger: logger}
}

// LoadWorkspace loads (or reloads) a workspace at the given path and starts
// watching it. A watcher failure is logged; the workspace stays usable.
func (s *MCPServer) LoadWorkspace(ctx context.Context, path string) (*refactor.DefaultEngine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopWatcherLocked()

	s.logger.Info("loading workspace", "path", path)
	cfg, err := refactor.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	engine := refactor.CreateEngineWithConfig(cfg, s.notifier, s.logger)
	if _, err := engine.LoadWorkspace(ctx, path); err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	s.engine = engine
	s.updater = watch.NewUpdater(engine.State(), s.logger)

	w, err := watch.NewWatcher(path, cfg.ModuleExtensions, WatchDebounce, s.logger)
	if err != nil {
		s.logger.Warn("watcher unavailable, workspace will not auto-update", "err", err)
		return engine, nil
	}
	s.watcher = w

	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	ch := make(chan []watch.ChangeEvent, 4)
	go func() {
		if err := w.Run(watchCtx, ch); err != nil && watchCtx.Err() == nil {
			s.logger.Error("watcher error", "err", err)
		}
	}()
	updater := s.updater
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case events := <-ch:
				s.mu.Lock()
				updater.HandleChanges(watchCtx, events)
				s.mu.Unlock()
			}
		}
	}()

	return engine, nil
}

// Engine returns the engine of the loaded workspace. The caller must hold the
// lock.
func (s *MCPServer) Engine() (*refactor.DefaultEngine, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("no workspace loaded, call load_workspace first")
	}
	return s.engine, nil
}

// Notifications returns the notifications raised since mark, and the new mark.
func (s *MCPServer) Notifications(mark int) ([]string, int) {
	all := s.notifier.Messages()
	var out []string
	for _, n := range all[min(mark, len(all)):] {
		out = append(out, n.Message)
	}
	return out, len(all)
}

// SyncWorkspaceChanges forces an immediate update for the given files.
// It is called after a tool wrote files so the parsed state does not wait for
// the watcher.
func (s *MCPServer) SyncWorkspaceChanges(ctx context.Context, files []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updater == nil || len(files) == 0 {
		return 0
	}
	return s.updater.Sync(ctx, files)
}

// Lock acquires the server state for one tool call.
func (s *MCPServer) Lock() { s.mu.Lock() }

// Unlock releases the server state.
func (s *MCPServer) Unlock() { s.mu.Unlock() }

// Watching reports whether a filesystem watcher is running.
func (s *MCPServer) Watching() bool {
	return s.watcher != nil
}

// Close stops the watcher and releases resources.
func (s *MCPServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatcherLocked()
}

func (s *MCPServer) stopWatcherLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
}
