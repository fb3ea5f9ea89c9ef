package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/state"
)

// WorkspaceUpdater brings the project's buffers in line with the module files
// on disk and reparses after each batch.
type WorkspaceUpdater struct {
	state  *state.ParserState
	logger *slog.Logger
}

// NewUpdater creates a WorkspaceUpdater for the project held by ps.
func NewUpdater(ps *state.ParserState, logger *slog.Logger) *WorkspaceUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceUpdater{state: ps, logger: logger}
}

// HandleChanges processes a batch of file-change events and returns the
// number of modules that changed. A reparse runs when any did.
func (u *WorkspaceUpdater) HandleChanges(ctx context.Context, events []ChangeEvent) int {
	start := time.Now()

	changed := 0
	for _, ev := range events {
		if u.handle(ev) {
			changed++
		}
	}
	if changed == 0 {
		return 0
	}

	res := <-u.state.RequestReparse(ctx)
	if res.Err != nil {
		u.logger.Error("reparse after file changes failed", "err", res.Err)
		return changed
	}
	u.logger.Info("batch complete",
		"files", len(events),
		"changed", changed,
		"declarations", len(res.Snapshot.Declarations()),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return changed
}

// handle applies one event. The file's current state on disk decides
// between reload and removal, since debounced ops may be combined.
func (u *WorkspaceUpdater) handle(ev ChangeEvent) bool {
	project := u.state.Project()
	_, err := os.Stat(ev.Path)
	missing := errors.Is(err, fs.ErrNotExist)

	buf, known := project.ModuleByPath(ev.Path)
	if known {
		release := u.state.Locks().Acquire(buf.Name())
		defer release()
	}

	switch {
	case missing:
		if !known {
			return false
		}
		if buf.Dirty() {
			u.logger.Warn("module file removed with unsaved edits, keeping buffer", "module", buf.Name().String(), "path", ev.Path)
			return false
		}
		project.Remove(ev.Path)
		u.logger.Info("delete: removed module", "module", buf.Name().String(), "op", ev.Op.String())
		return true

	case err != nil:
		u.logger.Error("stat failed", "path", ev.Path, "err", err)
		return false

	case known:
		return u.reload(project, buf, ev)

	default:
		fresh, err := project.Reload(ev.Path)
		if err != nil {
			u.logger.Error("create: read failed", "path", ev.Path, "err", err)
			return false
		}
		u.logger.Info("create: added module", "module", fresh.Name().String(), "path", ev.Path)
		return true
	}
}

func (u *WorkspaceUpdater) reload(project *codemodule.Project, buf *codemodule.Buffer, ev ChangeEvent) bool {
	content, err := os.ReadFile(ev.Path)
	if err != nil {
		u.logger.Error("modify: read failed", "path", ev.Path, "err", err)
		return false
	}
	if string(content) == buf.Contents() {
		return false
	}
	if buf.Dirty() {
		u.logger.Warn("module changed on disk with unsaved edits, keeping buffer",
			"module", buf.Name().String(), "path", ev.Path)
		return false
	}
	if _, err := project.Reload(ev.Path); err != nil {
		u.logger.Error("modify: reload failed", "path", ev.Path, "err", err)
		return false
	}
	u.logger.Info("modify: reloaded module", "module", buf.Name().String(), "op", ev.Op.String())
	return true
}

// Sync handles paths as if the watcher had reported writes to them.
func (u *WorkspaceUpdater) Sync(ctx context.Context, paths []string) int {
	events := make([]ChangeEvent, len(paths))
	for i, p := range paths {
		events[i] = ChangeEvent{Path: p, Op: fsnotify.Write}
	}
	return u.HandleChanges(ctx, events)
}

// ModuleCount returns the number of modules currently in the project.
func (u *WorkspaceUpdater) ModuleCount() int {
	return len(u.state.Project().Modules())
}

// String implements fmt.Stringer for logging convenience.
func (u *WorkspaceUpdater) String() string {
	return fmt.Sprintf("WorkspaceUpdater{modules=%d}", u.ModuleCount())
}
