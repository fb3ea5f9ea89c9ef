package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mamaar/vbarefactor/pkg/codemodule"
)

// officeOwnerPrefix marks the lock files Office writes next to open
// documents.
const officeOwnerPrefix = "~$"

// ChangeEvent represents a single filesystem change to a module file.
type ChangeEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports changes to the module files of a workspace in batches.
// Events for the same file within the debounce interval are merged.
type Watcher struct {
	root     string
	exts     []string
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher watches root and every directory below it, except hidden ones,
// for changes to files with one of exts.
func NewWatcher(root string, exts []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if len(exts) == 0 {
		exts = codemodule.DefaultExtensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: abs, exts: exts, debounce: debounce, logger: logger, fsw: fsw}
	if err := filepath.WalkDir(abs, w.watchDir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) watchDir(path string, d fs.DirEntry, err error) error {
	switch {
	case err != nil:
		return err
	case !d.IsDir():
		return nil
	case path != w.root && strings.HasPrefix(d.Name(), "."):
		return filepath.SkipDir
	}
	return w.fsw.Add(path)
}

// Run forwards batches of module file changes to out until ctx is done or
// the watcher is closed.
func (w *Watcher) Run(ctx context.Context, out chan<- []ChangeEvent) error {
	pending := make(map[string]fsnotify.Op)
	var flush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "err", err)

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				w.watchNewDir(ev.Name)
			}
			if !w.accept(ev) {
				continue
			}
			pending[ev.Name] |= ev.Op
			flush = time.After(w.debounce)

		case <-flush:
			flush = nil
			batch := drain(pending)
			if len(batch) == 0 {
				continue
			}
			w.logger.Debug("module files changed", "count", len(batch))
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// drain empties pending into a batch ordered by path.
func drain(pending map[string]fsnotify.Op) []ChangeEvent {
	batch := make([]ChangeEvent, 0, len(pending))
	for path, op := range pending {
		batch = append(batch, ChangeEvent{Path: path, Op: op})
		delete(pending, path)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

// Close shuts down the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// accept keeps content changes to module files. Backups written on save and
// Office lock files are ignored.
func (w *Watcher) accept(ev fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(ev.Name), officeOwnerPrefix) {
		return false
	}
	if !codemodule.HasModuleExtension(ev.Name, w.exts) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// watchNewDir starts watching a directory created after the watcher.
func (w *Watcher) watchNewDir(path string) {
	if filepath.Dir(path) != w.root && strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.logger.Debug("not watching", "path", path, "err", err)
	}
}
