// Package watcher pushes folders automatically when their files change.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/pushbox/internal/backup"
	"github.com/alexjbarnes/pushbox/internal/registry"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a folder's files must be quiet before it is
// pushed.
const DefaultDebounce = 2 * time.Second

// Folders is the part of the registry the watcher reads. It is consulted
// on every tick so folders added while watching are picked up.
type Folders interface {
	Folders() []string
	Folder(name string) (registry.FolderRecord, error)
	FolderFor(localPath string) []string
}

// Pusher runs a push of one folder.
type Pusher interface {
	Push(ctx context.Context, folder string, cb backup.Callbacks) (*backup.Result, error)
}

// Watcher monitors the directories holding registered files. fsnotify
// cannot watch single files reliably across editors that save by rename,
// so parent directories are watched and events filtered by path.
type Watcher struct {
	folders  Folders
	pusher   Pusher
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	dirs    map[string]struct{}
}

// New creates a watcher. debounce <= 0 uses DefaultDebounce.
func New(folders Folders, pusher Pusher, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		folders:  folders,
		pusher:   pusher,
		debounce: debounce,
		logger:   logger,
		dirs:     make(map[string]struct{}),
	}
}

// Watch blocks until ctx is cancelled, pushing each folder once its
// changed files have been quiet for the debounce period. Pushes run one at
// a time on this goroutine.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	w.syncDirs()

	w.logger.Info("file watcher started",
		slog.Int("dirs", len(w.dirs)),
		slog.Duration("debounce", w.debounce),
	)

	tick := w.debounce / 4
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	// Last change per folder.
	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}

			for _, folder := range w.folders.FolderFor(filepath.Clean(event.Name)) {
				pending[folder] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			// Non-fatal (e.g. too many watches).
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.syncDirs()

			now := time.Now()
			for folder, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}

				delete(pending, folder)
				w.push(ctx, folder)
			}
		}
	}
}

func (w *Watcher) push(ctx context.Context, folder string) {
	w.logger.Info("change detected, pushing", slog.String("folder", folder))

	res, err := w.pusher.Push(ctx, folder, backup.Callbacks{
		OnWarning: func(warn backup.Warning) {
			w.logger.Warn("push warning", slog.String("folder", folder), slog.String("warning", warn.Error()))
		},
	})
	if err != nil {
		w.logger.Warn("push failed", slog.String("folder", folder), slog.String("error", err.Error()))
		return
	}

	if err := res.Err(); err != nil {
		w.logger.Warn("push incomplete", slog.String("folder", folder), slog.String("error", err.Error()))
	}
}

// syncDirs adds a watch for every directory holding a registered file
// that is not watched yet. Directories that do not exist are retried on
// the next call.
func (w *Watcher) syncDirs() {
	for _, name := range w.folders.Folders() {
		rec, err := w.folders.Folder(name)
		if err != nil {
			continue
		}

		for _, e := range rec.Entries {
			dir := filepath.Dir(e.LocalPath)
			if _, ok := w.dirs[dir]; ok {
				continue
			}

			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				continue
			}

			if err := w.watcher.Add(dir); err != nil {
				w.logger.Warn("watching directory", slog.String("dir", dir), slog.String("error", err.Error()))
				continue
			}

			w.dirs[dir] = struct{}{}
			w.logger.Debug("watching directory", slog.String("dir", dir))
		}
	}
}
