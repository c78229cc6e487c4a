package memindex

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/magpielabs/magpie/internal/memfs"
)

// RebuildCallback is called after a watcher-driven index rebuild.
type RebuildCallback func()

const debounce = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the memory root and rebuilds
// index.md whenever a note file changes, until ctx is cancelled. Bursts
// of events (an editor save, a consolidation pass) collapse into a
// single rebuild. It calls cb (if non-nil) after each rebuild.
//
// New directories created at runtime are automatically added to the
// watch list. index.md itself, dotfiles, templates, and non-markdown
// files are ignored so the rebuild does not retrigger itself.
func Watch(ctx context.Context, repo *memfs.Repo, logger *slog.Logger, cb RebuildCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, repo.Root()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", repo.Root()))

	var rebuildTimer *time.Timer
	var rebuildCh <-chan time.Time

	scheduleRebuild := func() {
		if rebuildTimer == nil {
			rebuildTimer = time.NewTimer(debounce)
			rebuildCh = rebuildTimer.C
		} else {
			rebuildTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if rebuildTimer != nil {
				rebuildTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-rebuildCh:
			if err := Rebuild(repo); err != nil {
				logger.Warn("watcher: rebuild failed", slog.String("error", err.Error()))
				continue
			}
			logger.Debug("watcher: index rebuilt")
			if cb != nil {
				cb()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					scheduleRebuild()
					continue
				}
			}

			if !relevant(ev.Name) {
				continue
			}
			scheduleRebuild()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// relevant reports whether a change to path should trigger a rebuild.
func relevant(path string) bool {
	base := filepath.Base(path)
	switch {
	case base == "index.md":
		return false
	case strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_"):
		return false
	case !strings.HasSuffix(base, ".md"):
		return false
	}
	return true
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
