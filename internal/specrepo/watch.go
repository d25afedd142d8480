// internal/specrepo/watch.go
package specrepo

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch keeps the cache in step with the file system until ctx is done.
// While it runs, file listings are only refreshed on create, remove and
// rename events.
func (r *Repository) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spec watcher: %w", err)
	}
	if err := r.addWatches(w, r.root); err != nil {
		w.Close()
		return err
	}

	r.mu.Lock()
	r.watching = true
	r.files = nil
	r.listGen++
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.watching = false
			r.mu.Unlock()
			w.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				r.handleEvent(w, ev)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("Specification watcher error.", zap.Error(err))
			}
		}
	}()
	r.logger.Info("Watching specification files.", zap.String("root", r.root))
	return nil
}

func (r *Repository) addWatches(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			r.logger.Warn("Failed to watch directory.", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (r *Repository) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	structural := ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := r.addWatches(w, ev.Name); err != nil {
				r.logger.Warn("Failed to watch new directory.", zap.String("path", ev.Name), zap.Error(err))
			}
		}
	}
	r.invalidate(ev.Name, structural)
	r.logger.Debug("Specification change detected.", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
}
