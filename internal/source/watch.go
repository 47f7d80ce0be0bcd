package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"healthai/internal/extract"
	"healthai/internal/logger"
)

// Change is a debounced filesystem event for a supported document.
type Change struct {
	Path    string
	Removed bool
}

// DefaultDebounce coalesces editor write bursts.
const DefaultDebounce = 500 * time.Millisecond

// Watch reports changes to supported files under dir until ctx is done.
// Subdirectories created after the watch starts are added too.
func Watch(ctx context.Context, dir string, debounce time.Duration, handle func(Change)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	pending := make(map[string]Change)
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						logger.Warn("watch %s: %v", ev.Name, err)
					}
					continue
				}
			}
			if !extract.Supported(ev.Name) {
				continue
			}
			removed := ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
			if !removed && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			pending[ev.Name] = Change{Path: ev.Name, Removed: removed}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher: %v", err)
		case <-timer.C:
			for _, c := range pending {
				handle(c)
			}
			pending = make(map[string]Change)
		}
	}
}
