package configstore

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 150 * time.Millisecond

// Watch reloads the file whenever it is edited outside the store and
// calls onChange after each accepted reload. It blocks until ctx is done.
// Invalid edits are logged and ignored.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("configstore: watch: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors and persist both replace the file by
	// rename, which drops a watch on the file itself.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("configstore: watch %s: %w", filepath.Dir(s.path), err)
	}
	target := filepath.Clean(s.path)
	s.logger.Debug("watching configuration file", "path", target)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				debounce = time.After(watchDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("configuration watcher error", "error", err)

		case <-debounce:
			debounce = nil
			changed, err := s.Reload()
			if err != nil {
				s.logger.Warn("ignoring configuration file change", "path", target, "error", err)
				continue
			}
			if changed && onChange != nil {
				onChange()
			}
		}
	}
}
