package shellstate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/g960059/agthud/internal/logging"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reports changes to one snapshot file. The parent directory is
// watched so atomic rename-into-place writes are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(path string, logger *slog.Logger) *Watcher {
	return &Watcher{path: filepath.Clean(path), debounce: defaultDebounce, logger: logging.OrDiscard(logger)}
}

// Run calls onChange after each burst of writes until ctx is done.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create snapshot watcher: %w", err)
	}
	defer fw.Close() //nolint:errcheck
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("shell snapshot watcher error", "path", w.path, "error", err)
		case <-timer.C:
			onChange()
		}
	}
}
