package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/franksops/gofanout/jobdb"
)

// dirWatcher turns file creation in local watched directories into scan
// requests. Polling still runs; this only shortens the delay.
type dirWatcher struct {
	w      *fsnotify.Watcher
	logger *slog.Logger
	out    chan string

	mu      sync.Mutex
	aliases map[string]string
}

func newDirWatcher(logger *slog.Logger, hint int) (*dirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &dirWatcher{
		w:       w,
		logger:  logger.With("component", "watcher"),
		out:     make(chan string, 64),
		aliases: make(map[string]string, hint),
	}, nil
}

// Set replaces the watched set with the local directories of db.
func (dw *dirWatcher) Set(db *jobdb.Database) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	want := make(map[string]string, len(db.Directories))
	for _, dir := range db.Directories {
		want[filepath.Clean(dir.Path)] = dir.Alias
	}
	for path := range dw.aliases {
		if _, ok := want[path]; !ok {
			_ = dw.w.Remove(path)
		}
	}
	for path, alias := range want {
		if _, ok := dw.aliases[path]; ok {
			continue
		}
		if err := dw.w.Add(path); err != nil {
			dw.logger.Warn("cannot watch directory, relying on rescans", "dir", alias, "error", err)
			delete(want, path)
		}
	}
	dw.aliases = want
}

// Requests delivers directory aliases that have new files.
func (dw *dirWatcher) Requests() <-chan string { return dw.out }

// Run forwards events until ctx is done.
func (dw *dirWatcher) Run(ctx context.Context) error {
	defer dw.w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-dw.w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			dw.mu.Lock()
			alias, ok := dw.aliases[filepath.Dir(ev.Name)]
			dw.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case dw.out <- alias:
			default:
			}
		case err, ok := <-dw.w.Errors:
			if !ok {
				return nil
			}
			dw.logger.Warn("watcher error", "error", err)
		}
	}
}
