// Package targets exposes the liveness state of transfer targets. The state
// is owned by the health monitor; the dispatcher only reads it.
package targets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

// State is the liveness of one target.
type State struct {
	Disabled   bool `toml:"disabled" json:"disabled"`
	Paused     bool `toml:"paused" json:"paused"`
	ErrorCount int  `toml:"error_count" json:"error_count"`
}

// Table answers liveness queries.
type Table interface {
	Status(target string) State
}

// Static is a fixed table. Unknown targets are active.
type Static map[string]State

// Status returns the state listed for target.
func (s Static) Status(target string) State { return s[target] }

type fileFormat struct {
	Targets map[string]State `toml:"target"`
}

// FileTable is a Table backed by a TOML file that other processes edit.
type FileTable struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]State
}

// OpenFile loads path. A missing file is an empty table.
func OpenFile(path string, logger *slog.Logger) (*FileTable, error) {
	t := &FileTable{
		path:    path,
		lock:    flock.New(path + ".lock"),
		logger:  logger.With("component", "targets"),
		entries: map[string]State{},
	}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Status returns the state of target as of the last reload. Unknown
// targets are active.
func (t *FileTable) Status(target string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[target]
}

// Snapshot copies the current table.
func (t *FileTable) Snapshot() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]State, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Reload rereads the file.
func (t *FileTable) Reload() error {
	entries, err := readFile(t.path)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
	return nil
}

// Update applies fn to one target's state under the file lock and writes
// the table back.
func (t *FileTable) Update(target string, fn func(*State)) error {
	if err := t.lock.Lock(); err != nil {
		return fmt.Errorf("lock targets file: %w", err)
	}
	defer t.lock.Unlock()

	entries, err := readFile(t.path)
	if err != nil {
		return err
	}
	st := entries[target]
	fn(&st)
	entries[target] = st

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(fileFormat{Targets: entries}); err != nil {
		return fmt.Errorf("encode targets: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write targets: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replace targets: %w", err)
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
	return nil
}

// Watch reloads the table whenever the file changes, until ctx is done.
// The parent directory is watched so atomic replacements are seen.
func (t *FileTable) Watch(ctx context.Context, changed func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(t.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := t.Reload(); err != nil {
				t.logger.Warn("reload targets failed", "error", err)
				continue
			}
			t.logger.Debug("targets reloaded")
			if changed != nil {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("targets watcher error", "error", err)
		}
	}
}

func readFile(path string) (map[string]State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	var f fileFormat
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}
	if f.Targets == nil {
		f.Targets = map[string]State{}
	}
	return f.Targets, nil
}
