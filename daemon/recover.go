package daemon

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// recoverPool returns files left in pool staging directories by an
// interrupted run to the directory they were collected from.
func (d *Daemon) recoverPool() {
	pool := d.cfg.PoolDir()
	entries, err := os.ReadDir(pool)
	if err != nil {
		return
	}
	byID := make(map[uint32]string, len(d.db.Directories))
	for _, dir := range d.db.Directories {
		byID[dir.ID] = dir.Path
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		staging := filepath.Join(pool, e.Name())
		target, ok := byID[poolDirID(e.Name())]
		if !ok {
			d.logger.Warn("pool directory of unknown origin left in place", "path", staging)
			continue
		}
		files, err := os.ReadDir(staging)
		if err != nil {
			continue
		}
		moved := 0
		for _, f := range files {
			dst := filepath.Join(target, f.Name())
			if _, err := os.Lstat(dst); !errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err := os.Rename(filepath.Join(staging, f.Name()), dst); err != nil {
				d.logger.Warn("failed to recover staged file", "file", f.Name(), "error", err)
				continue
			}
			moved++
		}
		if moved == len(files) {
			os.Remove(staging)
		}
		d.logger.Info("recovered interrupted batch", "path", staging, "files", moved)
	}
}

// poolDirID extracts the directory id from <sec>_<counter>_<dirid>.
func poolDirID(name string) uint32 {
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return ^uint32(0)
	}
	id, err := strconv.ParseUint(name[i+1:], 10, 32)
	if err != nil {
		return ^uint32(0)
	}
	return uint32(id)
}
