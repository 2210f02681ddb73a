package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/franksops/gofanout/jobdb"
)

// partSuffix marks a remote object still being retrieved.
const partSuffix = ".part"

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Queued   int
	Partials int
}

// Sweeper deletes files that have waited too long: files held for a paused
// target past the directory's queued-file age, and abandoned partial
// retrievals.
type Sweeper struct {
	counters *Counters
	logger   *slog.Logger
}

// NewSweeper returns a Sweeper that records deletions in counters.
func NewSweeper(counters *Counters, logger *slog.Logger) *Sweeper {
	return &Sweeper{counters: counters, logger: logger.With("component", "sweeper")}
}

// Sweep walks every directory in db once.
func (s *Sweeper) Sweep(ctx context.Context, db *jobdb.Database, now time.Time) (SweepResult, error) {
	var res SweepResult
	for _, dir := range db.Directories {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if dir.DeleteQueued {
			for _, target := range dir.Targets() {
				res.Queued += s.sweepHeld(dir, target, now)
			}
		}
		if dir.Remote {
			res.Partials += s.sweepPartials(dir, now)
		}
	}
	if res.Queued > 0 || res.Partials > 0 {
		s.logger.Info("sweep removed stale files", "queued", res.Queued, "partials", res.Partials)
	}
	return res, nil
}

func (s *Sweeper) sweepHeld(dir *jobdb.WatchedDirectory, target string, now time.Time) int {
	holdDir := dir.HoldingDir(target)
	entries, err := os.ReadDir(holdDir)
	if err != nil {
		return 0
	}
	var files int
	var bytes int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) <= dir.QueuedFileAge {
			continue
		}
		if err := os.Remove(filepath.Join(holdDir, e.Name())); err != nil {
			s.logger.Warn("failed to delete queued file", "dir", dir.Alias, "target", target, "file", e.Name(), "error", err)
			continue
		}
		files++
		bytes += info.Size()
	}
	if files == 0 {
		return 0
	}
	s.counters.Target(target, func(st *TargetStats) {
		st.FilesQueued = max(0, st.FilesQueued-int64(files))
		st.BytesQueued = max(0, st.BytesQueued-bytes)
	})
	s.counters.Dir(dir.Alias, func(st *DirStats) { st.AgeDeleted += int64(files) })
	s.logger.Info("deleted aged queued files", "dir", dir.Alias, "target", target, "files", files, "bytes", bytes)
	return files
}

func (s *Sweeper) sweepPartials(dir *jobdb.WatchedDirectory, now time.Time) int {
	entries, err := os.ReadDir(dir.Path)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, partSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) <= dir.UnknownFileAge {
			continue
		}
		if err := os.Remove(filepath.Join(dir.Path, name)); err == nil {
			n++
		}
	}
	return n
}
