package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/franksops/gofanout/jobdb"
	"github.com/franksops/gofanout/provider"
)

// ScannerOptions bound a single collect pass.
type ScannerOptions struct {
	PoolDir  string
	MaxFiles int
	MaxBytes int64
	// InputRecords logs one record per collected file.
	InputRecords bool
}

// Scanner moves new files out of watched directories into pool staging
// directories.
type Scanner struct {
	opts     ScannerOptions
	local    *provider.LocalProvider
	mover    *Mover
	stager   *Stager
	counters *Counters
	logger   *slog.Logger
	uid, gid int
}

// NewScanner returns a Scanner that stages collected files with stager
// and moves them with mover.
func NewScanner(opts ScannerOptions, mover *Mover, stager *Stager, counters *Counters, logger *slog.Logger) *Scanner {
	return &Scanner{
		opts:     opts,
		local:    provider.NewLocalProvider(""),
		mover:    mover,
		stager:   stager,
		counters: counters,
		logger:   logger.With("component", "scanner"),
		uid:      os.Geteuid(),
		gid:      os.Getegid(),
	}
}

// Collect gathers up to one batch of new files from dir. A batch with More
// set means the quota was hit and the caller should collect again.
func (s *Scanner) Collect(ctx context.Context, dir *jobdb.WatchedDirectory, now time.Time) (*FileBatch, error) {
	// Taken before listing so a file arriving mid-pass changes it again.
	before, statErr := os.Stat(dir.Path)

	batch, err := s.collect(ctx, dir, dir.Path, "", now)
	if err != nil {
		dir.LastModSeen = time.Time{}
		return batch, err
	}

	s.counters.Dir(dir.Alias, func(st *DirStats) {
		st.FilesReceived += int64(batch.Len())
		st.BytesReceived += batch.Bytes
		st.LastScan = now
	})
	dir.LastScan = now
	dir.LastModSeen = time.Time{}
	if statErr == nil && batch.complete(dir) && now.Sub(before.ModTime()) >= modTimeGranularity {
		dir.LastModSeen = before.ModTime()
	}
	return batch, nil
}

// modTimeGranularity covers filesystems that store whole-second mtimes.
const modTimeGranularity = time.Second

// Unchanged reports whether dir still carries the modification time seen
// before its last complete pass, so listing it again would find nothing.
func (s *Scanner) Unchanged(dir *jobdb.WatchedDirectory) bool {
	if dir.LastModSeen.IsZero() {
		return false
	}
	info, err := os.Stat(dir.Path)
	return err == nil && info.ModTime().Equal(dir.LastModSeen)
}

// CollectHeld gathers files parked for target while it was paused. The
// batch only dispatches to that target's destinations.
func (s *Scanner) CollectHeld(ctx context.Context, dir *jobdb.WatchedDirectory, target string, now time.Time) (*FileBatch, error) {
	batch, err := s.collect(ctx, dir, dir.HoldingDir(target), target, now)
	if err != nil {
		return batch, err
	}
	batch.OnlyTarget = target
	if batch.Len() > 0 {
		s.counters.Target(target, func(st *TargetStats) {
			st.FilesQueued = max(0, st.FilesQueued-int64(batch.Len()))
			st.BytesQueued = max(0, st.BytesQueued-batch.Bytes)
		})
	}
	return batch, nil
}

func (s *Scanner) collect(ctx context.Context, dir *jobdb.WatchedDirectory, src, held string, now time.Time) (*FileBatch, error) {
	batch := &FileBatch{Dir: dir, Source: src}

	entries, err := s.local.List(ctx, src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && held != "" {
			return batch, nil
		}
		return batch, fmt.Errorf("list %s: %w", src, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		if entry.IsDir() {
			continue
		}
		info, ok := entry.(provider.UnixFileInfo)
		if !ok || !info.IsRegular() {
			continue
		}
		name := info.Name()
		path := filepath.Join(src, name)

		groups, rejected := dir.Classify(name)
		if len(groups) == 0 {
			if held == "" && (rejected || name[0] != '.') && !s.unknown(dir, path, info, now) {
				batch.unknownLeft++
			}
			continue
		}
		if held != "" && !claimsTarget(dir, groups, held) {
			continue
		}
		if !provider.Readable(info, s.uid, s.gid) {
			s.logger.Warn("file not readable, skipping", "dir", dir.Alias, "file", name)
			batch.skipped++
			continue
		}
		if held == "" && dir.EndCharacter >= 0 && !endsWith(path, info.Size(), byte(dir.EndCharacter)) {
			batch.Deferred++
			continue
		}

		if s.opts.MaxFiles > 0 && batch.Len() >= s.opts.MaxFiles {
			batch.More = true
			break
		}
		// The first file is always admitted so an oversize file cannot
		// stall the directory.
		if s.opts.MaxBytes > 0 && batch.Len() > 0 && batch.Bytes+info.Size() > s.opts.MaxBytes {
			batch.More = true
			break
		}

		if batch.StagingDir == "" {
			staging, created, _, err := s.stager.MakeDir(ctx, s.opts.PoolDir, PoolName(dir.ID))
			if err != nil {
				return batch, err
			}
			batch.StagingDir = staging
			batch.Created = created
		}

		if err := s.mover.Move(ctx, path, filepath.Join(batch.StagingDir, name), dir.SameFilesystem); err != nil {
			s.logger.Warn("failed to move file into staging", "dir", dir.Alias, "file", name, "error", err)
			batch.skipped++
			continue
		}
		batch.Files = append(batch.Files, CollectedFile{
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Groups:  groups,
		})
		batch.Bytes += info.Size()

		if s.opts.InputRecords {
			s.logger.Info("input", "dir", dir.Alias, "file", name, "size", info.Size(), "mtime", info.ModTime())
		}
	}
	return batch, nil
}

// unknown deletes an unmatched file once it is old enough. It reports
// whether the file is gone.
func (s *Scanner) unknown(dir *jobdb.WatchedDirectory, path string, info provider.FileInfo, now time.Time) bool {
	if !dir.DeleteUnknown || now.Sub(info.ModTime()) <= dir.UnknownFileAge {
		return false
	}
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to delete unknown file", "dir", dir.Alias, "file", info.Name(), "error", err)
			return false
		}
		return true
	}
	s.logger.Info("deleted unknown file", "dir", dir.Alias, "file", info.Name(), "size", info.Size())
	s.counters.Dir(dir.Alias, func(st *DirStats) { st.UnknownDeleted++ })
	return true
}

func claimsTarget(dir *jobdb.WatchedDirectory, groups []int, target string) bool {
	for _, g := range groups {
		for _, d := range dir.Groups[g].Destinations {
			if d.Target == target {
				return true
			}
		}
	}
	return false
}

// endsWith reports whether the last byte of the file is c. Empty files
// never qualify.
func endsWith(path string, size int64, c byte) bool {
	if size <= 0 {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var b [1]byte
	if _, err := f.ReadAt(b[:], size-1); err != nil {
		return false
	}
	return b[0] == c
}
