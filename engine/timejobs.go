package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/franksops/gofanout/jobdb"
)

// ReleaseTimeJobs moves files saved for collect-window destinations into
// job directories once their window is open. It returns the number of jobs
// announced.
func (d *Dispatcher) ReleaseTimeJobs(ctx context.Context, db *jobdb.Database, now time.Time) (int, error) {
	released := 0
	for _, dir := range db.Directories {
		for _, dest := range dir.Destinations() {
			if dest.Window.Policy != jobdb.WindowCollect || !dest.Window.Contains(now) {
				continue
			}
			st := d.targets.Status(dest.Target)
			if st.Disabled || st.Paused {
				continue
			}
			n, err := d.releaseOne(ctx, dir, dest)
			released += n
			if err != nil {
				return released, err
			}
		}
	}
	return released, nil
}

func (d *Dispatcher) releaseOne(ctx context.Context, dir *jobdb.WatchedDirectory, dest *jobdb.Destination) (int, error) {
	jobID, ok := dest.JobID()
	if !ok {
		var err error
		if jobID, err = d.resolve(dest); err != nil {
			return 0, err
		}
	}
	timeDir := d.TimeDirFor(jobID)
	entries, err := os.ReadDir(timeDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("failed to read time directory", "job", jobID, "error", err)
		}
		return 0, nil
	}

	var files []CollectedFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, CollectedFile{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	if len(files) == 0 {
		return 0, nil
	}

	jobs := 0
	for _, chunk := range d.chunks(dest, files) {
		jobDir, created, seq, err := d.stager.MakeDir(ctx, d.opts.OutgoingDir, jobDirName(dest.Priority, jobID))
		if err != nil {
			return jobs, err
		}
		task := d.newTask(dir, dest, jobID, jobDir, created, seq)
		for _, f := range chunk {
			if err := os.Rename(filepath.Join(timeDir, f.Name), filepath.Join(jobDir, f.Name)); err != nil {
				d.logger.Warn("failed to release file", "job", jobID, "file", f.Name, "error", err)
				continue
			}
			task.Files++
			task.Bytes += f.Size
		}
		if task.Files == 0 {
			os.Remove(jobDir)
			continue
		}
		res := d.Finalize(ctx, task)
		if res.Err != nil && IsFatal(res.Err) {
			return jobs, res.Err
		}
		if res.Status == TaskDone {
			jobs++
		}
	}
	d.logger.Info("released time job", "dir", dir.Alias, "target", dest.Target, "job", jobID, "files", len(files))
	// Only succeeds once every file has moved.
	os.Remove(timeDir)
	return jobs, nil
}
