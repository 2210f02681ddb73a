package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/franksops/gofanout/handoff"
	"github.com/franksops/gofanout/jobdb"
	"github.com/franksops/gofanout/options"
	"github.com/franksops/gofanout/targets"
)

// Notifier accepts job-ready notifications.
type Notifier interface {
	Notify(ctx context.Context, n handoff.Notification) error
}

// Resolver maps a job descriptor to its job id.
type Resolver interface {
	Resolve(d jobdb.JobDescriptor) (uint32, error)
}

// Submitter runs tasks off the calling goroutine when it has room.
type Submitter interface {
	Submit(task DispatchTask) bool
}

// DispatcherOptions locates the work area.
type DispatcherOptions struct {
	OutgoingDir string
	TimeDir     string
	// MaxFilesToProcess is the chunk size for destinations that split
	// large batches.
	MaxFilesToProcess int
}

type action int

const (
	actSkip action = iota
	actHold
	actTimeSave
	actSend
)

func (a action) String() string {
	switch a {
	case actHold:
		return "hold"
	case actTimeSave:
		return "time-save"
	case actSend:
		return "send"
	default:
		return "skip"
	}
}

type plan struct {
	dest   *jobdb.Destination
	action action
	files  []CollectedFile
}

// Dispatcher fans collected batches out to their destinations.
type Dispatcher struct {
	opts     DispatcherOptions
	mover    *Mover
	stager   *Stager
	counters *Counters
	targets  targets.Table
	resolver Resolver
	notifier Notifier
	pool     Submitter
	logger   *slog.Logger
}

// NewDispatcher wires the collaborators a dispatch needs.
func NewDispatcher(opts DispatcherOptions, mover *Mover, stager *Stager, counters *Counters,
	table targets.Table, resolver Resolver, notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		opts:     opts,
		mover:    mover,
		stager:   stager,
		counters: counters,
		targets:  table,
		resolver: resolver,
		notifier: notifier,
		logger:   logger.With("component", "dispatcher"),
	}
}

// SetPool enables offloading of parallel destinations to pool.
func (d *Dispatcher) SetPool(pool Submitter) { d.pool = pool }

// decide evaluates a destination's target state and time window.
func (d *Dispatcher) decide(dest *jobdb.Destination, now time.Time) action {
	st := d.targets.Status(dest.Target)
	switch {
	case st.Disabled:
		return actSkip
	case st.Paused:
		return actHold
	}
	switch dest.Window.Policy {
	case jobdb.WindowCollect:
		if !dest.Window.Contains(now) {
			return actTimeSave
		}
	case jobdb.WindowSendOnly:
		if !dest.Window.Contains(now) {
			return actSkip
		}
	}
	return actSend
}

// Dispatch distributes batch to every destination of the groups that
// claimed its files, then clears the staging directory. Files no active
// destination claimed are discarded. Claimed files that could not be placed
// go back to batch.Source for the next pass.
func (d *Dispatcher) Dispatch(ctx context.Context, batch *FileBatch, now time.Time) (Outcome, error) {
	out := Outcome{StillFull: batch.More}
	if batch.StagingDir == "" {
		return out, nil
	}
	out, err := d.dispatch(ctx, batch, now)
	d.settle(ctx, batch)
	return out, err
}

func (d *Dispatcher) dispatch(ctx context.Context, batch *FileBatch, now time.Time) (Outcome, error) {
	out := Outcome{StillFull: batch.More}
	dir := batch.Dir

	var plans []plan
	refs := make(map[string]int, batch.Len())
	for gi, group := range dir.Groups {
		files := batch.FilesFor(gi)
		if len(files) == 0 {
			continue
		}
		for _, dest := range group.Destinations {
			if batch.OnlyTarget != "" && dest.Target != batch.OnlyTarget {
				continue
			}
			act := d.decide(dest, now)
			if act == actSkip {
				d.logger.Debug("destination skipped", "dir", dir.Alias, "target", dest.Target)
				continue
			}
			plans = append(plans, plan{dest: dest, action: act, files: files})
			for _, f := range files {
				refs[f.Name]++
				batch.claimed(f.Name)
			}
		}
	}

	if d.renameWholeBatch(plans, batch) {
		n, err := d.sendStaging(ctx, dir, plans[0].dest, batch)
		out.Offloaded += n
		if err != nil {
			return out, err
		}
		out.Handled += batch.Len()
		return out, nil
	}

	// place puts a staged file at dst. The last reference takes the file
	// itself; earlier ones get a link or a copy.
	place := func(name, dst string, sameFS bool) error {
		src := filepath.Join(batch.StagingDir, name)
		refs[name]--
		if refs[name] == 0 {
			return d.mover.Move(ctx, src, dst, sameFS)
		}
		return d.mover.Link(ctx, src, dst, sameFS && !dir.DoNotLink)
	}
	// release gives up a plan's references so a later destination can take
	// the files by move.
	release := func(files []CollectedFile) {
		for _, f := range files {
			refs[f.Name]--
		}
	}

	for _, p := range plans {
		var (
			n   int
			off int
			err error
		)
		switch p.action {
		case actHold:
			n = d.hold(dir, p, place, release)
		case actTimeSave:
			n, err = d.timeSave(dir, p, place, release)
		case actSend:
			n, off, err = d.send(ctx, dir, p, place)
		}
		out.Handled += n
		out.Offloaded += off
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// renameWholeBatch reports whether the staging directory can become the job
// directory as is.
func (d *Dispatcher) renameWholeBatch(plans []plan, batch *FileBatch) bool {
	if len(plans) != 1 || plans[0].action != actSend || !plans[0].dest.RenameOneJobOnly {
		return false
	}
	if len(plans[0].files) != batch.Len() {
		return false
	}
	return !plans[0].dest.SplitLarge || d.opts.MaxFilesToProcess <= 0 || batch.Len() <= d.opts.MaxFilesToProcess
}

func (d *Dispatcher) sendStaging(ctx context.Context, dir *jobdb.WatchedDirectory, dest *jobdb.Destination, batch *FileBatch) (int, error) {
	jobID, err := d.resolve(dest)
	if err != nil {
		return 0, err
	}
	jobDir, created, seq, err := d.stager.MakeDir(ctx, d.opts.OutgoingDir, jobDirName(dest.Priority, jobID))
	if err != nil {
		return 0, err
	}
	if err := os.Rename(batch.StagingDir, jobDir); err != nil {
		d.logger.Warn("failed to rename staging directory", "dir", dir.Alias, "error", err)
		os.Remove(jobDir)
		return 0, fmt.Errorf("rename %s: %w", batch.StagingDir, err)
	}
	task := d.newTask(dir, dest, jobID, jobDir, created, seq)
	task.Files = batch.Len()
	task.Bytes = batch.Bytes
	return d.run(ctx, dest, task)
}

func (d *Dispatcher) hold(dir *jobdb.WatchedDirectory, p plan, place func(string, string, bool) error, release func([]CollectedFile)) int {
	holdDir := dir.HoldingDir(p.dest.Target)
	if err := os.MkdirAll(holdDir, 0o755); err != nil {
		d.logger.Error("failed to create holding directory", "dir", dir.Alias, "target", p.dest.Target, "error", err)
		release(p.files)
		return 0
	}

	var files, replaced int
	var bytes, replacedBytes int64
	for _, f := range p.files {
		dst := filepath.Join(holdDir, f.Name)
		if size, ok := removeExisting(dst); ok {
			replaced++
			replacedBytes += size
		}
		if err := place(f.Name, dst, dir.SameFilesystem); err != nil {
			d.logger.Warn("failed to hold file", "dir", dir.Alias, "target", p.dest.Target, "file", f.Name, "error", err)
			continue
		}
		files++
		bytes += f.Size
	}
	d.counters.Target(p.dest.Target, func(st *TargetStats) {
		st.FilesQueued = max(0, st.FilesQueued+int64(files-replaced))
		st.BytesQueued = max(0, st.BytesQueued+bytes-replacedBytes)
	})
	if files > 0 {
		d.logger.Info("target paused, holding files", "dir", dir.Alias, "target", p.dest.Target, "files", files)
	}
	return files
}

func (d *Dispatcher) timeSave(dir *jobdb.WatchedDirectory, p plan, place func(string, string, bool) error, release func([]CollectedFile)) (int, error) {
	jobID, err := d.resolve(p.dest)
	if err != nil {
		return 0, err
	}
	timeDir := d.TimeDirFor(jobID)
	if err := os.MkdirAll(timeDir, 0o755); err != nil {
		d.logger.Error("failed to create time directory", "dir", dir.Alias, "job", jobID, "error", err)
		release(p.files)
		return 0, nil
	}
	n := 0
	for _, f := range p.files {
		dst := filepath.Join(timeDir, f.Name)
		removeExisting(dst)
		if err := place(f.Name, dst, true); err != nil {
			d.logger.Warn("failed to save file for time window", "dir", dir.Alias, "job", jobID, "file", f.Name, "error", err)
			continue
		}
		n++
	}
	d.logger.Debug("outside window, saved files", "dir", dir.Alias, "job", jobID, "files", n, "next", p.dest.Window.NextStart(time.Now()))
	return n, nil
}

func (d *Dispatcher) send(ctx context.Context, dir *jobdb.WatchedDirectory, p plan, place func(string, string, bool) error) (int, int, error) {
	jobID, err := d.resolve(p.dest)
	if err != nil {
		return 0, 0, err
	}
	var handled, offloaded int
	for _, chunk := range d.chunks(p.dest, p.files) {
		jobDir, created, seq, err := d.stager.MakeDir(ctx, d.opts.OutgoingDir, jobDirName(p.dest.Priority, jobID))
		if err != nil {
			return handled, offloaded, err
		}
		task := d.newTask(dir, p.dest, jobID, jobDir, created, seq)
		for _, f := range chunk {
			if err := place(f.Name, filepath.Join(jobDir, f.Name), true); err != nil {
				d.logger.Warn("failed to stage file", "dir", dir.Alias, "job", jobID, "file", f.Name, "error", err)
				continue
			}
			task.Files++
			task.Bytes += f.Size
		}
		if task.Files == 0 {
			os.Remove(jobDir)
			continue
		}
		handled += task.Files
		n, err := d.run(ctx, p.dest, task)
		offloaded += n
		if err != nil {
			return handled, offloaded, err
		}
	}
	return handled, offloaded, nil
}

// run hands task to the pool when the destination allows it and the pool
// has room, else finalizes it here. It returns 1 when offloaded.
func (d *Dispatcher) run(ctx context.Context, dest *jobdb.Destination, task DispatchTask) (int, error) {
	if dest.AllowParallel && d.pool != nil && d.pool.Submit(task) {
		return 1, nil
	}
	res := d.Finalize(ctx, task)
	if res.Err != nil && IsFatal(res.Err) {
		return 0, res.Err
	}
	return 0, nil
}

// Finalize applies local options to a job directory and announces it.
func (d *Dispatcher) Finalize(ctx context.Context, task DispatchTask) TaskResult {
	start := time.Now()
	res := TaskResult{Task: task, Status: TaskDone}
	defer func() { res.Duration = time.Since(start) }()

	files, bytes := task.Files, task.Bytes
	if len(task.LocalOptions) > 0 {
		var err error
		files, bytes, err = options.Apply(ctx, task.JobDir, task.LocalOptions, d.logger)
		if err != nil {
			res.Status, res.Err = TaskFailed, err
			return res
		}
	}
	if files == 0 {
		if err := os.RemoveAll(task.JobDir); err != nil {
			d.logger.Warn("failed to remove empty job directory", "path", task.JobDir, "error", err)
		}
		res.Status = TaskNoFiles
		return res
	}

	d.counters.Target(task.Target, func(st *TargetStats) {
		st.Jobs++
		st.FilesToSend += int64(files)
		st.BytesToSend += bytes
	})

	err := d.notifier.Notify(ctx, handoff.Notification{
		Created:  task.Created,
		JobID:    task.JobID,
		Sequence: task.Sequence,
		Priority: task.Priority,
	})
	if err != nil {
		res.Status, res.Err = TaskFailed, fatal(err)
		return res
	}
	d.logger.Debug("job ready", "dir", task.DirAlias, "target", task.Target, "job", task.JobID, "files", files, "bytes", bytes)
	return res
}

func (d *Dispatcher) resolve(dest *jobdb.Destination) (uint32, error) {
	id, err := d.resolver.Resolve(dest.Descriptor())
	if err != nil {
		return 0, err
	}
	dest.SetJobID(id)
	return id, nil
}

func (d *Dispatcher) newTask(dir *jobdb.WatchedDirectory, dest *jobdb.Destination, jobID uint32, jobDir string, created time.Time, seq uint16) DispatchTask {
	return DispatchTask{
		DirID:        dir.ID,
		DirAlias:     dir.Alias,
		MaxPerDir:    dir.MaxProcess,
		Target:       dest.Target,
		JobID:        jobID,
		Priority:     dest.Priority,
		JobDir:       jobDir,
		Created:      created,
		Sequence:     seq,
		LocalOptions: dest.LocalOptions,
	}
}

func (d *Dispatcher) chunks(dest *jobdb.Destination, files []CollectedFile) [][]CollectedFile {
	size := d.opts.MaxFilesToProcess
	if !dest.SplitLarge || size <= 0 || len(files) <= size {
		return [][]CollectedFile{files}
	}
	var out [][]CollectedFile
	for len(files) > size {
		out = append(out, files[:size])
		files = files[size:]
	}
	return append(out, files)
}

// settle empties the staging directory. Files a destination claimed but
// never received are moved back to the batch source; the rest had no active
// destination and are discarded. A file that cannot be returned keeps the
// staging directory alive for pool recovery.
func (d *Dispatcher) settle(ctx context.Context, batch *FileBatch) {
	dir, staging := batch.Dir, batch.StagingDir
	entries, err := os.ReadDir(staging)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		d.logger.Warn("failed to read staging directory", "path", staging, "error", err)
		return
	}

	var returned, discarded, stuck int
	var returnedBytes int64
	for _, e := range entries {
		name := e.Name()
		src := filepath.Join(staging, name)
		if !batch.isClaimed(name) {
			if err := os.RemoveAll(src); err != nil {
				stuck++
				continue
			}
			discarded++
			continue
		}
		dst := filepath.Join(batch.Source, name)
		if _, err := os.Lstat(dst); !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("cannot return file, name taken", "dir", dir.Alias, "file", name)
			stuck++
			continue
		}
		if err := d.mover.Move(ctx, src, dst, true); err != nil {
			d.logger.Error("failed to return file", "dir", dir.Alias, "file", name, "error", err)
			stuck++
			continue
		}
		returned++
		returnedBytes += batch.sizeOf(name)
	}

	if discarded > 0 || returned > 0 {
		d.counters.Dir(dir.Alias, func(st *DirStats) {
			st.FilesDiscarded += int64(discarded)
			st.FilesReturned += int64(returned)
		})
	}
	if discarded > 0 {
		d.logger.Info("discarded files with no active destination", "dir", dir.Alias, "files", discarded)
	}
	if returned > 0 {
		d.logger.Warn("returned files that could not be placed", "dir", dir.Alias, "files", returned, "to", batch.Source)
		if batch.OnlyTarget != "" {
			d.counters.Target(batch.OnlyTarget, func(st *TargetStats) {
				st.FilesQueued += int64(returned)
				st.BytesQueued += returnedBytes
			})
		}
	}
	if stuck > 0 {
		d.logger.Error("staging directory kept for recovery", "path", staging, "files", stuck)
		return
	}
	if err := os.Remove(staging); err != nil {
		d.logger.Warn("failed to remove staging directory", "path", staging, "error", err)
	}
}

// TimeDirFor is where files for jobID wait for their window.
func (d *Dispatcher) TimeDirFor(jobID uint32) string {
	return filepath.Join(d.opts.TimeDir, strconv.FormatUint(uint64(jobID), 10))
}

func jobDirName(priority byte, jobID uint32) func(time.Time, uint16) string {
	return func(created time.Time, seq uint16) string {
		return handoff.JobDirName(priority, created.Unix(), seq, jobID)
	}
}

// removeExisting deletes a file about to be replaced and returns its size.
func removeExisting(path string) (int64, bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, false
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, false
	}
	return info.Size(), true
}
