package engine

import (
	"errors"
	"time"

	"github.com/franksops/gofanout/jobdb"
)

// CollectedFile is one file moved into a staging directory.
type CollectedFile struct {
	Name    string
	Size    int64
	ModTime time.Time
	// Groups are the indexes of the file groups that claimed the file.
	Groups []int
}

// FileBatch is the result of one collect pass over a directory.
type FileBatch struct {
	Dir        *jobdb.WatchedDirectory
	StagingDir string
	// Source is the directory the files were taken from: the watched
	// directory itself or a target's holding directory.
	Source  string
	Created time.Time
	Files   []CollectedFile
	Bytes   int64

	// More is set when a quota stopped the pass early.
	More bool
	// Deferred counts files skipped because their last byte was not the
	// configured end character yet.
	Deferred int
	// OnlyTarget restricts dispatch to one target's destinations. It is set
	// for files released from a paused target's holding directory.
	OnlyTarget string

	// wanted holds the files at least one active destination planned for.
	wanted map[string]bool
	// skipped counts files that could not be taken this pass.
	skipped int
	// unknownLeft counts unmatched files still waiting for their age limit.
	unknownLeft int
}

// complete reports whether the pass took everything it could. Only then is
// an unchanged directory safe to skip: unknown files still awaiting
// deletion need rescans to age out.
func (b *FileBatch) complete(dir *jobdb.WatchedDirectory) bool {
	if b.More || b.Deferred > 0 || b.skipped > 0 {
		return false
	}
	return !dir.DeleteUnknown || b.unknownLeft == 0
}

func (b *FileBatch) claimed(name string) {
	if b.wanted == nil {
		b.wanted = make(map[string]bool, len(b.Files))
	}
	b.wanted[name] = true
}

func (b *FileBatch) isClaimed(name string) bool { return b.wanted[name] }

func (b *FileBatch) sizeOf(name string) int64 {
	for _, f := range b.Files {
		if f.Name == name {
			return f.Size
		}
	}
	return 0
}

// Len is the number of collected files.
func (b *FileBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Files)
}

// FilesFor returns the files claimed by group.
func (b *FileBatch) FilesFor(group int) []CollectedFile {
	var out []CollectedFile
	for _, f := range b.Files {
		for _, g := range f.Groups {
			if g == group {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// DispatchTask is a finished job directory waiting for its local options
// and notification.
type DispatchTask struct {
	DirID     uint32
	DirAlias  string
	MaxPerDir int

	Target       string
	JobID        uint32
	Priority     byte
	JobDir       string
	Created      time.Time
	Sequence     uint16
	LocalOptions []string

	Files int
	Bytes int64
}

// TaskStatus is how a finalize step ended.
type TaskStatus int

const (
	TaskDone TaskStatus = iota
	// TaskNoFiles means local options left nothing to send.
	TaskNoFiles
	TaskFailed
	// TaskAbnormal means the worker panicked.
	TaskAbnormal
)

func (s TaskStatus) String() string {
	switch s {
	case TaskDone:
		return "done"
	case TaskNoFiles:
		return "no files"
	case TaskFailed:
		return "failed"
	case TaskAbnormal:
		return "abnormal"
	default:
		return "unknown"
	}
}

// TaskResult reports a finished DispatchTask.
type TaskResult struct {
	Task     DispatchTask
	Status   TaskStatus
	Err      error
	Duration time.Duration

	slot int
}

// Outcome summarizes one Dispatch call.
type Outcome struct {
	// Handled counts file placements: staged for sending, held or saved
	// for a time window.
	Handled int
	// Offloaded counts tasks handed to the worker pool.
	Offloaded int
	// StillFull is set when the directory had more files than one batch.
	StillFull bool
}

// FatalError marks a failure after which the daemon must stop.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
