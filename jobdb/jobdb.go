// Package jobdb holds the static routing graph the daemon dispatches against:
// watched directories, their file groups and each group's destinations.
package jobdb

import (
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// WatchedDirectory is one polled source location.
type WatchedDirectory struct {
	ID    uint32
	Alias string
	// Path is the local directory that is scanned. For remote sources this is
	// the spool directory objects are retrieved into.
	Path string
	// Source is the configured location, either equal to Path or an s3:// URL.
	Source string
	Remote bool
	// SameFilesystem is true when Path shares a device with the work directory.
	SameFilesystem bool

	LastScan time.Time
	// LastModSeen is the directory mtime observed before the last pass that
	// left nothing behind, zero otherwise.
	LastModSeen time.Time

	AllFiles       bool
	FanOut         bool
	DeleteUnknown  bool
	UnknownFileAge time.Duration
	DeleteQueued   bool
	QueuedFileAge  time.Duration
	// EndCharacter is the required final byte of a complete file, or -1.
	EndCharacter int
	DoNotLink    bool
	MaxProcess   int

	Groups []*FileGroup
}

// FileGroup is an ordered pattern list and the destinations its files go to.
type FileGroup struct {
	Index        int
	Patterns     []string
	Destinations []*Destination
}

// Destination is one job descriptor within a group.
type Destination struct {
	Target          string
	Recipient       string
	Priority        byte
	LocalOptions    []string
	StandardOptions []string
	Window          TimeWindow

	AllowParallel    bool
	SplitLarge       bool
	RenameOneJobOnly bool

	descriptor JobDescriptor
	jobID      uint32
	resolved   bool
}

// Descriptor returns the identity tuple the registry deduplicates on.
func (d *Destination) Descriptor() JobDescriptor { return d.descriptor }

// JobID returns the lazily resolved job id.
func (d *Destination) JobID() (uint32, bool) { return d.jobID, d.resolved }

// SetJobID records the id the registry assigned to this destination.
func (d *Destination) SetJobID(id uint32) {
	d.jobID = id
	d.resolved = true
}

// JobDescriptor is the content that makes two jobs the same job.
type JobDescriptor struct {
	DirID           uint32
	Priority        byte
	Filters         []string
	LocalOptions    []string
	StandardOptions []string
	Recipient       string
}

// Equal compares every field, lists element by element.
func (d JobDescriptor) Equal(o JobDescriptor) bool {
	return d.DirID == o.DirID &&
		d.Priority == o.Priority &&
		d.Recipient == o.Recipient &&
		slices.Equal(d.Filters, o.Filters) &&
		slices.Equal(d.LocalOptions, o.LocalOptions) &&
		slices.Equal(d.StandardOptions, o.StandardOptions)
}

// String renders the descriptor as the text stored in message artifacts.
func (d JobDescriptor) String() string {
	var sb strings.Builder
	sb.WriteString("[destination]\n")
	sb.WriteString(d.Recipient)
	sb.WriteString("\n\n[filters]\n")
	for _, f := range d.Filters {
		sb.WriteString(f)
		sb.WriteByte('\n')
	}
	if len(d.LocalOptions) > 0 {
		sb.WriteString("\n[local options]\n")
		for _, o := range d.LocalOptions {
			sb.WriteString(o)
			sb.WriteByte('\n')
		}
	}
	if len(d.StandardOptions) > 0 {
		sb.WriteString("\n[options]\n")
		for _, o := range d.StandardOptions {
			sb.WriteString(o)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Classify returns the indexes of the groups that claim name. A negated
// match in any group rejects the file outright; rejected is then true.
func (w *WatchedDirectory) Classify(name string) (groups []int, rejected bool) {
	if len(name) > 0 && name[0] == '.' && !w.acceptsDotfiles() {
		return nil, false
	}
	if w.AllFiles {
		groups = make([]int, len(w.Groups))
		for i := range w.Groups {
			groups[i] = i
		}
		return groups, false
	}
	for i, g := range w.Groups {
		switch MatchFilters(g.Patterns, name) {
		case Reject:
			return nil, true
		case Accept:
			groups = append(groups, i)
			if !w.FanOut {
				return groups, false
			}
		}
	}
	return groups, false
}

func (w *WatchedDirectory) acceptsDotfiles() bool {
	for _, g := range w.Groups {
		if matchesDotfiles(g.Patterns) {
			return true
		}
	}
	return false
}

// Destinations returns every destination in the directory, in group order.
func (w *WatchedDirectory) Destinations() []*Destination {
	var out []*Destination
	for _, g := range w.Groups {
		out = append(out, g.Destinations...)
	}
	return out
}

// Targets returns the distinct target names used by the directory.
func (w *WatchedDirectory) Targets() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, d := range w.Destinations() {
		if _, ok := seen[d.Target]; ok {
			continue
		}
		seen[d.Target] = struct{}{}
		out = append(out, d.Target)
	}
	return out
}

// HoldingDir is where files for a paused target are parked.
func (w *WatchedDirectory) HoldingDir(target string) string {
	return filepath.Join(w.Path, "."+target)
}

// Database is the complete routing graph. It is not mutated after Build
// except for lazily resolved job ids and scan timestamps, both of which
// only the main loop touches.
type Database struct {
	Directories []*WatchedDirectory
	byAlias     map[string]*WatchedDirectory
	destCount   int
}

// Directory looks up a directory by alias.
func (db *Database) Directory(alias string) (*WatchedDirectory, bool) {
	d, ok := db.byAlias[alias]
	return d, ok
}

// DestinationCount is the number of destinations across all directories.
func (db *Database) DestinationCount() int { return db.destCount }
