package jobdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/franksops/gofanout/config"
)

// ErrMismatch means the built graph disagrees with the configuration it was
// built from and cannot be trusted.
var ErrMismatch = errors.New("job database does not match configuration")

// DirIDSource hands out stable numeric ids for directory keys.
type DirIDSource interface {
	DirectoryID(key string) (uint32, error)
}

// BuildOptions carries daemon-level settings Build needs.
type BuildOptions struct {
	WorkDir string
	// SpoolDir receives objects retrieved from remote sources.
	SpoolDir         string
	MaxProcessPerDir int
}

// Build turns a distribution config into a Database. Local directories are
// created when missing.
func Build(dist *config.Distribution, ids DirIDSource, opts BuildOptions) (*Database, error) {
	db := &Database{byAlias: make(map[string]*WatchedDirectory, len(dist.Directories))}

	workDev, err := deviceOf(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("stat work dir: %w", err)
	}

	for _, dc := range dist.Directories {
		dir, err := buildDirectory(dc, ids, opts)
		if err != nil {
			return nil, err
		}
		dev, err := deviceOf(dir.Path)
		if err != nil {
			return nil, fmt.Errorf("stat directory %s: %w", dir.Path, err)
		}
		dir.SameFilesystem = dev == workDev

		db.Directories = append(db.Directories, dir)
		db.byAlias[dir.Alias] = dir
		db.destCount += len(dir.Destinations())
	}

	if err := db.verify(); err != nil {
		return nil, err
	}
	return db, nil
}

func buildDirectory(dc config.DirectoryConfig, ids DirIDSource, opts BuildOptions) (*WatchedDirectory, error) {
	dir := &WatchedDirectory{
		Alias:          dc.Alias,
		Source:         dc.Path,
		Path:           dc.Path,
		AllFiles:       dc.AllFiles,
		FanOut:         dc.FanOut,
		DeleteUnknown:  dc.DeleteUnknown,
		UnknownFileAge: time.Duration(dc.UnknownFileAge) * time.Second,
		DeleteQueued:   dc.DeleteQueued,
		QueuedFileAge:  time.Duration(dc.QueuedFileAge) * time.Second,
		EndCharacter:   -1,
		DoNotLink:      dc.DoNotLink,
		MaxProcess:     dc.MaxProcess,
	}
	if strings.HasPrefix(dc.Path, "s3://") {
		dir.Remote = true
		dir.Path = filepath.Join(opts.SpoolDir, dc.Alias)
	}
	if dc.EndCharacter != nil {
		dir.EndCharacter = *dc.EndCharacter
	}
	if dir.MaxProcess <= 0 || (opts.MaxProcessPerDir > 0 && dir.MaxProcess > opts.MaxProcessPerDir) {
		dir.MaxProcess = opts.MaxProcessPerDir
	}

	id, err := ids.DirectoryID(dc.Alias + "|" + dc.Path)
	if err != nil {
		return nil, fmt.Errorf("directory id for %s: %w", dc.Alias, err)
	}
	dir.ID = id

	for gi, gc := range dc.Groups {
		group := &FileGroup{Index: gi, Patterns: append([]string(nil), gc.Patterns...)}
		for _, destCfg := range gc.Destinations {
			dest, err := buildDestination(dir.ID, group.Patterns, destCfg)
			if err != nil {
				return nil, fmt.Errorf("directory %s group %d: %w", dc.Alias, gi, err)
			}
			group.Destinations = append(group.Destinations, dest)
		}
		dir.Groups = append(dir.Groups, group)
	}
	return dir, nil
}

func buildDestination(dirID uint32, patterns []string, dc config.DestinationConfig) (*Destination, error) {
	policy := WindowNone
	switch dc.WindowPolicy {
	case config.WindowCollect:
		policy = WindowCollect
	case config.WindowSendOnly:
		policy = WindowSendOnly
	}
	window, err := ParseWindow(policy, dc.Window)
	if err != nil {
		return nil, err
	}

	dest := &Destination{
		Target:           dc.Target,
		Recipient:        dc.Recipient,
		Priority:         byte(dc.Priority),
		LocalOptions:     append([]string(nil), dc.LocalOptions...),
		StandardOptions:  append([]string(nil), dc.StandardOptions...),
		Window:           window,
		AllowParallel:    dc.Parallel,
		SplitLarge:       dc.SplitLarge,
		RenameOneJobOnly: dc.RenameOneJobOnly,
	}
	dest.descriptor = JobDescriptor{
		DirID:           dirID,
		Priority:        dest.Priority,
		Filters:         patterns,
		LocalOptions:    dest.LocalOptions,
		StandardOptions: dest.StandardOptions,
		Recipient:       dest.Recipient,
	}
	return dest, nil
}

// verify checks the directory ids handed out by the id source. Two
// directories sharing an id would share job ids and pool directories.
func (db *Database) verify() error {
	seen := make(map[uint32]string, len(db.Directories))
	for _, d := range db.Directories {
		if other, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: directories %s and %s share id %d", ErrMismatch, other, d.Alias, d.ID)
		}
		seen[d.ID] = d.Alias
	}
	return nil
}

func deviceOf(path string) (uint64, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return 0, err
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}
