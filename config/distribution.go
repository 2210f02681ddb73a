package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Window policies accepted in a destination's window_policy field.
const (
	WindowNone     = "none"
	WindowCollect  = "collect"
	WindowSendOnly = "send-only"
)

// Distribution is the directory/group/destination graph the job database is
// built from.
type Distribution struct {
	Directories []DirectoryConfig `toml:"directory"`
}

// DirectoryConfig describes one watched directory. Path may be a local path
// or an s3://bucket/prefix URL.
type DirectoryConfig struct {
	Alias          string        `toml:"alias"`
	Path           string        `toml:"path"`
	AllFiles       bool          `toml:"all_files"`
	FanOut         bool          `toml:"fan_out"`
	DeleteUnknown  bool          `toml:"delete_unknown"`
	UnknownFileAge int           `toml:"unknown_file_age"`
	DeleteQueued   bool          `toml:"delete_queued"`
	QueuedFileAge  int           `toml:"queued_file_age"`
	EndCharacter   *int          `toml:"end_character"`
	DoNotLink      bool          `toml:"do_not_link"`
	MaxProcess     int           `toml:"max_process"`
	Groups         []GroupConfig `toml:"group"`
}

// GroupConfig is an ordered pattern list sharing one destination list.
type GroupConfig struct {
	Patterns     []string            `toml:"patterns"`
	Destinations []DestinationConfig `toml:"destination"`
}

// DestinationConfig is one job descriptor.
type DestinationConfig struct {
	Target           string   `toml:"target"`
	Recipient        string   `toml:"recipient"`
	Priority         int      `toml:"priority"`
	LocalOptions     []string `toml:"local_options"`
	StandardOptions  []string `toml:"standard_options"`
	Window           string   `toml:"window"`
	WindowPolicy     string   `toml:"window_policy"`
	Parallel         bool     `toml:"parallel"`
	SplitLarge       bool     `toml:"split_large"`
	RenameOneJobOnly bool     `toml:"rename_one_job_only"`
}

// LoadDistribution reads and validates a distribution file.
func LoadDistribution(path string) (*Distribution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read distribution: %w", err)
	}
	return ParseDistribution(data)
}

// ParseDistribution decodes distribution TOML and applies defaults.
func ParseDistribution(data []byte) (*Distribution, error) {
	var dist Distribution
	if err := toml.Unmarshal(data, &dist); err != nil {
		return nil, fmt.Errorf("parse distribution: %w", err)
	}
	dist.normalize()
	if err := dist.Validate(); err != nil {
		return nil, err
	}
	return &dist, nil
}

func (d *Distribution) normalize() {
	for i := range d.Directories {
		dir := &d.Directories[i]
		dir.Alias = strings.TrimSpace(dir.Alias)
		dir.Path = strings.TrimSpace(dir.Path)
		if dir.UnknownFileAge <= 0 {
			dir.UnknownFileAge = defaultUnknownFileAge
		}
		if dir.QueuedFileAge <= 0 {
			dir.QueuedFileAge = defaultQueuedFileAge
		}
		for g := range dir.Groups {
			for j := range dir.Groups[g].Destinations {
				dest := &dir.Groups[g].Destinations[j]
				dest.WindowPolicy = strings.ToLower(strings.TrimSpace(dest.WindowPolicy))
				if dest.WindowPolicy == "" {
					if dest.Window == "" {
						dest.WindowPolicy = WindowNone
					} else {
						dest.WindowPolicy = WindowCollect
					}
				}
			}
		}
	}
}

// Validate checks the graph for missing or conflicting entries.
func (d *Distribution) Validate() error {
	if len(d.Directories) == 0 {
		return errors.New("distribution: no directories configured")
	}
	aliases := make(map[string]struct{}, len(d.Directories))
	for _, dir := range d.Directories {
		if dir.Alias == "" {
			return fmt.Errorf("distribution: directory %q has no alias", dir.Path)
		}
		if _, dup := aliases[dir.Alias]; dup {
			return fmt.Errorf("distribution: duplicate directory alias %q", dir.Alias)
		}
		aliases[dir.Alias] = struct{}{}
		if dir.Path == "" {
			return fmt.Errorf("distribution: directory %s has no path", dir.Alias)
		}
		if dir.EndCharacter != nil && (*dir.EndCharacter < -1 || *dir.EndCharacter > 255) {
			return fmt.Errorf("distribution: directory %s: end_character must be -1..255", dir.Alias)
		}
		if len(dir.Groups) == 0 {
			return fmt.Errorf("distribution: directory %s has no groups", dir.Alias)
		}
		for gi, group := range dir.Groups {
			if len(group.Patterns) == 0 && !dir.AllFiles {
				return fmt.Errorf("distribution: directory %s group %d has no patterns", dir.Alias, gi)
			}
			for _, dest := range group.Destinations {
				if err := dest.validate(); err != nil {
					return fmt.Errorf("distribution: directory %s group %d: %w", dir.Alias, gi, err)
				}
			}
		}
	}
	return nil
}

func (d DestinationConfig) validate() error {
	if d.Target == "" {
		return errors.New("destination has no target")
	}
	if d.Priority < 0 || d.Priority > 9 {
		return fmt.Errorf("destination %s: priority must be 0..9", d.Target)
	}
	switch d.WindowPolicy {
	case WindowNone:
	case WindowCollect, WindowSendOnly:
		if d.Window == "" {
			return fmt.Errorf("destination %s: window_policy %s needs a window", d.Target, d.WindowPolicy)
		}
	default:
		return fmt.Errorf("destination %s: unsupported window_policy %q", d.Target, d.WindowPolicy)
	}
	return nil
}
