package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Consumer selects the downstream channel notifications are written to.
type Consumer struct {
	Kind      string `toml:"kind"`
	FIFOPath  string `toml:"fifo_path"`
	QueueURL  string `toml:"sqs_queue_url"`
	SQSRegion string `toml:"sqs_region"`
}

// Log contains configuration for log output.
type Log struct {
	Level        string `toml:"level"`
	Format       string `toml:"format"`
	File         string `toml:"file"`
	MaxSizeMB    int    `toml:"max_size_mb"`
	MaxBackups   int    `toml:"max_backups"`
	MaxAgeDays   int    `toml:"max_age_days"`
	InputRecords bool   `toml:"input_records"`
}

// Config holds the daemon settings. Intervals and timeouts are in seconds.
type Config struct {
	WorkDir          string `toml:"work_dir"`
	DistributionFile string `toml:"distribution_file"`
	TargetsFile      string `toml:"targets_file"`

	RescanInterval        int   `toml:"rescan_interval"`
	DeferredRescanTime    int   `toml:"deferred_rescan_time"`
	MaxProcess            int   `toml:"max_process"`
	MaxProcessPerDir      int   `toml:"max_process_per_dir"`
	MaxBatchFiles         int   `toml:"max_batch_files"`
	MaxBatchBytes         int64 `toml:"max_batch_bytes"`
	MaxFilesToProcess     int   `toml:"max_files_to_process"`
	OneDirCopyTimeout     int   `toml:"one_dir_copy_timeout"`
	DiskFullRescanTime    int   `toml:"disk_full_rescan_time"`
	OldFileSearchInterval int   `toml:"old_file_search_interval"`
	TimeJobInterval       int   `toml:"time_job_interval"`
	DirectoryCountHint    int   `toml:"directory_count"`

	Checksum   bool `toml:"checksum"`
	BufferSize int  `toml:"buffer_size"`

	Consumer Consumer `toml:"consumer"`
	Log      Log      `toml:"log"`
}

// Load reads the daemon config at path. A missing file yields the defaults.
// Overrides run after decoding and before paths are resolved.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(expanded)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Seconds converts a config value to a duration.
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// Path helpers for the work directory layout.

func (c *Config) FilesDir() string    { return filepath.Join(c.WorkDir, "files") }
func (c *Config) PoolDir() string     { return filepath.Join(c.WorkDir, "files", "pool") }
func (c *Config) OutgoingDir() string { return filepath.Join(c.WorkDir, "files", "outgoing") }
func (c *Config) TimeDir() string     { return filepath.Join(c.WorkDir, "files", "time") }
func (c *Config) IncomingDir() string { return filepath.Join(c.WorkDir, "files", "incoming") }
func (c *Config) MessageDir() string  { return filepath.Join(c.WorkDir, "messages") }
func (c *Config) StorePath() string   { return filepath.Join(c.WorkDir, "gofanout.db") }
func (c *Config) LockPath() string    { return filepath.Join(c.WorkDir, "gfand.lock") }
func (c *Config) PIDPath() string     { return filepath.Join(c.WorkDir, "gfand.pid") }
func (c *Config) StatusPath() string  { return filepath.Join(c.WorkDir, "status.json") }

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}
