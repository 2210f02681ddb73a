package config

import (
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.WorkDir, err = expandPath(strings.TrimSpace(c.WorkDir)); err != nil {
		return err
	}
	if c.DistributionFile, err = c.underWorkDir(c.DistributionFile); err != nil {
		return err
	}
	if c.TargetsFile, err = c.underWorkDir(c.TargetsFile); err != nil {
		return err
	}

	c.Consumer.Kind = strings.ToLower(strings.TrimSpace(c.Consumer.Kind))
	if c.Consumer.Kind == "" {
		c.Consumer.Kind = defaultConsumerKind
	}
	if c.Consumer.Kind == ConsumerFIFO && c.Consumer.FIFOPath == "" {
		c.Consumer.FIFOPath = filepath.Join(c.WorkDir, defaultFIFOName)
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
	if c.Log.File != "" {
		if c.Log.File, err = c.underWorkDir(c.Log.File); err != nil {
			return err
		}
	}

	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxProcessPerDir <= 0 || c.MaxProcessPerDir > c.MaxProcess {
		c.MaxProcessPerDir = c.MaxProcess
	}
	return nil
}

// underWorkDir resolves relative paths against the work directory.
func (c *Config) underWorkDir(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || strings.HasPrefix(path, "~") {
		return expandPath(path)
	}
	return filepath.Join(c.WorkDir, path), nil
}
