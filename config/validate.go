package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return errors.New("work_dir must be set")
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	return c.validateConsumer()
}

func (c *Config) validateLimits() error {
	if c.MaxProcess < 1 {
		return errors.New("max_process must be at least 1")
	}
	if c.MaxBatchFiles < 1 {
		return errors.New("max_batch_files must be at least 1")
	}
	if c.MaxBatchBytes < 1 {
		return errors.New("max_batch_bytes must be positive")
	}
	if c.MaxFilesToProcess < 1 {
		return errors.New("max_files_to_process must be at least 1")
	}
	return nil
}

func (c *Config) validateIntervals() error {
	checks := []struct {
		name  string
		value int
	}{
		{"rescan_interval", c.RescanInterval},
		{"deferred_rescan_time", c.DeferredRescanTime},
		{"one_dir_copy_timeout", c.OneDirCopyTimeout},
		{"disk_full_rescan_time", c.DiskFullRescanTime},
		{"old_file_search_interval", c.OldFileSearchInterval},
		{"time_job_interval", c.TimeJobInterval},
	}
	for _, check := range checks {
		if check.value < 1 {
			return fmt.Errorf("%s must be at least 1 second", check.name)
		}
	}
	return nil
}

func (c *Config) validateConsumer() error {
	switch c.Consumer.Kind {
	case ConsumerFIFO:
		if c.Consumer.FIFOPath == "" {
			return errors.New("consumer.fifo_path must be set")
		}
	case ConsumerSQS:
		if c.Consumer.QueueURL == "" {
			return errors.New("consumer.sqs_queue_url is required for the sqs consumer")
		}
	default:
		return fmt.Errorf("consumer.kind: unsupported value %q", c.Consumer.Kind)
	}
	return nil
}
