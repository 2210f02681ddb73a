// Package options applies a destination's local options to a finished job
// directory before it is announced.
package options

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Supported option keywords. Anything else is left to the transfer service.
const (
	optDelete  = "delete"
	optExec    = "exec"
	optPrefix  = "prefix"
	optToUpper = "toupper"
	optToLower = "tolower"
)

// Apply runs opts over the files in dir, in order, and returns what is left.
// An option that fails is logged and the remaining options still run.
func Apply(ctx context.Context, dir string, opts []string, logger *slog.Logger) (files int, bytes int64, err error) {
	for _, opt := range opts {
		keyword, arg, _ := strings.Cut(strings.TrimSpace(opt), " ")
		arg = strings.TrimSpace(arg)

		var optErr error
		switch keyword {
		case optDelete:
			optErr = eachFile(dir, func(name string) error {
				return os.Remove(filepath.Join(dir, name))
			})
		case optExec:
			optErr = eachFile(dir, func(name string) error {
				return runExec(ctx, dir, arg, name)
			})
		case optPrefix:
			optErr = applyPrefix(dir, arg)
		case optToUpper:
			optErr = eachFile(dir, renameWith(dir, strings.ToUpper))
		case optToLower:
			optErr = eachFile(dir, renameWith(dir, strings.ToLower))
		default:
			continue
		}
		if optErr != nil {
			logger.Warn("local option failed", "dir", filepath.Base(dir), "option", opt, "error", optErr)
		}
	}
	return Count(dir)
}

// Count sums the regular files directly inside dir.
func Count(dir string) (files int, bytes int64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("count %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files++
		bytes += info.Size()
	}
	return files, bytes, nil
}

func eachFile(dir string, fn func(name string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := fn(e.Name()); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return nil
}

// runExec runs cmd through the shell inside dir with %s replaced by name.
func runExec(ctx context.Context, dir, cmd, name string) error {
	if cmd == "" {
		return fmt.Errorf("exec without command")
	}
	c := exec.CommandContext(ctx, "/bin/sh", "-c", strings.ReplaceAll(cmd, "%s", name))
	c.Dir = dir
	out, err := c.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// applyPrefix handles "prefix add <p>" and "prefix del <p>".
func applyPrefix(dir, arg string) error {
	mode, prefix, ok := strings.Cut(arg, " ")
	prefix = strings.TrimSpace(prefix)
	if !ok || prefix == "" {
		return fmt.Errorf("prefix needs add|del and a value")
	}
	switch mode {
	case "add":
		return eachFile(dir, renameWith(dir, func(n string) string { return prefix + n }))
	case "del":
		return eachFile(dir, renameWith(dir, func(n string) string { return strings.TrimPrefix(n, prefix) }))
	default:
		return fmt.Errorf("unknown prefix mode %q", mode)
	}
}

func renameWith(dir string, fn func(string) string) func(string) error {
	return func(name string) error {
		to := fn(name)
		if to == name || to == "" {
			return nil
		}
		return os.Rename(filepath.Join(dir, name), filepath.Join(dir, to))
	}
}
