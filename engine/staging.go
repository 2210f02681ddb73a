package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Namer hands out (second, counter) pairs that never repeat. The counter
// restarts every second; if it runs out within a second, Next waits for
// the following one.
type Namer struct {
	now   func() time.Time
	sleep func(time.Duration)

	mu      sync.Mutex
	lastSec int64
	counter uint16
}

// NewNamer returns a Namer on the wall clock.
func NewNamer() *Namer {
	return &Namer{now: time.Now, sleep: time.Sleep}
}

// Next returns the creation time (second resolution) and counter.
func (n *Namer) Next() (time.Time, uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for {
		now := n.now()
		sec := now.Unix()
		if sec != n.lastSec {
			n.lastSec = sec
			n.counter = 0
			return time.Unix(sec, 0), 0
		}
		if n.counter < math.MaxUint16 {
			n.counter++
			return time.Unix(sec, 0), n.counter
		}
		n.sleep(time.Unix(sec+1, 0).Sub(now))
	}
}

// Stager creates uniquely named directories, waiting out a full disk.
type Stager struct {
	namer        *Namer
	diskFullWait time.Duration
	logger       *slog.Logger
	// wait blocks for d or until ctx is done.
	wait  func(ctx context.Context, d time.Duration) error
	mkdir func(string, os.FileMode) error
}

// NewStager creates staging directories named by namer. A full disk is
// retried every diskFullWait until the context ends.
func NewStager(namer *Namer, diskFullWait time.Duration, logger *slog.Logger) *Stager {
	return &Stager{
		namer:        namer,
		diskFullWait: diskFullWait,
		logger:       logger.With("component", "stager"),
		wait:         sleepCtx,
		mkdir:        os.Mkdir,
	}
}

// MakeDir creates a new directory under parent named by name(created,
// counter). Out-of-space errors are retried until they clear or ctx ends.
// Any other failure is fatal.
func (s *Stager) MakeDir(ctx context.Context, parent string, name func(time.Time, uint16) string) (string, time.Time, uint16, error) {
	for {
		created, seq := s.namer.Next()
		path := filepath.Join(parent, name(created, seq))

		err := s.mkdir(path, 0o755)
		if err == nil {
			return path, created, seq, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if errors.Is(err, os.ErrNotExist) {
			if mkErr := os.MkdirAll(parent, 0o755); mkErr == nil {
				continue
			} else {
				err = mkErr
			}
		}
		if errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT) {
			s.logger.Warn("disk full, waiting before retry", "dir", parent, "wait", s.diskFullWait)
			if werr := s.wait(ctx, s.diskFullWait); werr != nil {
				return "", time.Time{}, 0, werr
			}
			continue
		}
		return "", time.Time{}, 0, fatal(fmt.Errorf("create staging directory %s: %w", path, err))
	}
}

// PoolName names a pool staging directory: <unixsec>_<counter>_<dirid>.
func PoolName(dirID uint32) func(time.Time, uint16) string {
	return func(created time.Time, seq uint16) string {
		return fmt.Sprintf("%d_%04d_%d", created.Unix(), seq, dirID)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
