package engine

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/franksops/gofanout/logging"
)

func TestNamerCounterResetsEachSecond(t *testing.T) {
	clock := time.Unix(1000, 0)
	n := &Namer{now: func() time.Time { return clock }, sleep: func(time.Duration) {}}

	c1, s1 := n.Next()
	_, s2 := n.Next()
	_, s3 := n.Next()
	assert.Equal(t, int64(1000), c1.Unix())
	assert.Equal(t, []uint16{0, 1, 2}, []uint16{s1, s2, s3})

	clock = time.Unix(1001, 0)
	c4, s4 := n.Next()
	assert.Equal(t, int64(1001), c4.Unix())
	assert.Equal(t, uint16(0), s4)
}

func TestNamerWaitsWhenCounterExhausted(t *testing.T) {
	clock := time.Unix(2000, 0)
	var slept time.Duration
	n := &Namer{
		now: func() time.Time { return clock },
		sleep: func(d time.Duration) {
			slept += d
			clock = clock.Add(d)
		},
	}
	n.lastSec = 2000
	n.counter = math.MaxUint16

	created, seq := n.Next()
	assert.Equal(t, int64(2001), created.Unix())
	assert.Equal(t, uint16(0), seq)
	assert.Equal(t, time.Second, slept)
}

func TestStagerUniqueNames(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "pool")
	s := NewStager(NewNamer(), time.Millisecond, logging.NewNop())

	seen := map[string]bool{}
	for range 50 {
		path, _, _, err := s.MakeDir(context.Background(), parent, PoolName(7))
		require.NoError(t, err)
		require.False(t, seen[path], "duplicate staging name %s", path)
		seen[path] = true
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
}

func TestStagerSkipsExistingName(t *testing.T) {
	parent := t.TempDir()
	clock := time.Unix(3000, 0)
	n := &Namer{now: func() time.Time { return clock }, sleep: func(time.Duration) {}}
	s := NewStager(n, time.Millisecond, logging.NewNop())

	require.NoError(t, os.Mkdir(filepath.Join(parent, "3000_0000_1"), 0o755))
	path, _, seq, err := s.MakeDir(context.Background(), parent, PoolName(1))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), seq)
	assert.Equal(t, filepath.Join(parent, "3000_0001_1"), path)
}

func TestStagerFatalOnBrokenParent(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	s := NewStager(NewNamer(), time.Millisecond, logging.NewNop())
	_, _, _, err := s.MakeDir(context.Background(), file, PoolName(1))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestStagerRetriesOnDiskFull(t *testing.T) {
	parent := t.TempDir()
	s := NewStager(NewNamer(), 5*time.Second, logging.NewNop())

	failures := 3
	var waits []time.Duration
	s.mkdir = func(path string, mode os.FileMode) error {
		if failures > 0 {
			failures--
			return &os.PathError{Op: "mkdir", Path: path, Err: unix.ENOSPC}
		}
		return os.Mkdir(path, mode)
	}
	s.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	path, _, _, err := s.MakeDir(context.Background(), parent, PoolName(1))
	require.NoError(t, err)
	assert.DirExists(t, path)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, waits)
}

func TestStagerDiskFullHonoursCancel(t *testing.T) {
	s := NewStager(NewNamer(), time.Hour, logging.NewNop())
	s.mkdir = func(path string, _ os.FileMode) error {
		return &os.PathError{Op: "mkdir", Path: path, Err: unix.ENOSPC}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := s.MakeDir(ctx, t.TempDir(), PoolName(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsFatal(err))
}
