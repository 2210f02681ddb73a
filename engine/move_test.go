package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestMoverMoveRenames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	writeFile(t, src, "data")

	m := NewMover(NewBufferPool(64), true)
	require.NoError(t, m.Move(context.Background(), src, dst, true))
	assert.NoFileExists(t, src)
	got, _ := os.ReadFile(dst)
	assert.Equal(t, "data", string(got))
}

func TestMoverMoveCopiesAcrossFilesystems(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "a")
	dst := filepath.Join(dir, "dst", "a")
	writeFile(t, src, "cross filesystem payload")
	mtime := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	m := NewMover(NewBufferPool(4), true)
	require.NoError(t, m.Move(context.Background(), src, dst, false))

	assert.NoFileExists(t, src)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "cross filesystem payload", string(got))
	st, _ := os.Stat(dst)
	assert.True(t, st.ModTime().Equal(mtime))
}

func TestMoverLink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	writeFile(t, src, "x")
	m := NewMover(NewBufferPool(0), false)

	hard := filepath.Join(dir, "hard")
	require.NoError(t, m.Link(context.Background(), src, hard, true))
	s1, _ := os.Stat(src)
	s2, _ := os.Stat(hard)
	assert.True(t, os.SameFile(s1, s2))

	soft := filepath.Join(dir, "copy")
	require.NoError(t, m.Link(context.Background(), src, soft, false))
	s3, _ := os.Stat(soft)
	assert.False(t, os.SameFile(s1, s3))
	assert.FileExists(t, src)
}

func TestMoverCopyRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	writeFile(t, src, "new")
	writeFile(t, dst, "old")

	m := NewMover(NewBufferPool(0), false)
	assert.Error(t, m.Copy(context.Background(), src, dst))
	got, _ := os.ReadFile(dst)
	assert.Equal(t, "old", string(got))
}
