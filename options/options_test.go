package options

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/gofanout/logging"
)

func seed(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func TestApplyRenames(t *testing.T) {
	dir := seed(t, map[string]string{"a.dat": "12", "b.dat": "345"})

	files, bytes, err := Apply(context.Background(), dir, []string{"toupper", "prefix add IN_", "unknown option"}, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(5), bytes)
	assert.Equal(t, []string{"IN_A.DAT", "IN_B.DAT"}, names(t, dir))

	_, _, err = Apply(context.Background(), dir, []string{"prefix del IN_", "tolower"}, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.dat", "b.dat"}, names(t, dir))
}

func TestApplyDeleteReducesCount(t *testing.T) {
	dir := seed(t, map[string]string{"a": "1", "b": "2"})
	files, bytes, err := Apply(context.Background(), dir, []string{"delete"}, logging.NewNop())
	require.NoError(t, err)
	assert.Zero(t, files)
	assert.Zero(t, bytes)
}

func TestApplyExec(t *testing.T) {
	dir := seed(t, map[string]string{"a.txt": "hello"})
	files, bytes, err := Apply(context.Background(), dir, []string{"exec cat %s %s > %s.twice && rm %s"}, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, int64(10), bytes)
	assert.Equal(t, []string{"a.txt.twice"}, names(t, dir))
}

func TestApplyExecFailureIsLoggedNotReturned(t *testing.T) {
	dir := seed(t, map[string]string{"a": "x"})
	files, _, err := Apply(context.Background(), dir, []string{"exec exit 3"}, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, files)
}

func TestCountMissingDir(t *testing.T) {
	_, _, err := Count(filepath.Join(t.TempDir(), "gone"))
	assert.Error(t, err)
}
