package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/gofanout/jobdb"
	"github.com/franksops/gofanout/logging"
	"github.com/franksops/gofanout/store"
)

func openTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDescriptor() jobdb.JobDescriptor {
	return jobdb.JobDescriptor{
		DirID:        7,
		Priority:     5,
		Filters:      []string{"*.dat"},
		LocalOptions: []string{"tolower"},
		Recipient:    "ftp://user@hostA/in",
	}
}

func TestRegistryResolveDeduplicates(t *testing.T) {
	s := openTestStore(t)
	msgDir := filepath.Join(t.TempDir(), "messages")
	r, err := NewRegistry(s, msgDir, logging.NewNop())
	require.NoError(t, err)

	id1, err := r.Resolve(sampleDescriptor())
	require.NoError(t, err)
	id2, err := r.Resolve(sampleDescriptor())
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, r.Len())

	body, err := os.ReadFile(r.MessagePath(id1))
	require.NoError(t, err)
	assert.Contains(t, string(body), "ftp://user@hostA/in")
}

func TestRegistryComparesListsElementwise(t *testing.T) {
	r, err := NewRegistry(openTestStore(t), t.TempDir(), logging.NewNop())
	require.NoError(t, err)

	a := sampleDescriptor()
	a.Filters = []string{"ab", "c"}
	b := sampleDescriptor()
	b.Filters = []string{"a", "bc"}

	idA, err := r.Resolve(a)
	require.NoError(t, err)
	idB, err := r.Resolve(b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	c := sampleDescriptor()
	c.Filters = []string{"ab", "d"}
	idC, err := r.Resolve(c)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idC)
	assert.Equal(t, 3, r.Len())
}

func TestRegistrySurvivesRestart(t *testing.T) {
	s := openTestStore(t)
	msgDir := t.TempDir()
	r1, err := NewRegistry(s, msgDir, logging.NewNop())
	require.NoError(t, err)
	id, err := r1.Resolve(sampleDescriptor())
	require.NoError(t, err)

	r2, err := NewRegistry(s, msgDir, logging.NewNop())
	require.NoError(t, err)
	again, err := r2.Resolve(sampleDescriptor())
	require.NoError(t, err)
	assert.Equal(t, id, again)

	rec, ok := r2.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "ftp://user@hostA/in", rec.Recipient)
}

func TestRegistryIDsStableAcrossGrowth(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	msgDir := t.TempDir()
	s, err := store.NewBoltStore(dbPath)
	require.NoError(t, err)
	r, err := NewRegistry(s, msgDir, logging.NewNop())
	require.NoError(t, err)

	n := 2*JobIDDataStepSize + 10
	descs := make([]jobdb.JobDescriptor, n)
	ids := make([]uint32, n)
	seen := make(map[uint32]bool, n)
	for i := range descs {
		descs[i] = sampleDescriptor()
		descs[i].Recipient = fmt.Sprintf("ftp://user@host%d/in", i)
		ids[i], err = r.Resolve(descs[i])
		require.NoError(t, err)
		require.False(t, seen[ids[i]], "id %d handed out twice", ids[i])
		seen[ids[i]] = true
	}
	assert.Equal(t, n, r.Len())

	for i, d := range descs {
		id, err := r.Resolve(d)
		require.NoError(t, err)
		require.Equal(t, ids[i], id, "descriptor %d", i)
	}
	assert.Equal(t, n, r.Len())
	require.NoError(t, s.Close())

	s, err = store.NewBoltStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	r, err = NewRegistry(s, msgDir, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, n, r.Len())
	for i, d := range descs {
		id, err := r.Resolve(d)
		require.NoError(t, err)
		require.Equal(t, ids[i], id, "descriptor %d after reopen", i)
		rec, ok := r.Lookup(id)
		require.True(t, ok)
		require.Equal(t, d.Recipient, rec.Recipient)
	}
	assert.Equal(t, n, r.Len())
}

func TestRegistryRecreatesMissingMessage(t *testing.T) {
	msgDir := t.TempDir()
	r, err := NewRegistry(openTestStore(t), msgDir, logging.NewNop())
	require.NoError(t, err)
	id, err := r.Resolve(sampleDescriptor())
	require.NoError(t, err)

	require.NoError(t, os.Remove(r.MessagePath(id)))
	_, err = r.Resolve(sampleDescriptor())
	require.NoError(t, err)
	assert.FileExists(t, r.MessagePath(id))
}

func TestRegistryTouchesMessage(t *testing.T) {
	msgDir := t.TempDir()
	r, err := NewRegistry(openTestStore(t), msgDir, logging.NewNop())
	require.NoError(t, err)
	id, err := r.Resolve(sampleDescriptor())
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(r.MessagePath(id), old, old))

	_, err = r.Resolve(sampleDescriptor())
	require.NoError(t, err)
	st, err := os.Stat(r.MessagePath(id))
	require.NoError(t, err)
	assert.True(t, st.ModTime().After(old))
}

func TestDescriptorHashStable(t *testing.T) {
	assert.Equal(t, descriptorHash(sampleDescriptor()), descriptorHash(sampleDescriptor()))

	other := sampleDescriptor()
	other.Priority = 6
	assert.NotEqual(t, descriptorHash(sampleDescriptor()), descriptorHash(other))
}
