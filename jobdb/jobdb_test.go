package jobdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/gofanout/config"
)

type memIDs struct {
	ids  map[string]uint32
	next uint32
}

func (m *memIDs) DirectoryID(key string) (uint32, error) {
	if m.ids == nil {
		m.ids = map[string]uint32{}
	}
	if id, ok := m.ids[key]; ok {
		return id, nil
	}
	m.next++
	m.ids[key] = m.next
	return m.next, nil
}

type fixedIDs uint32

func (f fixedIDs) DirectoryID(string) (uint32, error) { return uint32(f), nil }

func buildTestDB(t *testing.T, body string) *Database {
	t.Helper()
	dist, err := config.ParseDistribution([]byte(body))
	require.NoError(t, err)
	work := t.TempDir()
	db, err := Build(dist, &memIDs{}, BuildOptions{
		WorkDir:          work,
		SpoolDir:         filepath.Join(work, "incoming"),
		MaxProcessPerDir: 3,
	})
	require.NoError(t, err)
	return db
}

func TestBuildDatabase(t *testing.T) {
	in := t.TempDir()
	db := buildTestDB(t, `
[[directory]]
alias = "alpha"
path = "`+in+`"
end_character = 4

  [[directory.group]]
  patterns = ["*.dat"]
    [[directory.group.destination]]
    target = "hostA"
    recipient = "ftp://hostA/in"
    priority = 5
    local_options = ["toupper"]

[[directory]]
alias = "remote"
path = "s3://bucket/prefix"
max_process = 10

  [[directory.group]]
  patterns = ["*"]
    [[directory.group.destination]]
    target = "hostB"
    window = "0 * * * *"
    window_policy = "send-only"
`)

	require.Len(t, db.Directories, 2)
	assert.Equal(t, 2, db.DestinationCount())

	alpha, ok := db.Directory("alpha")
	require.True(t, ok)
	assert.Equal(t, in, alpha.Path)
	assert.Equal(t, 4, alpha.EndCharacter)
	assert.False(t, alpha.Remote)
	assert.Equal(t, 3, alpha.MaxProcess)

	dest := alpha.Groups[0].Destinations[0]
	assert.Equal(t, byte(5), dest.Priority)
	desc := dest.Descriptor()
	assert.Equal(t, alpha.ID, desc.DirID)
	assert.Equal(t, []string{"*.dat"}, desc.Filters)
	assert.Equal(t, "ftp://hostA/in", desc.Recipient)
	_, resolved := dest.JobID()
	assert.False(t, resolved)

	remote, ok := db.Directory("remote")
	require.True(t, ok)
	assert.True(t, remote.Remote)
	assert.Equal(t, "s3://bucket/prefix", remote.Source)
	assert.Equal(t, "remote", filepath.Base(remote.Path))
	assert.Equal(t, 3, remote.MaxProcess, "per-directory limit is capped by the global per-dir limit")
	assert.True(t, remote.SameFilesystem)
	assert.Equal(t, WindowSendOnly, remote.Groups[0].Destinations[0].Window.Policy)
	assert.NotEqual(t, alpha.ID, remote.ID)
}

func TestBuildRejectsSharedDirectoryIDs(t *testing.T) {
	dist, err := config.ParseDistribution([]byte(`
[[directory]]
alias = "alpha"
path = "` + t.TempDir() + `"
  [[directory.group]]
  patterns = ["*"]

[[directory]]
alias = "beta"
path = "` + t.TempDir() + `"
  [[directory.group]]
  patterns = ["*"]
`))
	require.NoError(t, err)
	_, err = Build(dist, fixedIDs(3), BuildOptions{WorkDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrMismatch)
	assert.ErrorContains(t, err, "share id 3")
}

func TestClassify(t *testing.T) {
	dir := &WatchedDirectory{
		Groups: []*FileGroup{
			{Patterns: []string{"!*.tmp", "*.dat"}},
			{Patterns: []string{"*"}},
		},
	}

	tests := []struct {
		name     string
		fanOut   bool
		allFiles bool
		want     []int
		rejected bool
	}{
		{name: "a.dat", want: []int{0}},
		{name: "a.txt", want: []int{1}},
		{name: "a.tmp", rejected: true},
		{name: "a.dat", fanOut: true, want: []int{0, 1}},
		{name: ".hidden", want: nil},
		{name: "a.tmp", allFiles: true, want: []int{0, 1}},
	}
	for _, tt := range tests {
		dir.FanOut = tt.fanOut
		dir.AllFiles = tt.allFiles
		got, rejected := dir.Classify(tt.name)
		assert.Equal(t, tt.want, got, tt.name)
		assert.Equal(t, tt.rejected, rejected, tt.name)
	}
}

func TestClassifyExplicitDotfilePattern(t *testing.T) {
	dir := &WatchedDirectory{Groups: []*FileGroup{{Patterns: []string{".*.ready"}}}}
	got, _ := dir.Classify(".batch.ready")
	assert.Equal(t, []int{0}, got)
}

func TestDescriptorEqual(t *testing.T) {
	base := JobDescriptor{
		DirID:        1,
		Priority:     5,
		Filters:      []string{"*.dat", "*.txt"},
		LocalOptions: []string{"toupper"},
		Recipient:    "ftp://hostA/in",
	}
	same := base
	same.Filters = []string{"*.dat", "*.txt"}
	assert.True(t, base.Equal(same))

	reordered := base
	reordered.Filters = []string{"*.txt", "*.dat"}
	assert.False(t, base.Equal(reordered), "same count, different elements")

	other := base
	other.Recipient = "ftp://hostB/in"
	assert.False(t, base.Equal(other))

	prio := base
	prio.Priority = 6
	assert.False(t, base.Equal(prio))
}

func TestTargetsAndHoldingDir(t *testing.T) {
	dir := &WatchedDirectory{
		Path: "/in/alpha",
		Groups: []*FileGroup{
			{Destinations: []*Destination{{Target: "hostA"}, {Target: "hostB"}}},
			{Destinations: []*Destination{{Target: "hostA"}}},
		},
	}
	assert.Equal(t, []string{"hostA", "hostB"}, dir.Targets())
	assert.Len(t, dir.Destinations(), 3)
	assert.Equal(t, "/in/alpha/.hostA", dir.HoldingDir("hostA"))
}
