package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	work := t.TempDir()
	path := filepath.Join(work, "gfand.toml")
	require.NoError(t, os.WriteFile(path, []byte("work_dir = \""+work+"\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, work, cfg.WorkDir)
	assert.Equal(t, defaultMaxProcess, cfg.MaxProcess)
	assert.Equal(t, filepath.Join(work, defaultDistributionFile), cfg.DistributionFile)
	assert.Equal(t, filepath.Join(work, defaultFIFOName), cfg.Consumer.FIFOPath)
	assert.Equal(t, filepath.Join(work, "files", "pool"), cfg.PoolDir())
}

func TestLoadRejectsBadConsumer(t *testing.T) {
	work := t.TempDir()
	path := filepath.Join(work, "gfand.toml")
	body := "work_dir = \"" + work + "\"\n[consumer]\nkind = \"sqs\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqs_queue_url")
}

func TestNormalizeClampsPerDirLimit(t *testing.T) {
	cfg := Default()
	cfg.WorkDir = t.TempDir()
	cfg.MaxProcess = 2
	cfg.MaxProcessPerDir = 8
	require.NoError(t, cfg.normalize())
	assert.Equal(t, 2, cfg.MaxProcessPerDir)
}

func TestValidateIntervals(t *testing.T) {
	cfg := Default()
	cfg.WorkDir = t.TempDir()
	require.NoError(t, cfg.normalize())
	cfg.RescanInterval = 0
	assert.ErrorContains(t, cfg.Validate(), "rescan_interval")
}

const sampleDistribution = `
[[directory]]
alias = "alpha"
path = "/in/alpha"
delete_unknown = true

  [[directory.group]]
  patterns = ["*.dat", "!*.tmp"]

    [[directory.group.destination]]
    target = "hostA"
    recipient = "ftp://user@hostA/in"
    priority = 5

    [[directory.group.destination]]
    target = "hostB"
    recipient = "sftp://hostB/drop"
    window = "0 2 * * *"
`

func TestParseDistribution(t *testing.T) {
	dist, err := ParseDistribution([]byte(sampleDistribution))
	require.NoError(t, err)
	require.Len(t, dist.Directories, 1)

	dir := dist.Directories[0]
	assert.Equal(t, "alpha", dir.Alias)
	assert.Equal(t, defaultUnknownFileAge, dir.UnknownFileAge)
	assert.Nil(t, dir.EndCharacter)
	require.Len(t, dir.Groups, 1)
	require.Len(t, dir.Groups[0].Destinations, 2)
	assert.Equal(t, WindowNone, dir.Groups[0].Destinations[0].WindowPolicy)
	assert.Equal(t, WindowCollect, dir.Groups[0].Destinations[1].WindowPolicy)
}

func TestDistributionValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", ``, "no directories"},
		{"no alias", "[[directory]]\npath = \"/in\"\n", "no alias"},
		{"no groups", "[[directory]]\nalias = \"a\"\npath = \"/in\"\n", "no groups"},
		{
			"bad priority",
			"[[directory]]\nalias = \"a\"\npath = \"/in\"\n[[directory.group]]\npatterns = [\"*\"]\n[[directory.group.destination]]\ntarget = \"h\"\npriority = 12\n",
			"priority",
		},
		{
			"send-only without window",
			"[[directory]]\nalias = \"a\"\npath = \"/in\"\n[[directory.group]]\npatterns = [\"*\"]\n[[directory.group.destination]]\ntarget = \"h\"\nwindow_policy = \"send-only\"\n",
			"needs a window",
		},
		{
			"duplicate alias",
			"[[directory]]\nalias = \"a\"\npath = \"/in\"\n[[directory.group]]\npatterns = [\"*\"]\n[[directory]]\nalias = \"a\"\npath = \"/in2\"\n[[directory.group]]\npatterns = [\"*\"]\n",
			"duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDistribution([]byte(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
