package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/franksops/gofanout/config"
	"github.com/franksops/gofanout/jobdb"
	"github.com/franksops/gofanout/logging"
)

// testEnv is a work directory with one watched input directory.
type testEnv struct {
	work  string
	input string
	cfg   *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.WorkDir = filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(cfg.WorkDir, 0o755))
	return &testEnv{
		work:  cfg.WorkDir,
		input: filepath.Join(root, "in", "alpha"),
		cfg:   &cfg,
	}
}

// buildDB builds a job database from distribution TOML; %s is replaced by
// the input directory.
func (e *testEnv) buildDB(t *testing.T, dist string) *jobdb.Database {
	t.Helper()
	parsed, err := config.ParseDistribution([]byte(fmt.Sprintf(dist, e.input)))
	require.NoError(t, err)
	db, err := jobdb.Build(parsed, openTestStore(t), jobdb.BuildOptions{
		WorkDir:          e.work,
		SpoolDir:         e.cfg.IncomingDir(),
		MaxProcessPerDir: 3,
	})
	require.NoError(t, err)
	return db
}

func (e *testEnv) scanner(opts ScannerOptions, counters *Counters) *Scanner {
	if opts.PoolDir == "" {
		opts.PoolDir = e.cfg.PoolDir()
	}
	stager := NewStager(NewNamer(), time.Millisecond, logging.NewNop())
	return NewScanner(opts, NewMover(NewBufferPool(0), true), stager, counters, logging.NewNop())
}

func (e *testEnv) put(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.input, name)
	writeFile(t, path, body)
	return path
}

const alphaDist = `
[[directory]]
alias = "alpha"
path = "%s"

[[directory.group]]
patterns = ["*.dat"]

[[directory.group.destination]]
target = "hostA"
recipient = "ftp://user@hostA/in"
priority = 5
`

func fileNames(files []CollectedFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}
