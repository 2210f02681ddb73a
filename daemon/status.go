package daemon

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/franksops/gofanout/engine"
	"github.com/franksops/gofanout/targets"
)

// Status is the snapshot written to status.json after every loop turn.
type Status struct {
	Instance    string                   `json:"instance"`
	PID         int                      `json:"pid"`
	Started     time.Time                `json:"started"`
	Updated     time.Time                `json:"updated"`
	Pool        PoolStatus               `json:"pool"`
	Backlog     int                      `json:"backlog"`
	Jobs        int                      `json:"jobs"`
	Directories []DirectoryStatus        `json:"directories"`
	Counters    engine.Snapshot          `json:"counters"`
	Targets     map[string]targets.State `json:"targets"`
}

// PoolStatus describes worker occupancy.
type PoolStatus struct {
	Active  int          `json:"active"`
	Max     int          `json:"max"`
	Workers []WorkerInfo `json:"workers,omitempty"`
}

// WorkerInfo is one occupied worker slot.
type WorkerInfo struct {
	Dir       string    `json:"dir"`
	Target    string    `json:"target"`
	JobID     uint32    `json:"job_id"`
	Recipient string    `json:"recipient,omitempty"`
	Started   time.Time `json:"started"`
}

// DirectoryStatus is the static description of a watched directory.
type DirectoryStatus struct {
	Alias    string    `json:"alias"`
	Path     string    `json:"path"`
	Source   string    `json:"source"`
	Remote   bool      `json:"remote"`
	LastScan time.Time `json:"last_scan"`
}

func (d *Daemon) status(now time.Time) Status {
	st := Status{
		Instance: d.instance,
		PID:      os.Getpid(),
		Started:  d.started,
		Updated:  now,
		Pool: PoolStatus{
			Active: d.sup.Active(),
			Max:    d.sup.MaxProcess(),
		},
		Backlog:  d.buffer.Backlog(),
		Jobs:     d.registry.Len(),
		Counters: d.counters.Snapshot(),
		Targets:  d.table.Snapshot(),
	}
	for _, slot := range d.sup.Slots() {
		w := WorkerInfo{
			Dir:     slot.DirAlias,
			Target:  slot.Target,
			JobID:   slot.JobID,
			Started: slot.Started,
		}
		if rec, ok := d.registry.Lookup(slot.JobID); ok {
			w.Recipient = redact(rec.Recipient)
		}
		st.Pool.Workers = append(st.Pool.Workers, w)
	}
	st.Directories = make([]DirectoryStatus, 0, len(d.db.Directories))
	for _, dir := range d.db.Directories {
		st.Directories = append(st.Directories, DirectoryStatus{
			Alias:    dir.Alias,
			Path:     dir.Path,
			Source:   dir.Source,
			Remote:   dir.Remote,
			LastScan: dir.LastScan,
		})
	}
	sort.Slice(st.Directories, func(i, j int) bool { return st.Directories[i].Alias < st.Directories[j].Alias })
	return st
}

// redact hides a password in a recipient URL.
func redact(recipient string) string {
	u, err := url.Parse(recipient)
	if err != nil {
		return ""
	}
	return u.Redacted()
}

// WriteStatus replaces the status file atomically.
func WriteStatus(path string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadStatus loads a status file written by a running daemon.
func ReadStatus(path string) (Status, error) {
	var st Status
	data, err := os.ReadFile(path)
	if err != nil {
		return st, fmt.Errorf("read status: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse status: %w", err)
	}
	return st, nil
}
