package engine

import (
	"sync"
	"time"
)

// DirStats are the running counters of one watched directory.
type DirStats struct {
	FilesReceived  int64 `json:"files_received"`
	BytesReceived  int64 `json:"bytes_received"`
	UnknownDeleted int64 `json:"unknown_deleted"`
	AgeDeleted     int64 `json:"age_deleted"`
	FilesDiscarded int64 `json:"files_discarded"`
	// FilesReturned counts files put back after a failed placement.
	FilesReturned int64     `json:"files_returned"`
	LastScan      time.Time `json:"last_scan"`
}

// TargetStats are the running counters of one target.
type TargetStats struct {
	Jobs        int64 `json:"jobs"`
	FilesToSend int64 `json:"files_to_send"`
	BytesToSend int64 `json:"bytes_to_send"`
	// FilesQueued and BytesQueued cover files parked while the target is paused.
	FilesQueued int64 `json:"files_queued"`
	BytesQueued int64 `json:"bytes_queued"`
}

// Counters is shared by the main loop and the workers.
type Counters struct {
	mu      sync.Mutex
	dirs    map[string]*DirStats
	targets map[string]*TargetStats
}

// NewCounters returns empty counters.
func NewCounters() *Counters {
	return &Counters{
		dirs:    map[string]*DirStats{},
		targets: map[string]*TargetStats{},
	}
}

// Dir mutates the stats of alias under the lock.
func (c *Counters) Dir(alias string, fn func(*DirStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.dirs[alias]
	if !ok {
		s = &DirStats{}
		c.dirs[alias] = s
	}
	fn(s)
}

// Target mutates the stats of target under the lock.
func (c *Counters) Target(target string, fn func(*TargetStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.targets[target]
	if !ok {
		s = &TargetStats{}
		c.targets[target] = s
	}
	fn(s)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Dirs    map[string]DirStats    `json:"dirs"`
	Targets map[string]TargetStats `json:"targets"`
}

// Snapshot copies the current counters.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Dirs:    make(map[string]DirStats, len(c.dirs)),
		Targets: make(map[string]TargetStats, len(c.targets)),
	}
	for k, v := range c.dirs {
		snap.Dirs[k] = *v
	}
	for k, v := range c.targets {
		snap.Targets[k] = *v
	}
	return snap
}
