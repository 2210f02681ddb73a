package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TaskHandler finalizes one DispatchTask.
type TaskHandler func(context.Context, DispatchTask) TaskResult

// WorkerSlot describes a running or finished-but-unreaped worker.
type WorkerSlot struct {
	ID       int
	DirID    uint32
	DirAlias string
	Target   string
	JobID    uint32
	Started  time.Time
}

// Supervisor runs DispatchTasks on a bounded set of goroutines. Slots stay
// occupied until Reap collects their result, so the global and per-directory
// limits count finished workers nobody has looked at yet.
type Supervisor struct {
	handler TaskHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	maxProcess int
	slots      map[int]*WorkerSlot
	perDir     map[uint32]int
	nextID     int
	finished   []TaskResult
	wg         sync.WaitGroup

	wake chan struct{}
}

// NewSupervisor creates a Supervisor allowing maxProcess concurrent tasks.
// Tasks are not cancelled when ctx is; Stop waits for them instead.
func NewSupervisor(ctx context.Context, maxProcess int, handler TaskHandler, logger *slog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Supervisor{
		handler:    handler,
		logger:     logger.With("component", "supervisor"),
		ctx:        ctx,
		cancel:     cancel,
		maxProcess: maxProcess,
		slots:      make(map[int]*WorkerSlot),
		perDir:     make(map[uint32]int),
		wake:       make(chan struct{}, 1),
	}
}

// SetMaxProcess changes the global limit. Running tasks are not affected.
func (s *Supervisor) SetMaxProcess(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxProcess = n
}

// Submit starts task on a new worker. It returns false when either the
// global or the directory's limit is reached; the caller then finalizes
// the task itself.
func (s *Supervisor) Submit(task DispatchTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil || len(s.slots) >= s.maxProcess {
		return false
	}
	if task.MaxPerDir > 0 && s.perDir[task.DirID] >= task.MaxPerDir {
		return false
	}

	id := s.nextID
	s.nextID++
	s.slots[id] = &WorkerSlot{
		ID:       id,
		DirID:    task.DirID,
		DirAlias: task.DirAlias,
		Target:   task.Target,
		JobID:    task.JobID,
		Started:  time.Now(),
	}
	s.perDir[task.DirID]++
	s.wg.Add(1)

	go s.run(id, task)
	return true
}

func (s *Supervisor) run(id int, task DispatchTask) {
	defer s.wg.Done()

	start := time.Now()
	result := func() (res TaskResult) {
		defer func() {
			if r := recover(); r != nil {
				res = TaskResult{Task: task, Status: TaskAbnormal, Err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		return s.handler(s.ctx, task)
	}()
	result.Task = task
	result.Duration = time.Since(start)

	s.mu.Lock()
	result.slot = id
	s.finished = append(s.finished, result)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wake fires whenever a worker finishes.
func (s *Supervisor) Wake() <-chan struct{} { return s.wake }

// Reap collects finished workers, frees their slots and returns their
// results. It never blocks.
func (s *Supervisor) Reap() []TaskResult {
	s.mu.Lock()
	done := s.finished
	s.finished = nil
	for _, r := range done {
		if slot, ok := s.slots[r.slot]; ok {
			delete(s.slots, r.slot)
			if s.perDir[slot.DirID]--; s.perDir[slot.DirID] <= 0 {
				delete(s.perDir, slot.DirID)
			}
		}
	}
	s.mu.Unlock()

	for _, r := range done {
		switch r.Status {
		case TaskDone, TaskNoFiles:
			s.logger.Debug("worker finished", "dir", r.Task.DirAlias, "job", r.Task.JobID, "status", r.Status, "duration", r.Duration)
		case TaskFailed:
			s.logger.Error("worker failed", "dir", r.Task.DirAlias, "job", r.Task.JobID, "error", r.Err)
		case TaskAbnormal:
			s.logger.Error("worker terminated abnormally", "dir", r.Task.DirAlias, "job", r.Task.JobID, "error", r.Err)
		default:
			s.logger.Error("worker returned unknown status", "dir", r.Task.DirAlias, "job", r.Task.JobID, "status", int(r.Status))
		}
	}
	return done
}

// Active is the number of occupied slots.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// ActiveFor is the number of occupied slots serving dirID.
func (s *Supervisor) ActiveFor(dirID uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perDir[dirID]
}

// MaxProcess is the current global limit.
func (s *Supervisor) MaxProcess() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxProcess
}

// Slots returns the occupied slots in submission order.
func (s *Supervisor) Slots() []WorkerSlot {
	s.mu.Lock()
	out := make([]WorkerSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, *slot)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Overdue returns the slots that have been running longer than limit.
func (s *Supervisor) Overdue(now time.Time, limit time.Duration) []WorkerSlot {
	var out []WorkerSlot
	for _, slot := range s.Slots() {
		if now.Sub(slot.Started) > limit {
			out = append(out, slot)
		}
	}
	return out
}

// Stop refuses new tasks and waits for running ones to finish. Their
// results remain available to Reap.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.maxProcess = 0
	s.mu.Unlock()
	s.wg.Wait()
	s.cancel()
}
