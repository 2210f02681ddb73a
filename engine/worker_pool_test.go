package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/franksops/gofanout/engine"
	"github.com/franksops/gofanout/logging"
)

func waitResults(t *testing.T, sup *engine.Supervisor, n int) []engine.TaskResult {
	t.Helper()
	var got []engine.TaskResult
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case <-sup.Wake():
			got = append(got, sup.Reap()...)
		case <-deadline:
			t.Fatalf("timed out with %d of %d results", len(got), n)
		}
	}
	return got
}

func TestSupervisor_Limits(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, task engine.DispatchTask) engine.TaskResult {
		<-release
		return engine.TaskResult{Status: engine.TaskDone}
	}
	sup := engine.NewSupervisor(context.Background(), 3, handler, logging.NewNop())

	if !sup.Submit(engine.DispatchTask{DirID: 1, MaxPerDir: 2}) {
		t.Fatal("first task rejected")
	}
	if !sup.Submit(engine.DispatchTask{DirID: 1, MaxPerDir: 2}) {
		t.Fatal("second task rejected")
	}
	if sup.Submit(engine.DispatchTask{DirID: 1, MaxPerDir: 2}) {
		t.Error("per-directory limit not enforced")
	}
	if !sup.Submit(engine.DispatchTask{DirID: 2, MaxPerDir: 2}) {
		t.Fatal("other directory rejected")
	}
	if sup.Submit(engine.DispatchTask{DirID: 3, MaxPerDir: 2}) {
		t.Error("global limit not enforced")
	}
	if got := sup.ActiveFor(1); got != 2 {
		t.Errorf("expected 2 active for dir 1, got %d", got)
	}

	close(release)
	results := waitResults(t, sup, 3)
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
	if got := sup.Active(); got != 0 {
		t.Errorf("expected no active slots after reap, got %d", got)
	}
	if !sup.Submit(engine.DispatchTask{DirID: 1, MaxPerDir: 2}) {
		t.Error("slot not recycled after reap")
	}
	sup.Stop()
}

func TestSupervisor_SlotHeldUntilReap(t *testing.T) {
	handler := func(ctx context.Context, task engine.DispatchTask) engine.TaskResult {
		return engine.TaskResult{Status: engine.TaskDone}
	}
	sup := engine.NewSupervisor(context.Background(), 1, handler, logging.NewNop())
	if !sup.Submit(engine.DispatchTask{DirID: 1}) {
		t.Fatal("task rejected")
	}
	<-sup.Wake()
	if sup.Submit(engine.DispatchTask{DirID: 1}) {
		t.Error("unreaped slot was reused")
	}
	sup.Reap()
	if !sup.Submit(engine.DispatchTask{DirID: 1}) {
		t.Error("reaped slot not reusable")
	}
	sup.Stop()
}

func TestSupervisor_PanicIsAbnormal(t *testing.T) {
	handler := func(ctx context.Context, task engine.DispatchTask) engine.TaskResult {
		panic("boom")
	}
	sup := engine.NewSupervisor(context.Background(), 1, handler, logging.NewNop())
	sup.Submit(engine.DispatchTask{DirAlias: "alpha", JobID: 9})

	results := waitResults(t, sup, 1)
	if results[0].Status != engine.TaskAbnormal {
		t.Errorf("expected abnormal status, got %s", results[0].Status)
	}
	if results[0].Task.JobID != 9 {
		t.Errorf("result lost its task, got job %d", results[0].Task.JobID)
	}
	sup.Stop()
}

func TestSupervisor_FailureReported(t *testing.T) {
	handler := func(ctx context.Context, task engine.DispatchTask) engine.TaskResult {
		return engine.TaskResult{Status: engine.TaskFailed, Err: errors.New("options failed")}
	}
	sup := engine.NewSupervisor(context.Background(), 1, handler, logging.NewNop())
	sup.Submit(engine.DispatchTask{})
	results := waitResults(t, sup, 1)
	if results[0].Err == nil || results[0].Status != engine.TaskFailed {
		t.Errorf("unexpected result %+v", results[0])
	}
	sup.Stop()
}

func TestSupervisor_StopDrainsRunningTasks(t *testing.T) {
	var finished atomic.Int32
	handler := func(ctx context.Context, task engine.DispatchTask) engine.TaskResult {
		time.Sleep(20 * time.Millisecond)
		if ctx.Err() != nil {
			return engine.TaskResult{Status: engine.TaskFailed, Err: ctx.Err()}
		}
		finished.Add(1)
		return engine.TaskResult{Status: engine.TaskDone}
	}
	ctx, cancel := context.WithCancel(context.Background())
	sup := engine.NewSupervisor(ctx, 4, handler, logging.NewNop())
	for i := 0; i < 4; i++ {
		sup.Submit(engine.DispatchTask{DirID: uint32(i)})
	}
	cancel()
	sup.Stop()

	if got := finished.Load(); got != 4 {
		t.Errorf("expected 4 tasks to finish, got %d", got)
	}
	if got := len(sup.Reap()); got != 4 {
		t.Errorf("expected 4 results after stop, got %d", got)
	}
	if sup.Submit(engine.DispatchTask{}) {
		t.Error("stopped supervisor accepted a task")
	}
}

func TestSupervisor_Overdue(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, task engine.DispatchTask) engine.TaskResult {
		<-release
		return engine.TaskResult{Status: engine.TaskDone}
	}
	sup := engine.NewSupervisor(context.Background(), 2, handler, logging.NewNop())
	sup.Submit(engine.DispatchTask{DirAlias: "alpha"})

	if got := sup.Overdue(time.Now(), time.Hour); len(got) != 0 {
		t.Errorf("expected nothing overdue, got %d", len(got))
	}
	got := sup.Overdue(time.Now().Add(2*time.Hour), time.Hour)
	if len(got) != 1 || got[0].DirAlias != "alpha" {
		t.Errorf("expected alpha overdue, got %+v", got)
	}
	close(release)
	sup.Stop()
}
