package action

import (
	"testing"
	"time"

	"github.com/cea-hpc/milkcheck/internal/entity"
	"github.com/cea-hpc/milkcheck/internal/nodeset"
)

// fakeScheduler records every submission instead of actually running
// anything, so tests can assert on what Prepare/Schedule decided to do.
type fakeScheduler struct {
	performed []*Action
	delayed   []*Action
	removed   []*Action
}

func (f *fakeScheduler) PerformAction(a *Action)        { f.performed = append(f.performed, a) }
func (f *fakeScheduler) PerformDelayedAction(a *Action) { f.delayed = append(f.delayed, a) }
func (f *fakeScheduler) RemoveTask(a *Action)            { f.removed = append(f.removed, a) }

type fakeBus struct {
	started       []*Action
	completed     []entity.Node
	statusChanges []entity.Node
	triggered     [][2]entity.Node
}

func (f *fakeBus) EmitStarted(a *Action)        { f.started = append(f.started, a) }
func (f *fakeBus) EmitComplete(n entity.Node)   { f.completed = append(f.completed, n) }
func (f *fakeBus) EmitStatusChanged(n entity.Node) {
	f.statusChanges = append(f.statusChanges, n)
}
func (f *fakeBus) EmitTriggerDep(from, to entity.Node) {
	f.triggered = append(f.triggered, [2]entity.Node{from, to})
}

type fakeResult struct {
	errors, timeouts int
}

func (r fakeResult) ErrorCount() int   { return r.errors }
func (r fakeResult) TimeoutCount() int { return r.timeouts }

func newCtx() (*RunContext, *fakeScheduler, *fakeBus) {
	sched := &fakeScheduler{}
	bus := &fakeBus{}
	return &RunContext{Scheduler: sched, Bus: bus}, sched, bus
}

func TestPrepareNoParentsSchedulesImmediately(t *testing.T) {
	a := New("start")
	a.SetTarget(nodeset.New("node1"))
	ctx, sched, _ := newCtx()

	a.Prepare(ctx)

	if len(sched.performed) != 1 {
		t.Fatalf("PerformAction calls = %d, want 1", len(sched.performed))
	}
	if got := a.Status(); got != entity.WaitingStatus {
		t.Errorf("Status() = %s, want WAITING_STATUS", got)
	}
}

func TestPrepareSkippedOnEmptyTarget(t *testing.T) {
	a := New("start")
	ctx, sched, _ := newCtx()

	a.Prepare(ctx)

	if got := a.Status(); got != entity.Skipped {
		t.Errorf("Status() = %s, want SKIPPED", got)
	}
	if len(sched.performed) != 0 {
		t.Errorf("expected no scheduling for a skipped action")
	}
}

func TestScheduleUsesDelayQueueWhenDelaySet(t *testing.T) {
	a := New("start")
	a.Delay = 2 * time.Second
	ctx, sched, _ := newCtx()

	a.Schedule(ctx, true)

	if len(sched.delayed) != 1 {
		t.Fatalf("PerformDelayedAction calls = %d, want 1", len(sched.delayed))
	}
	if a.StartTime() == nil {
		t.Error("expected StartTime to be recorded")
	}
}

func TestScheduleAllowDelayFalseBypassesDelay(t *testing.T) {
	a := New("start")
	a.Delay = 2 * time.Second
	ctx, sched, _ := newCtx()

	a.Schedule(ctx, false)

	if len(sched.performed) != 1 || len(sched.delayed) != 0 {
		t.Errorf("expected immediate dispatch, got performed=%d delayed=%d", len(sched.performed), len(sched.delayed))
	}
}

func TestOnCompleteDoneWithinTolerance(t *testing.T) {
	a := New("start")
	a.SetErrorsTolerance(1)
	ctx, sched, _ := newCtx()
	a.Schedule(ctx, false)

	a.OnComplete(ctx, fakeResult{errors: 1, timeouts: 0})

	if got := a.Status(); got != entity.Done {
		t.Errorf("Status() = %s, want DONE", got)
	}
	if len(sched.removed) != 1 {
		t.Errorf("expected RemoveTask to be called once, got %d", len(sched.removed))
	}
	if a.StopTime() == nil {
		t.Error("expected StopTime to be recorded")
	}
}

func TestOnCompleteErrorBeyondTolerance(t *testing.T) {
	a := New("start")
	a.SetErrorsTolerance(1)
	ctx, _, _ := newCtx()
	a.Schedule(ctx, false)

	a.OnComplete(ctx, fakeResult{errors: 2, timeouts: 0})

	if got := a.Status(); got != entity.ErrorStatus {
		t.Errorf("Status() = %s, want ERROR", got)
	}
}

func TestOnCompleteTimeoutBeyondTolerance(t *testing.T) {
	a := New("start")
	a.SetErrorsTolerance(1)
	ctx, _, _ := newCtx()
	a.Schedule(ctx, false)

	a.OnComplete(ctx, fakeResult{errors: 0, timeouts: 2})

	if got := a.Status(); got != entity.Timeout {
		t.Errorf("Status() = %s, want TIMEOUT", got)
	}
}

func TestOnCompleteRetriesOnFailureWithRetryBudget(t *testing.T) {
	a := New("start")
	a.Delay = time.Second
	a.SetRetry(2)
	a.SetErrorsTolerance(0)
	ctx, sched, _ := newCtx()
	a.Schedule(ctx, false)

	a.OnComplete(ctx, fakeResult{errors: 1, timeouts: 0})

	if got := a.Retry(); got != 1 {
		t.Errorf("Retry() = %d, want 1 after first failed attempt", got)
	}
	if a.Status() == entity.ErrorStatus || a.Status() == entity.Done {
		t.Errorf("expected action to still be pending retry, got %s", a.Status())
	}
	if len(sched.delayed) == 0 {
		t.Error("expected retry to go through the delay queue")
	}
	if a.StopTime() != nil {
		t.Error("StopTime should not be set while a retry is pending")
	}
}

func TestResetRestoresRetryBackup(t *testing.T) {
	a := New("start")
	a.Delay = time.Second
	a.SetRetry(3)
	a.SetStatus(entity.Done)

	a.retry = 0
	a.Reset()

	if got := a.Retry(); got != 3 {
		t.Errorf("Retry() after Reset = %d, want 3 (backup)", got)
	}
	if got := a.Status(); got != entity.NoStatus {
		t.Errorf("Status() after Reset = %s, want NO_STATUS", got)
	}
}

func TestSetRetryWithoutDelayPanics(t *testing.T) {
	a := New("start")
	defer func() {
		if recover() == nil {
			t.Error("expected panic when setting retry without a delay")
		}
	}()
	a.SetRetry(1)
}

func TestUpdateStatusRollsUpToParentService(t *testing.T) {
	a := New("start")
	parent := &fakeParentService{}
	a.SetParent(parent)
	ctx, _, bus := newCtx()

	a.UpdateStatus(ctx, entity.Done)

	if len(parent.rollups) != 1 || parent.rollups[0] != entity.Done {
		t.Fatalf("parent.rollups = %v, want [DONE]", parent.rollups)
	}
	if len(bus.completed) != 1 {
		t.Errorf("expected EV_COMPLETE to be emitted once")
	}
	if len(bus.statusChanges) != 1 {
		t.Errorf("expected EV_STATUS_CHANGED to be emitted once")
	}
}

func TestUpdateStatusSuppressesCompleteInSimulateMode(t *testing.T) {
	a := New("start")
	a.SetSimulate(true)
	parent := &fakeParentService{}
	a.SetParent(parent)
	ctx, _, bus := newCtx()

	a.UpdateStatus(ctx, entity.Done)

	if len(bus.completed) != 0 {
		t.Errorf("expected EV_COMPLETE suppressed in simulate mode, got %d", len(bus.completed))
	}
}

func TestUpdateStatusRejectsUnexpectedStatus(t *testing.T) {
	a := New("start")
	ctx, _, _ := newCtx()
	defer func() {
		if recover() == nil {
			t.Error("expected panic for a status Action cannot receive directly")
		}
	}()
	a.UpdateStatus(ctx, entity.DepError)
}

func TestFireDelayedSimulateResolvesFromDeps(t *testing.T) {
	a := New("start")
	a.SetSimulate(true)
	parent := &fakeParentService{}
	a.SetParent(parent)
	ctx, sched, _ := newCtx()

	a.FireDelayed(ctx)

	if len(sched.performed) != 0 || len(sched.delayed) != 0 {
		t.Error("simulate mode should resolve without touching the scheduler")
	}
	if got := a.Status(); got != entity.Done {
		t.Errorf("Status() = %s, want DONE", got)
	}
}

// fakeParentService is a minimal ParentService used to observe rollups
// without depending on the service package (which itself depends on
// action, so a real Service can't be imported here).
type fakeParentService struct {
	rollups []entity.Status
}

func (p *fakeParentService) RollupFromAction(ctx *RunContext, status entity.Status, errorCount, timeoutCount int) {
	p.rollups = append(p.rollups, status)
}

func (p *fakeParentService) Name() string          { return "parent" }
func (p *fakeParentService) Status() entity.Status { return entity.NoStatus }
func (p *fakeParentService) IsReady() bool         { return true }
