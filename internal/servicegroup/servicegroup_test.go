package servicegroup

import (
	"testing"

	"github.com/cea-hpc/milkcheck/internal/action"
	"github.com/cea-hpc/milkcheck/internal/entity"
	"github.com/cea-hpc/milkcheck/internal/nodeset"
	"github.com/cea-hpc/milkcheck/internal/service"
)

type fakeScheduler struct {
	performed []*action.Action
	delayed   []*action.Action
}

func (f *fakeScheduler) PerformAction(a *action.Action)        { f.performed = append(f.performed, a) }
func (f *fakeScheduler) PerformDelayedAction(a *action.Action) { f.delayed = append(f.delayed, a) }
func (f *fakeScheduler) RemoveTask(a *action.Action)           {}

type fakeBus struct{}

func (fakeBus) EmitStarted(a *action.Action)        {}
func (fakeBus) EmitComplete(n entity.Node)          {}
func (fakeBus) EmitStatusChanged(n entity.Node)     {}
func (fakeBus) EmitTriggerDep(from, to entity.Node) {}

type fakeResult struct {
	errors, timeouts int
}

func (r fakeResult) ErrorCount() int   { return r.errors }
func (r fakeResult) TimeoutCount() int { return r.timeouts }

func newCtx() (*action.RunContext, *fakeScheduler) {
	sched := &fakeScheduler{}
	return &action.RunContext{Scheduler: sched, Bus: fakeBus{}}, sched
}

func newGroupWithOneSubservice(t *testing.T) (*ServiceGroup, *service.Service) {
	t.Helper()
	g := New("mygroup")
	g.SetTarget(nodeset.New("node1"))

	web := service.New("web")
	web.SetTarget(nodeset.New("node1"))
	web.AddAction(action.New("start"))
	if err := g.AddSubservice(web); err != nil {
		t.Fatalf("AddSubservice: %v", err)
	}
	return g, web
}

func TestGroupPropagatesThroughSourceSubserviceSink(t *testing.T) {
	g, _ := newGroupWithOneSubservice(t)
	ctx, sched := newCtx()

	g.Prepare(ctx, "start")

	if got := g.Status(); got != entity.WaitingStatus {
		t.Fatalf("group.Status() = %s, want WAITING_STATUS", got)
	}
	if len(sched.performed) != 1 {
		t.Fatalf("expected source's action scheduled, performed = %d", len(sched.performed))
	}
	sched.performed[0].OnComplete(ctx, fakeResult{}) // source -> Done, triggers web

	if len(sched.performed) != 2 {
		t.Fatalf("expected web's action scheduled, performed = %d", len(sched.performed))
	}
	sched.performed[1].OnComplete(ctx, fakeResult{}) // web -> Done, triggers sink

	if len(sched.performed) != 3 {
		t.Fatalf("expected sink's action scheduled, performed = %d", len(sched.performed))
	}
	sched.performed[2].OnComplete(ctx, fakeResult{}) // sink -> Done, group adopts it

	if got := g.Status(); got != entity.Done {
		t.Errorf("group.Status() = %s, want DONE", got)
	}
}

func TestGroupBlocksOnOuterDepError(t *testing.T) {
	g, _ := newGroupWithOneSubservice(t)

	blocker := service.New("blocker")
	blocker.SetTarget(nodeset.New("node1"))
	blocker.AddAction(action.New("start"))
	entity.Wire(g, blocker, entity.Require)
	blocker.SetStatus(entity.ErrorStatus)

	ctx, sched := newCtx()
	g.Prepare(ctx, "start")

	if got := g.Status(); got != entity.DepError {
		t.Errorf("group.Status() = %s, want DEP_ERROR", got)
	}
	if len(sched.performed) != 0 {
		t.Errorf("expected no scheduling once blocked on an outer dependency, got %d", len(sched.performed))
	}
}

func TestGroupSkippedOnEmptyTarget(t *testing.T) {
	g := New("mygroup") // no target set
	web := service.New("web")
	web.AddAction(action.New("start"))
	g.AddSubservice(web)

	ctx, sched := newCtx()
	g.Prepare(ctx, "start")

	if got := g.Status(); got != entity.Skipped {
		t.Errorf("group.Status() = %s, want SKIPPED", got)
	}
	if len(sched.performed) != 0 {
		t.Errorf("expected no scheduling for a skipped group")
	}
}

func TestSetAlgoReversedPanicsAfterSentinelsBuilt(t *testing.T) {
	g, _ := newGroupWithOneSubservice(t)
	ctx, _ := newCtx()
	g.Prepare(ctx, "start") // builds sentinels

	defer func() {
		if recover() == nil {
			t.Error("expected panic changing AlgoReversed after sentinels were wired")
		}
	}()
	g.SetAlgoReversed(true)
}

func TestResetRestoresGroupSubservicesAndSentinels(t *testing.T) {
	g, web := newGroupWithOneSubservice(t)
	ctx, sched := newCtx()
	g.Prepare(ctx, "start")
	sched.performed[0].OnComplete(ctx, fakeResult{})
	sched.performed[1].OnComplete(ctx, fakeResult{})
	sched.performed[2].OnComplete(ctx, fakeResult{})

	g.Reset()

	if got := g.Status(); got != entity.NoStatus {
		t.Errorf("group.Status() after Reset = %s, want NO_STATUS", got)
	}
	if got := web.Status(); got != entity.NoStatus {
		t.Errorf("web.Status() after Reset = %s, want NO_STATUS", got)
	}
}

// Mirrors original_source's ServiceGroupTest.test_update_target: updating a
// group's target must also update its subservice's target.
func TestUpdateTargetPropagatesToSubservices(t *testing.T) {
	g := New("G")
	a := service.New("A")
	if err := g.AddSubservice(a); err != nil {
		t.Fatalf("AddSubservice: %v", err)
	}

	newTarget := nodeset.New("fortoy5", "fortoy6", "fortoy7", "fortoy8", "fortoy9", "fortoy10")
	g.UpdateTarget(newTarget)

	if got := g.Target().String(); got != newTarget.String() {
		t.Errorf("group target = %s, want %s", got, newTarget)
	}
	if got := a.Target().String(); got != newTarget.String() {
		t.Errorf("subservice target = %s, want %s", got, newTarget)
	}
}
