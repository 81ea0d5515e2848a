package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/milkcheck/internal/action"
	"github.com/cea-hpc/milkcheck/internal/entity"
	"github.com/cea-hpc/milkcheck/internal/nodeset"
)

type fakeResult struct{}

func (fakeResult) ErrorCount() int   { return 0 }
func (fakeResult) TimeoutCount() int { return 0 }

// blockingWorker holds every Run call open until the test releases it,
// letting tests observe how many actions are admitted concurrently.
type blockingWorker struct {
	mu      sync.Mutex
	started []*action.Action
	release chan struct{}
}

func newBlockingWorker() *blockingWorker {
	return &blockingWorker{release: make(chan struct{})}
}

func (w *blockingWorker) Run(ctx context.Context, a *action.Action) action.Result {
	w.mu.Lock()
	w.started = append(w.started, a)
	w.mu.Unlock()
	<-w.release
	return fakeResult{}
}

func (w *blockingWorker) startedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.started)
}

type fakeBus struct{}

func (fakeBus) EmitStarted(a *action.Action)        {}
func (fakeBus) EmitComplete(n entity.Node)          {}
func (fakeBus) EmitStatusChanged(n entity.Node)     {}
func (fakeBus) EmitTriggerDep(from, to entity.Node) {}

// countingBus records how many times EmitStarted fires, to check it's
// suppressed for simulated actions (spec.md §6).
type countingBus struct {
	mu      sync.Mutex
	started int
}

func (b *countingBus) EmitStarted(a *action.Action) {
	b.mu.Lock()
	b.started++
	b.mu.Unlock()
}
func (b *countingBus) EmitComplete(n entity.Node)          {}
func (b *countingBus) EmitStatusChanged(n entity.Node)     {}
func (b *countingBus) EmitTriggerDep(from, to entity.Node) {}
func (b *countingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

func newAction(t *testing.T, name string, fanout int) *action.Action {
	t.Helper()
	a := action.New(name)
	a.SetTarget(nodeset.New("node1"))
	a.SetFanout(fanout)
	return a
}

func TestPerformActionDispatchesImmediately(t *testing.T) {
	w := newBlockingWorker()
	s := New(w, fakeBus{})
	s.Start()
	defer s.Stop()

	a := newAction(t, "start", 0)
	s.PerformAction(a)

	require.Eventually(t, func() bool { return w.startedCount() == 1 }, time.Second, 5*time.Millisecond)
	close(w.release)
}

func TestFanoutLimitsConcurrentActions(t *testing.T) {
	w := newBlockingWorker()
	s := New(w, fakeBus{})
	s.Start()
	defer s.Stop()

	a1 := newAction(t, "a1", 1)
	a2 := newAction(t, "a2", 1)
	s.PerformAction(a1)
	require.Eventually(t, func() bool { return w.startedCount() == 1 }, time.Second, 5*time.Millisecond)

	s.PerformAction(a2)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, w.startedCount(), "second action should be queued behind fanout=1")

	close(w.release)
	require.Eventually(t, func() bool { return w.startedCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPerformDelayedActionFiresAfterDelay(t *testing.T) {
	w := newBlockingWorker()
	s := New(w, fakeBus{})
	s.Start()
	defer s.Stop()

	a := newAction(t, "start", 0)
	a.Delay = 20 * time.Millisecond
	s.PerformDelayedAction(a)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, w.startedCount(), "action should not run before its delay elapses")

	require.Eventually(t, func() bool { return w.startedCount() == 1 }, time.Second, 5*time.Millisecond)
	close(w.release)
}

func TestDispatchSuppressesEmitStartedInSimulateMode(t *testing.T) {
	w := newBlockingWorker()
	bus := &countingBus{}
	s := New(w, bus)
	s.Start()
	defer s.Stop()

	a := newAction(t, "start", 0)
	a.SetSimulate(true)
	s.PerformAction(a)

	require.Eventually(t, func() bool { return w.startedCount() == 1 }, time.Second, 5*time.Millisecond)
	close(w.release)
	assert.Equal(t, 0, bus.count(), "EmitStarted must be suppressed for a simulated action")
}

func TestDispatchEmitsStartedOutsideSimulateMode(t *testing.T) {
	w := newBlockingWorker()
	bus := &countingBus{}
	s := New(w, bus)
	s.Start()
	defer s.Stop()

	a := newAction(t, "start", 0)
	s.PerformAction(a)

	require.Eventually(t, func() bool { return bus.count() == 1 }, time.Second, 5*time.Millisecond)
	close(w.release)
}

func TestRemoveTaskPromotesQueuedAction(t *testing.T) {
	w := newBlockingWorker()
	s := New(w, fakeBus{})
	s.Start()
	defer s.Stop()

	a1 := newAction(t, "a1", 1)
	a2 := newAction(t, "a2", 1)
	s.PerformAction(a1)
	require.Eventually(t, func() bool { return w.startedCount() == 1 }, time.Second, 5*time.Millisecond)
	s.PerformAction(a2)

	close(w.release) // lets a1's Run return, freeing a slot for a2
	require.Eventually(t, func() bool { return w.startedCount() == 2 }, time.Second, 5*time.Millisecond)
}
