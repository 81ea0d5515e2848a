// Package scheduler implements the action manager: a single-goroutine
// dispatcher that admits, delays and retires Actions while enforcing
// fan-out across whatever is currently running (spec.md §4.5). Every
// mutation to its own bookkeeping happens on one goroutine reached through
// a command channel, the Go realization of the single-logical-thread
// concurrency model described in SPEC_FULL.md §5 — grounded on the
// teacher's reconciler.workQueue/delayedQueue dedup-and-replay pattern.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cea-hpc/milkcheck/internal/action"
)

// Worker dispatches one action's command against its target nodeset and
// returns a Result once every node has answered or timed out.
type Worker interface {
	Run(ctx context.Context, a *action.Action) action.Result
}

// Scheduler is the action manager. Construct with New, Start it, submit
// the run's entry points through its Context(), then Stop it once the run
// has settled.
type Scheduler struct {
	worker Worker
	ctx    *action.RunContext

	cmds chan func()
	stop chan struct{}
	wg   sync.WaitGroup

	running         map[*action.Action]struct{}
	effectiveFanout int
	pending         []*action.Action
	queuedSet       map[*action.Action]bool

	timers map[*action.Action]*time.Timer
}

// New returns a Scheduler that dispatches through w and notifies bus.
func New(w Worker, bus action.EventBus) *Scheduler {
	s := &Scheduler{
		worker:    w,
		cmds:      make(chan func(), 64),
		stop:      make(chan struct{}),
		running:   make(map[*action.Action]struct{}),
		queuedSet: make(map[*action.Action]bool),
		timers:    make(map[*action.Action]*time.Timer),
	}
	s.ctx = &action.RunContext{Scheduler: s, Bus: bus}
	return s
}

// Context returns the RunContext bound to this scheduler, passed into
// Service.Prepare/Action.Prepare to kick off a run.
func (s *Scheduler) Context() *action.RunContext { return s.ctx }

// Start launches the dispatch goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop signals the dispatch goroutine to exit, waits for it, and cancels
// any pending delay timers. Commands still queued when the stop signal is
// seen are not run.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	for _, t := range s.timers {
		t.Stop()
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.stop:
			return
		}
	}
}

// submit funnels fn onto the dispatch goroutine; fn itself always runs
// synchronously there, never concurrently with another submitted fn.
func (s *Scheduler) submit(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.stop:
	}
}

// PerformAction implements action.Scheduler: admits a immediately if the
// fan-out window allows, else appends it to the pending FIFO.
func (s *Scheduler) PerformAction(a *action.Action) {
	s.submit(func() { s.admit(a) })
}

// PerformDelayedAction implements action.Scheduler: arms a timer for
// a.Delay that re-enters the dispatch goroutine through FireDelayed once
// it fires.
func (s *Scheduler) PerformDelayedAction(a *action.Action) {
	s.submit(func() {
		t := time.AfterFunc(a.Delay, func() {
			s.submit(func() {
				delete(s.timers, a)
				a.FireDelayed(s.ctx)
			})
		})
		s.timers[a] = t
	})
}

// RemoveTask implements action package's removeTasker hook: frees a's
// fan-out slot, recomputes the effective fan-out over the actions still
// running, and promotes queued actions while capacity allows.
func (s *Scheduler) RemoveTask(a *action.Action) {
	s.submit(func() {
		delete(s.running, a)
		s.effectiveFanout = 0
		for r := range s.running {
			if af := r.Fanout(); af != 0 && (s.effectiveFanout == 0 || af < s.effectiveFanout) {
				s.effectiveFanout = af
			}
		}
		s.drainPending()
	})
}

// admit either dispatches a now or appends it to the pending FIFO,
// deduplicating against an action already queued.
func (s *Scheduler) admit(a *action.Action) {
	if s.queuedSet[a] {
		return
	}
	if s.capacityFor(a) {
		s.dispatch(a)
		return
	}
	s.pending = append(s.pending, a)
	s.queuedSet[a] = true
}

// capacityFor reports whether a can start now. The first action to run
// opens an unbounded window; every concurrent admission after it narrows
// the window to the minimum fanout seen among actions currently running
// (0 meaning unbounded), so a tightly fanned-out action throttles its
// siblings without needing a single global concurrency setting.
func (s *Scheduler) capacityFor(a *action.Action) bool {
	if len(s.running) == 0 {
		return true
	}
	fanout := s.effectiveFanout
	if af := a.Fanout(); af != 0 && (fanout == 0 || af < fanout) {
		fanout = af
	}
	return fanout == 0 || len(s.running) < fanout
}

func (s *Scheduler) dispatch(a *action.Action) {
	delete(s.queuedSet, a)
	s.running[a] = struct{}{}
	if af := a.Fanout(); af != 0 && (s.effectiveFanout == 0 || af < s.effectiveFanout) {
		s.effectiveFanout = af
	}
	if !a.Simulate() {
		s.ctx.Bus.EmitStarted(a)
	}

	go func() {
		result := s.worker.Run(context.Background(), a)
		s.submit(func() { a.OnComplete(s.ctx, result) })
	}()
}

func (s *Scheduler) drainPending() {
	var remaining []*action.Action
	for _, a := range s.pending {
		if s.capacityFor(a) {
			s.dispatch(a)
		} else {
			remaining = append(remaining, a)
		}
	}
	s.pending = remaining
}
