// Package action implements the Action entity: a single executable unit
// bound to a Service, owning timing, retry, delay and the event hooks
// invoked once the worker completes (spec.md §4.2).
package action

import (
	"time"

	"github.com/cea-hpc/milkcheck/internal/entity"
	"github.com/cea-hpc/milkcheck/internal/merrors"
)

// Scheduler is the subset of the action manager (spec.md §4.5) an Action
// needs to submit itself for execution. Defined on the consumer side so
// internal/scheduler can depend on internal/action without a cycle.
type Scheduler interface {
	PerformAction(a *Action)
	PerformDelayedAction(a *Action)
}

// EventBus is the subset of the callback bus (spec.md §4.5.1, §6) an Action
// needs to notify of its lifecycle.
type EventBus interface {
	EmitStarted(a *Action)
	EmitComplete(n entity.Node)
	EmitStatusChanged(n entity.Node)
	EmitTriggerDep(from, to entity.Node)
}

// ParentService is the subset of Service an Action needs in order to roll
// its outcome up into its owning service (spec.md §4.2's "delegate
// update_status to the parent service"). errorCount and timeoutCount are
// the raw per-node counts OnComplete folded into status, passed through so
// the service can apply its own warnings tolerance on top of the action's
// own errors tolerance (spec.md §4.3 "A Service folds its action's status
// with its own errors/warnings tolerances").
type ParentService interface {
	entity.Node
	RollupFromAction(ctx *RunContext, status entity.Status, errorCount, timeoutCount int)
}

// Preparer lets UpdateStatus generically re-enter an already-ready child
// dependency, whatever concrete type it is. In the configurations this
// repository builds from FromDict, Actions are never wired to each other
// directly (require/require_weak/check only ever connect Services), so
// this path is exercised only by callers that wire Action-to-Action edges
// by hand through entity.Wire.
type Preparer interface {
	entity.Node
	PrepareWith(ctx *RunContext)
}

// RunContext threads the scheduler and event bus through one Run call
// instead of relying on process-wide singletons (spec.md §9).
type RunContext struct {
	Scheduler Scheduler
	Bus       EventBus
}

// Result is what a worker.Handle must expose for Action's completion
// handler to fold into a status (spec.md §4.2, §6).
type Result interface {
	ErrorCount() int
	TimeoutCount() int
}

// Action is a command template bound to exactly one parent Service.
type Action struct {
	*entity.Entity

	parent ParentService

	Command string
	Delay   time.Duration

	retry       int
	retryBackup int
	retrySet    bool

	startTime *time.Time
	stopTime  *time.Time

	lastResult Result
}

// New returns an Action named name with no command or parent yet.
func New(name string) *Action {
	return &Action{Entity: entity.New(name)}
}

// SetParent binds the Action to its owning Service. Called once by
// Service.AddAction.
func (a *Action) SetParent(p ParentService) { a.parent = p }

// Parent returns the owning Service, or nil if unbound.
func (a *Action) Parent() ParentService { return a.parent }

// SetRetry sets the retry counter. retry > 0 requires Delay > 0
// (spec.md §3 invariants); the first call also records the backup value
// restored by Reset.
func (a *Action) SetRetry(n int) {
	if n > 0 && a.Delay <= 0 {
		merrors.Raise(a.Name(), "retry set to %d without a delay", n)
	}
	if n < 0 {
		merrors.Raise(a.Name(), "negative retry %d", n)
	}
	a.retry = n
	if !a.retrySet {
		a.retryBackup = n
		a.retrySet = true
	}
}

// Retry returns the current retry counter.
func (a *Action) Retry() int { return a.retry }

// Reset restores NO_STATUS and the retry backup (spec.md §3 Lifecycle).
func (a *Action) Reset() {
	a.Entity.Reset()
	a.startTime = nil
	a.stopTime = nil
	a.lastResult = nil
	a.retry = a.retryBackup
}

// StartTime, StopTime expose the timing fields read by Duration and by
// report rendering.
func (a *Action) StartTime() *time.Time { return a.startTime }
func (a *Action) StopTime() *time.Time  { return a.stopTime }

// Duration returns the wall-clock time the action spent executing. ok is
// false until both StartTime and StopTime have been recorded (the original
// implementation's `duration` property, carried forward per SPEC_FULL.md §9).
func (a *Action) Duration() (d time.Duration, ok bool) {
	if a.startTime == nil || a.stopTime == nil {
		return 0, false
	}
	return a.stopTime.Sub(*a.startTime), true
}

// Prepare is idempotent: it schedules the action immediately if it has no
// dependencies wired (see Preparer's doc comment) or if those dependencies
// ended in DEP_ERROR; once wired dependencies all resolve DONE it marks the
// action DONE without scheduling it; while some are still unresolved it
// prepares those instead (spec.md §4.2; the "no parents wired" branch
// follows the original implementation's `not self.parents` special case —
// see DESIGN.md).
func (a *Action) Prepare(ctx *RunContext) {
	if a.Status() != entity.NoStatus {
		return
	}
	depsStatus := a.EvalDepsStatus()
	if depsStatus == entity.WaitingStatus {
		return
	}
	if a.Skipped() {
		a.UpdateStatus(ctx, entity.Skipped)
		return
	}
	if depsStatus == entity.DepError || len(a.Parents()) == 0 {
		a.SetStatus(entity.WaitingStatus)
		a.Schedule(ctx, true)
		return
	}
	if depsStatus == entity.Done {
		a.UpdateStatus(ctx, entity.Done)
		return
	}
	for _, dep := range a.SearchDeps(entity.NoStatus) {
		if p, ok := dep.Remote.(Preparer); ok {
			p.PrepareWith(ctx)
		}
	}
}

// PrepareWith satisfies Preparer, allowing Action to appear as a child
// dependency target of another Action (spec.md §9's generic entity
// mechanics), even though FromDict never wires this path.
func (a *Action) PrepareWith(ctx *RunContext) { a.Prepare(ctx) }

// Schedule records start_time on first call and either arms a delay timer
// or submits the action for immediate execution (spec.md §4.2).
func (a *Action) Schedule(ctx *RunContext, allowDelay bool) {
	if a.startTime == nil {
		now := time.Now()
		a.startTime = &now
	}
	if a.Delay > 0 && allowDelay {
		ctx.Scheduler.PerformDelayedAction(a)
	} else {
		ctx.Scheduler.PerformAction(a)
	}
}

// FireDelayed is invoked by the scheduler's timer when a delayed action's
// wait elapses. In simulate mode it resolves status from dependency state
// directly instead of going through the worker at all (SPEC_FULL.md §9,
// following the original implementation's ev_timer handling).
func (a *Action) FireDelayed(ctx *RunContext) {
	if a.Simulate() {
		a.UpdateStatus(ctx, statusForSimulate(a.EvalDepsStatus()))
		return
	}
	a.Schedule(ctx, false)
}

// statusForSimulate maps a dependency-resolution outcome onto one of the
// statuses UpdateStatus accepts from Action, for the simulate-mode path.
func statusForSimulate(depsStatus entity.Status) entity.Status {
	if depsStatus == entity.DepError {
		return entity.ErrorStatus
	}
	return entity.Done
}

// UpdateStatus sets status, emits EV_STATUS_CHANGED, and — once status is
// terminal — emits EV_COMPLETE (suppressed in simulate mode), triggers any
// ready child dependency, and otherwise rolls the outcome up into the
// parent service (spec.md §4.2).
func (a *Action) UpdateStatus(ctx *RunContext, status entity.Status) {
	switch status {
	case entity.NoStatus, entity.WaitingStatus, entity.Done, entity.Skipped, entity.ErrorStatus, entity.Timeout:
	default:
		merrors.Raise(a.Name(), "bad action status %s", status)
	}

	a.SetStatus(status)
	ctx.Bus.EmitStatusChanged(a)

	if !status.IsTerminal() {
		return
	}

	if !a.Simulate() {
		ctx.Bus.EmitComplete(a)
	}

	children := a.Children()
	if len(children) == 0 {
		if a.parent != nil {
			errors, timeouts := 0, 0
			if a.lastResult != nil {
				errors, timeouts = a.lastResult.ErrorCount(), a.lastResult.TimeoutCount()
			}
			a.parent.RollupFromAction(ctx, status, errors, timeouts)
		}
		return
	}
	for _, dep := range children {
		if dep.Remote.IsReady() {
			ctx.Bus.EmitTriggerDep(a, dep.Remote)
			if p, ok := dep.Remote.(Preparer); ok {
				p.PrepareWith(ctx)
			}
		}
	}
}

// RemoveTask is implemented by the scheduler to free the fan-out slot an
// action was occupying. Declared here, alongside Scheduler, so OnComplete
// can call it without the action package depending on internal/scheduler.
type removeTasker interface {
	RemoveTask(a *Action)
}

// OnComplete is the worker-completion handler (spec.md §4.2's decision
// table): it frees the action's fan-out slot, then either re-schedules on
// retry or finalizes with DONE, TIMEOUT or ERROR depending on how the
// worker's per-node results compare against the action's error tolerance
// (following the original implementation's ev_close handler, carried
// forward unchanged in spec.md §4.2).
func (a *Action) OnComplete(ctx *RunContext, result Result) {
	if rt, ok := ctx.Scheduler.(removeTasker); ok {
		rt.RemoveTask(a)
	}

	a.lastResult = result
	errors := result.ErrorCount()
	timeouts := result.TimeoutCount()
	tolerance := a.ErrorsTolerance()

	if (errors > 0 || timeouts > 0) && a.retry > 0 {
		a.retry--
		a.Schedule(ctx, true)
		return
	}

	now := time.Now()
	a.stopTime = &now

	switch {
	case timeouts > tolerance && errors == 0:
		a.UpdateStatus(ctx, entity.Timeout)
	case errors+timeouts > tolerance:
		a.UpdateStatus(ctx, entity.ErrorStatus)
	default:
		a.UpdateStatus(ctx, entity.Done)
	}
}

// LastResult returns the most recent worker result folded by OnComplete, or
// nil if the action has not completed a run yet.
func (a *Action) LastResult() Result { return a.lastResult }

// ToDict serializes the action into the same map shape
// internal/config's buildAction consumes (SPEC_FULL.md §9's
// round-trip serializer, symmetric with the building done in
// internal/config).
func (a *Action) ToDict() map[string]interface{} {
	out := a.Entity.ToDict()
	if a.Command != "" {
		out["command"] = a.Command
	}
	if a.Delay > 0 {
		out["delay"] = int(a.Delay.Seconds())
	}
	if a.retrySet {
		out["retry"] = a.retryBackup
	}
	return out
}
