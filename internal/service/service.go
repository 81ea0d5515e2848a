// Package service implements the Service entity: a named container of
// Actions, wired to its siblings by require/require_weak/check edges at the
// service level (spec.md §4.3).
package service

import (
	"fmt"
	"sync"

	"github.com/cea-hpc/milkcheck/internal/action"
	"github.com/cea-hpc/milkcheck/internal/entity"
	"github.com/cea-hpc/milkcheck/internal/nodeset"
)

// Preparer lets Service.UpdateStatus generically re-enter a ready sibling
// service, whatever concrete type it is (a plain Service or a
// ServiceGroup, which embeds Service).
type Preparer interface {
	entity.Node
	PrepareWith(ctx *action.RunContext, actionName string)
}

// Service is a named collection of Actions, inheriting shared attributes
// down to them and propagating status through the require/require_weak/
// check graph wired between services (spec.md §3, §4.3).
type Service struct {
	*entity.Entity

	mu             sync.RWMutex
	actions        map[string]*action.Action
	lastActionName string
	resolvedHook   func(ctx *action.RunContext, status entity.Status)
}

// New returns an empty Service named name.
func New(name string) *Service {
	return &Service{
		Entity:  entity.New(name),
		actions: make(map[string]*action.Action),
	}
}

// AddAction binds a to the service under its own name. It is an error to
// register two actions with the same name on one service (spec.md §3
// invariants).
func (s *Service) AddAction(a *action.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[a.Name()]; exists {
		return fmt.Errorf("service %s: duplicate action %q", s.Name(), a.Name())
	}
	s.actions[a.Name()] = a
	a.SetParent(s)
	return nil
}

// HasAction reports whether the service declares an action named name.
func (s *Service) HasAction(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.actions[name]
	return ok
}

// Action returns the named action and whether it exists.
func (s *Service) Action(name string) (*action.Action, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[name]
	return a, ok
}

// Actions returns every action declared on the service, in no particular
// order.
func (s *Service) Actions() []*action.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*action.Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	return out
}

// LastActionName returns the name of the action most recently passed to
// Prepare, or "" if the service has not been asked to run anything yet.
func (s *Service) LastActionName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActionName
}

// RecordActionName sets the name Prepare will report through
// LastActionName, without otherwise touching the service. ServiceGroup
// calls this directly since it overrides Prepare entirely and so never
// runs the bookkeeping the embedded Service's own Prepare would have done.
func (s *Service) RecordActionName(name string) {
	s.mu.Lock()
	s.lastActionName = name
	s.mu.Unlock()
}

// OnResolved registers fn to be called once the service reaches a terminal
// status, alongside the normal EV_STATUS_CHANGED/EV_COMPLETE emission.
// ServiceGroup uses this to adopt its sink (or, reversed, source) sentinel's
// final status as its own without folding the group's externally-wired
// dependencies and its internal sentinel completion into a single
// EvalDepsStatus call.
func (s *Service) OnResolved(fn func(ctx *action.RunContext, status entity.Status)) {
	s.resolvedHook = fn
}

// Prepare is the service-level analogue of Action.Prepare (spec.md §4.3):
// it waits on sibling services wired as parents, transitions straight to
// SKIPPED on an empty target or DEP_ERROR on a blocking sibling failure,
// and otherwise inherits its attributes down into the named action and
// starts it. A service with no action registered under actionName resolves
// to MISSING rather than blocking the rest of the run.
func (s *Service) Prepare(ctx *action.RunContext, actionName string) {
	if s.Status() != entity.NoStatus {
		return
	}
	s.mu.Lock()
	s.lastActionName = actionName
	s.mu.Unlock()

	depsStatus := s.EvalDepsStatus()
	if depsStatus == entity.WaitingStatus {
		return
	}
	if s.Skipped() {
		s.UpdateStatus(ctx, entity.Skipped)
		return
	}
	if depsStatus == entity.DepError {
		s.UpdateStatus(ctx, entity.DepError)
		return
	}
	if depsStatus == entity.Done || len(s.Parents()) == 0 {
		s.runAction(ctx, actionName)
		return
	}
	for _, dep := range s.SearchDeps(entity.NoStatus) {
		if p, ok := dep.Remote.(Preparer); ok {
			p.PrepareWith(ctx, actionName)
		}
	}
}

// UpdateTarget sets the service's own target, then forces the same target
// onto every action already registered on it, overriding whatever the
// action had inherited or set for itself — update_target is an explicit
// reassignment, not the copy-if-unset semantics InheritsFrom uses
// (spec.md §4.1 "set target and propagate to all transitively contained
// subservices"; for a plain Service, its actions are what that propagation
// reaches).
func (s *Service) UpdateTarget(t nodeset.Set) {
	s.Entity.UpdateTarget(t)
	for _, a := range s.Actions() {
		a.UpdateTarget(t)
	}
}

// PrepareWith satisfies Preparer.
func (s *Service) PrepareWith(ctx *action.RunContext, actionName string) {
	s.Prepare(ctx, actionName)
}

func (s *Service) runAction(ctx *action.RunContext, actionName string) {
	a, ok := s.Action(actionName)
	if !ok {
		s.UpdateStatus(ctx, entity.Missing)
		return
	}
	a.InheritsFrom(s.Entity)
	s.SetStatus(entity.WaitingStatus)
	a.Prepare(ctx)
}

// RollupFromAction folds an action's terminal outcome into the service's
// own status (spec.md §4.2's "delegate update_status to the parent
// service"), applying two independent demotions to WARNING: an ERROR or
// TIMEOUT whose failed-node count still falls within the service's own
// warnings tolerance (spec.md §4.3 "A Service folds its action's status
// with its own errors/warnings tolerances"), and a successful action
// demoted because a REQUIRE_WEAK sibling dependency ended in an
// error-class status (spec.md §4.3's propagation table).
func (s *Service) RollupFromAction(ctx *action.RunContext, status entity.Status, errorCount, timeoutCount int) {
	final := status
	if (status == entity.ErrorStatus || status == entity.Timeout) && errorCount+timeoutCount <= s.WarningsTolerance() {
		final = entity.Warning
	}
	if final == entity.Done && s.hasWeakFailure() {
		final = entity.Warning
	}
	s.UpdateStatus(ctx, final)
}

// HasWeakFailure reports whether any REQUIRE_WEAK parent dependency ended in
// an error-class status, exported so ServiceGroup can apply the same
// demotion to the status its exit sentinel hands it (spec.md §4.4 "weak
// external dep error and successful internals ends WARNING").
func (s *Service) HasWeakFailure() bool {
	return s.hasWeakFailure()
}

func (s *Service) hasWeakFailure() bool {
	for _, dep := range s.Parents() {
		if dep.Strength == entity.RequireWeak && dep.Remote.Status().IsErrorClass() {
			return true
		}
	}
	return false
}

// UpdateStatus sets status, emits EV_STATUS_CHANGED, and — once terminal —
// emits EV_COMPLETE (suppressed in simulate mode) and triggers any sibling
// service made ready by this transition (spec.md §4.3).
func (s *Service) UpdateStatus(ctx *action.RunContext, status entity.Status) {
	s.SetStatus(status)
	ctx.Bus.EmitStatusChanged(s)

	if !status.IsTerminal() {
		return
	}
	if !s.Simulate() {
		ctx.Bus.EmitComplete(s)
	}
	if s.resolvedHook != nil {
		s.resolvedHook(ctx, status)
	}

	for _, dep := range s.Children() {
		if dep.Remote.IsReady() {
			ctx.Bus.EmitTriggerDep(s, dep.Remote)
			if p, ok := dep.Remote.(Preparer); ok {
				p.PrepareWith(ctx, s.LastActionName())
			}
		}
	}
}

// ToDict serializes the service's own attributes and its actions, keyed by
// action name, into the map shape internal/config builds services from
// (SPEC_FULL.md §9's round-trip serializer). It does not include require/
// require_weak/check edges to siblings — those live in the enclosing
// configuration document, not on the service itself.
func (s *Service) ToDict() map[string]interface{} {
	out := s.Entity.ToDict()
	actions := s.Actions()
	if len(actions) > 0 {
		actionsOut := make(map[string]interface{}, len(actions))
		for _, a := range actions {
			actionsOut[a.Name()] = a.ToDict()
		}
		out["actions"] = actionsOut
	}
	return out
}

// Reset restores NO_STATUS on the service and every one of its actions
// (spec.md §3 Lifecycle), so a service can be re-run after a prior pass.
func (s *Service) Reset() {
	s.Entity.Reset()
	for _, a := range s.Actions() {
		a.Reset()
	}
}
