// Package servicegroup implements ServiceGroup: a container of Services
// spliced into the outer require/require_weak/check graph through two
// hidden sentinel services, source and sink, so the group behaves as a
// single node from the outside while running its own subgraph internally
// (spec.md §4.4). AlgoReversed swaps which sentinel is the entry point,
// for actions (like "stop") that must run the inner graph back to front.
package servicegroup

import (
	"fmt"
	"sync"

	"github.com/cea-hpc/milkcheck/internal/action"
	"github.com/cea-hpc/milkcheck/internal/entity"
	"github.com/cea-hpc/milkcheck/internal/nodeset"
	"github.com/cea-hpc/milkcheck/internal/service"
)

// ServiceGroup is a Service whose own action set is always empty; running
// it means running the actions of its subservices, in dependency order,
// with source and sink marking the splice points into the outer graph.
type ServiceGroup struct {
	*service.Service

	mu             sync.RWMutex
	subservices    map[string]*service.Service
	source, sink   *service.Service
	algoReversed   bool
	sentinelsBuilt bool
}

// New returns an empty ServiceGroup named name.
func New(name string) *ServiceGroup {
	return &ServiceGroup{
		Service:     service.New(name),
		subservices: make(map[string]*service.Service),
	}
}

// AddSubservice registers sub as a member of the group. It is an error to
// register two subservices with the same name, or to reuse "source"/"sink"
// (reserved for the hidden splice points).
func (g *ServiceGroup) AddSubservice(sub *service.Service) error {
	if sub.Name() == "source" || sub.Name() == "sink" {
		return fmt.Errorf("servicegroup %s: %q is a reserved sentinel name", g.Name(), sub.Name())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.subservices[sub.Name()]; exists {
		return fmt.Errorf("servicegroup %s: duplicate subservice %q", g.Name(), sub.Name())
	}
	g.subservices[sub.Name()] = sub
	return nil
}

// Subservice returns the named subservice and whether it exists.
func (g *ServiceGroup) Subservice(name string) (*service.Service, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sub, ok := g.subservices[name]
	return sub, ok
}

// Subservices returns every subservice, excluding the hidden source/sink
// sentinels (spec.md §4.4: they never appear in listings or DOT export).
func (g *ServiceGroup) Subservices() []*service.Service {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*service.Service, 0, len(g.subservices))
	for _, sub := range g.subservices {
		out = append(out, sub)
	}
	return out
}

// HasSubservice reports whether name names a real subservice (never true
// for "source"/"sink").
func (g *ServiceGroup) HasSubservice(name string) bool {
	_, ok := g.Subservice(name)
	return ok
}

// AddInterDep wires a require/require_weak/check edge between two
// subservices already registered in the group (spec.md §4.4).
func (g *ServiceGroup) AddInterDep(childName, parentName string, strength entity.Strength) error {
	child, ok := g.Subservice(childName)
	if !ok {
		return fmt.Errorf("servicegroup %s: unknown subservice %q", g.Name(), childName)
	}
	parent, ok := g.Subservice(parentName)
	if !ok {
		return fmt.Errorf("servicegroup %s: unknown subservice %q", g.Name(), parentName)
	}
	entity.Wire(child, parent, strength)
	return nil
}

// RemoveInterDep removes a previously wired inter-subservice edge.
func (g *ServiceGroup) RemoveInterDep(childName, parentName string) error {
	child, ok := g.Subservice(childName)
	if !ok {
		return fmt.Errorf("servicegroup %s: unknown subservice %q", g.Name(), childName)
	}
	parent, ok := g.Subservice(parentName)
	if !ok {
		return fmt.Errorf("servicegroup %s: unknown subservice %q", g.Name(), parentName)
	}
	entity.Unwire(child, parent)
	return nil
}

// SetAlgoReversed swaps which sentinel the group treats as its entry point
// (source normally, sink once reversed), for actions that must traverse
// the inner graph in the opposite order (spec.md §4.4, e.g. "stop" vs
// "start"). It must be called before the group's first Prepare call for a
// given run; changing it afterwards panics, since the sentinel wiring and
// rollup hook are only ever built once.
func (g *ServiceGroup) SetAlgoReversed(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sentinelsBuilt && g.algoReversed != v {
		panic(fmt.Sprintf("servicegroup %s: AlgoReversed changed after sentinels were wired", g.Name()))
	}
	g.algoReversed = v
}

// UpdateTarget sets the group's own target, then recurses into every
// subservice so it too picks up the reassignment along with its own
// actions (spec.md §4.1; original_source's ServiceGroupTest.test_update_target
// asserts grp.update_target also updates its subservice's target).
func (g *ServiceGroup) UpdateTarget(t nodeset.Set) {
	g.Service.UpdateTarget(t)
	for _, sub := range g.Subservices() {
		sub.UpdateTarget(t)
	}
}

// AlgoReversed reports the current traversal direction.
func (g *ServiceGroup) AlgoReversed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.algoReversed
}

// frontBack returns the entry sentinel (where Prepare starts the inner
// subgraph) and the exit sentinel (whose final status the group adopts as
// its own), swapped when algoReversed.
func (g *ServiceGroup) frontBack() (front, back *service.Service) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.algoReversed {
		return g.sink, g.source
	}
	return g.source, g.sink
}

// ensureSentinels lazily builds the hidden source/sink services, wires
// every subservice with no intra-group parent as a child of source and
// every subservice nothing else in the group depends on as a parent of
// sink, and registers the exit sentinel's completion hook so the group
// adopts its status (spec.md §4.4).
func (g *ServiceGroup) ensureSentinels(actionName string) {
	g.mu.Lock()
	firstBuild := g.source == nil
	if firstBuild {
		g.source = service.New("source")
		g.sink = service.New("sink")
		// The sentinels run on the group's own target; with an empty
		// target they would resolve SKIPPED instead of driving the subgraph.
		g.source.SetTarget(g.Target())
		g.sink.SetTarget(g.Target())
		g.sentinelsBuilt = true
	}
	source, sink := g.source, g.sink
	g.mu.Unlock()

	if firstBuild {
		subs := g.Subservices()
		if len(subs) == 0 {
			// Empty group (spec.md §4.4): nothing to splice source/sink
			// around, so wire sink directly off source to settle DONE as
			// soon as the entry sentinel runs.
			entity.Wire(sink, source, entity.Require)
		}
		for _, sub := range subs {
			if len(sub.Parents()) == 0 {
				entity.Wire(sub, source, entity.Require)
			}
			if len(sub.Children()) == 0 {
				entity.Wire(sink, sub, entity.Require)
			}
		}
		_, back := g.frontBack()
		back.OnResolved(func(ctx *action.RunContext, status entity.Status) {
			g.adoptSentinelStatus(ctx, status)
		})
	}

	for _, sentinel := range []*service.Service{source, sink} {
		if !sentinel.HasAction(actionName) {
			a := action.New(actionName)
			a.SetTarget(g.Target())
			sentinel.AddAction(a)
		}
	}
}

// adoptSentinelStatus is the group-level analogue of Service.RollupFromAction:
// it folds the exit sentinel's terminal status into the group's own, demoting
// per spec.md §4.4's edge-case policies before calling UpdateStatus. A
// successful inner run is demoted to WARNING by a failed external
// REQUIRE_WEAK dependency on the group itself, unless every real subservice
// ended SKIPPED, in which case the group stays SKIPPED — an all-skipped group
// absorbs an external weak failure rather than surfacing it.
func (g *ServiceGroup) adoptSentinelStatus(ctx *action.RunContext, status entity.Status) {
	final := status
	if final == entity.Done && g.allSubservicesSkipped() {
		final = entity.Skipped
	} else if final == entity.Done && g.HasWeakFailure() {
		final = entity.Warning
	}
	g.UpdateStatus(ctx, final)
}

// allSubservicesSkipped reports whether the group has at least one real
// subservice and every one of them resolved SKIPPED (spec.md §4.4's
// all-skipped edge case).
func (g *ServiceGroup) allSubservicesSkipped() bool {
	subs := g.Subservices()
	if len(subs) == 0 {
		return false
	}
	for _, sub := range subs {
		if sub.Status() != entity.Skipped {
			return false
		}
	}
	return true
}

// Prepare starts the group: once any outer require/require_weak/check
// dependency wired on the group itself is satisfied, it hands off to the
// entry sentinel, which drives the inner subservice graph; the group's own
// status is set once the exit sentinel resolves (spec.md §4.4).
func (g *ServiceGroup) Prepare(ctx *action.RunContext, actionName string) {
	if g.Status() != entity.NoStatus {
		return
	}
	g.RecordActionName(actionName)

	depsStatus := g.EvalDepsStatus()
	if depsStatus == entity.WaitingStatus {
		return
	}
	if g.Skipped() {
		g.UpdateStatus(ctx, entity.Skipped)
		return
	}
	if depsStatus == entity.DepError {
		g.UpdateStatus(ctx, entity.DepError)
		return
	}
	if depsStatus != entity.Done && len(g.Parents()) != 0 {
		for _, dep := range g.SearchDeps(entity.NoStatus) {
			if p, ok := dep.Remote.(service.Preparer); ok {
				p.PrepareWith(ctx, actionName)
			}
		}
		return
	}

	g.ensureSentinels(actionName)
	front, _ := g.frontBack()
	g.SetStatus(entity.WaitingStatus)
	front.Prepare(ctx, actionName)
}

// PrepareWith satisfies service.Preparer. ServiceGroup must define its own
// copy rather than rely on the one promoted from Service, so that a
// sibling triggering this group by its Preparer interface value re-enters
// ServiceGroup.Prepare rather than the plain Service.Prepare it embeds —
// Go does not dispatch embedded methods virtually.
func (g *ServiceGroup) PrepareWith(ctx *action.RunContext, actionName string) {
	g.Prepare(ctx, actionName)
}

// ToDict serializes the group's own attributes and its subservices, keyed
// by name (source/sink sentinels excluded, matching their exclusion from
// Subservices/DOT export), into the shape internal/config builds groups
// from (SPEC_FULL.md §9's round-trip serializer).
func (g *ServiceGroup) ToDict() map[string]interface{} {
	out := g.Service.ToDict()
	delete(out, "actions") // a ServiceGroup's own action set is always empty
	subs := g.Subservices()
	if len(subs) > 0 {
		subsOut := make(map[string]interface{}, len(subs))
		for _, sub := range subs {
			subsOut[sub.Name()] = sub.ToDict()
		}
		out["subservices"] = subsOut
	}
	return out
}

// Reset restores NO_STATUS on the group, its sentinels and every
// subservice (and their actions), so the group can be re-run.
func (g *ServiceGroup) Reset() {
	g.Service.Reset()
	g.mu.RLock()
	source, sink := g.source, g.sink
	g.mu.RUnlock()
	if source != nil {
		source.Reset()
	}
	if sink != nil {
		sink.Reset()
	}
	for _, sub := range g.Subservices() {
		sub.Reset()
	}
}
