// Package entity implements the common attributes, inheritance,
// dependency bookkeeping and status transitions shared by every node in a
// MilkCheck graph (spec.md §3, §4.1). Action and Service both embed Entity;
// ServiceGroup embeds Service transitively.
package entity

import (
	"sync"
	"time"

	"github.com/cea-hpc/milkcheck/internal/merrors"
	"github.com/cea-hpc/milkcheck/internal/nodeset"
)

// Status is the lifecycle state of an entity (spec.md §3).
type Status int

const (
	NoStatus Status = iota
	WaitingStatus
	Done
	Skipped
	Warning
	ErrorStatus
	Timeout
	DepError
	Missing
)

func (s Status) String() string {
	switch s {
	case NoStatus:
		return "NO_STATUS"
	case WaitingStatus:
		return "WAITING_STATUS"
	case Done:
		return "DONE"
	case Skipped:
		return "SKIPPED"
	case Warning:
		return "WARNING"
	case ErrorStatus:
		return "ERROR"
	case Timeout:
		return "TIMEOUT"
	case DepError:
		return "DEP_ERROR"
	case Missing:
		return "MISSING"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is a final status (no further scheduling or
// dependency waiting will occur for an entity in this state).
func (s Status) IsTerminal() bool {
	return s != NoStatus && s != WaitingStatus
}

// IsErrorClass reports whether s is one of the "failed" terminal statuses
// used to decide dependency demotion (spec.md §3 invariants, §7).
func (s Status) IsErrorClass() bool {
	switch s {
	case ErrorStatus, Timeout, DepError:
		return true
	default:
		return false
	}
}

// Strength is a dependency edge's strictness (spec.md §3).
type Strength int

const (
	Require Strength = iota
	RequireWeak
	Check
)

func (s Strength) String() string {
	switch s {
	case Require:
		return "REQUIRE"
	case RequireWeak:
		return "REQUIRE_WEAK"
	case Check:
		return "CHECK"
	default:
		return "UNKNOWN"
	}
}

// Node is the minimal interface a dependency edge needs from either
// endpoint: a name for diagnostics, a live status read, and readiness for
// re-entry once a parent dependency resolves. Action, Service and
// ServiceGroup all satisfy it by embedding Entity.
type Node interface {
	Name() string
	Status() Status
	IsReady() bool
}

// Depender is a Node that also exposes its embedded Entity, so that wiring
// helpers (Wire, in this package) can maintain symmetric parent/child edges
// without knowing the concrete Action/Service/ServiceGroup type.
type Depender interface {
	Node
	Base() *Entity
}

// Dependency is one edge of the graph, held on both sides: as a parent edge
// on the dependent entity and as the matching child edge on the entity
// depended upon.
type Dependency struct {
	Name     string
	Strength Strength
	Remote   Node
}

// Entity holds the attributes and dependency bookkeeping common to every
// node in a MilkCheck graph (spec.md §3). It is meant to be embedded, not
// used standalone.
type Entity struct {
	mu sync.RWMutex

	name   string
	status Status

	target    nodeset.Set
	targetSet bool

	timeout    time.Duration
	timeoutSet bool

	fanout    int
	fanoutSet bool

	errorsTolerance   int
	errorsSet         bool
	warningsTolerance int
	warningsSet       bool

	variables map[string]string
	simulate  bool

	parents  map[string]*Dependency
	children map[string]*Dependency
}

// New returns an initialized Entity with the given name. Attributes are
// left unset so InheritsFrom can populate them from a parent container.
func New(name string) *Entity {
	return &Entity{
		name:      name,
		status:    NoStatus,
		variables: make(map[string]string),
		parents:   make(map[string]*Dependency),
		children:  make(map[string]*Dependency),
	}
}

// Base satisfies Depender for Entity itself, convenient in tests that wire
// bare entities without a concrete Action/Service wrapper.
func (e *Entity) Base() *Entity { return e }

func (e *Entity) Name() string { return e.name }

func (e *Entity) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// SetStatus stores s without any propagation or event emission; callers
// (Action.UpdateStatus, Service.UpdateStatus) are responsible for the
// rest of the status-change contract in spec.md §4.2/§4.3.
func (e *Entity) SetStatus(s Status) {
	switch s {
	case NoStatus, WaitingStatus, Done, Skipped, Warning, ErrorStatus, Timeout, DepError, Missing:
	default:
		merrors.Raise(e.name, "bad status value %d", s)
	}
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Reset restores NO_STATUS (spec.md §3 Lifecycle). Action overrides this to
// additionally restore its retry counter.
func (e *Entity) Reset() {
	e.mu.Lock()
	e.status = NoStatus
	e.mu.Unlock()
}

// --- Attributes & inheritance (spec.md §4.1 InheritsFrom) ---

func (e *Entity) Target() nodeset.Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.target
}

func (e *Entity) SetTarget(t nodeset.Set) {
	e.mu.Lock()
	e.target, e.targetSet = t, true
	e.mu.Unlock()
}

func (e *Entity) Timeout() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timeout
}

func (e *Entity) SetTimeout(d time.Duration) {
	e.mu.Lock()
	e.timeout, e.timeoutSet = d, true
	e.mu.Unlock()
}

func (e *Entity) Fanout() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fanout
}

func (e *Entity) SetFanout(n int) {
	e.mu.Lock()
	e.fanout, e.fanoutSet = n, true
	e.mu.Unlock()
}

func (e *Entity) ErrorsTolerance() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.errorsTolerance
}

func (e *Entity) SetErrorsTolerance(n int) {
	e.mu.Lock()
	e.errorsTolerance, e.errorsSet = n, true
	e.mu.Unlock()
}

func (e *Entity) WarningsTolerance() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.warningsTolerance
}

func (e *Entity) SetWarningsTolerance(n int) {
	e.mu.Lock()
	e.warningsTolerance, e.warningsSet = n, true
	e.mu.Unlock()
}

func (e *Entity) Variables() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.variables))
	for k, v := range e.variables {
		out[k] = v
	}
	return out
}

func (e *Entity) SetVariable(name, value string) {
	e.mu.Lock()
	e.variables[name] = value
	e.mu.Unlock()
}

func (e *Entity) Simulate() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.simulate
}

func (e *Entity) SetSimulate(v bool) {
	e.mu.Lock()
	e.simulate = v
	e.mu.Unlock()
}

// InheritsFrom copies every attribute that self has not explicitly set from
// other (spec.md §4.1, §9 "copy-if-unset per attribute"). Variables are
// merged, with self's own values taking precedence over inherited ones.
func (e *Entity) InheritsFrom(other *Entity) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.targetSet && other.targetSet {
		e.target = other.target
	}
	if !e.timeoutSet && other.timeoutSet {
		e.timeout = other.timeout
	}
	if !e.fanoutSet && other.fanoutSet {
		e.fanout = other.fanout
	}
	if !e.errorsSet && other.errorsSet {
		e.errorsTolerance = other.errorsTolerance
	}
	if !e.warningsSet && other.warningsSet {
		e.warningsTolerance = other.warningsTolerance
	}
	if !e.simulate && other.simulate {
		e.simulate = other.simulate
	}
	for k, v := range other.variables {
		if _, ok := e.variables[k]; !ok {
			e.variables[k] = v
		}
	}
}

// UpdateTarget sets target directly, bypassing inheritance semantics; the
// caller (Service/ServiceGroup.UpdateTarget) is responsible for recursing
// into contained subservices (spec.md §4.1).
func (e *Entity) UpdateTarget(t nodeset.Set) {
	e.SetTarget(t)
}

// Skipped reports whether the entity's effective target is empty, meaning it
// should transition straight to SKIPPED without scheduling (spec.md §4.1).
func (e *Entity) Skipped() bool {
	return e.Target().Empty()
}

// --- Dependency bookkeeping (spec.md §3, §4.1) ---

// Wire adds a symmetric dependency edge: a parent edge named `name` on
// child pointing at parent, and the matching child edge on parent pointing
// at child — maintaining the invariant "a ∈ b.parents ⇔ b ∈ a.children"
// (spec.md §8).
func Wire(child, parent Depender, strength Strength) {
	c, p := child.Base(), parent.Base()
	c.mu.Lock()
	c.parents[parent.Name()] = &Dependency{Name: parent.Name(), Strength: strength, Remote: parent}
	c.mu.Unlock()

	p.mu.Lock()
	p.children[child.Name()] = &Dependency{Name: child.Name(), Strength: strength, Remote: child}
	p.mu.Unlock()
}

// Unwire removes the edge between child and parent from both sides.
func Unwire(child, parent Depender) {
	c, p := child.Base(), parent.Base()
	c.mu.Lock()
	delete(c.parents, parent.Name())
	c.mu.Unlock()

	p.mu.Lock()
	delete(p.children, child.Name())
	p.mu.Unlock()
}

// Parents returns the entity's parent edges.
func (e *Entity) Parents() []*Dependency {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Dependency, 0, len(e.parents))
	for _, d := range e.parents {
		out = append(out, d)
	}
	return out
}

// Children returns the entity's child edges.
func (e *Entity) Children() []*Dependency {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Dependency, 0, len(e.children))
	for _, d := range e.children {
		out = append(out, d)
	}
	return out
}

// SearchDeps returns parent edges whose remote endpoint's status is in
// statuses (spec.md §4.1).
func (e *Entity) SearchDeps(statuses ...Status) []*Dependency {
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*Dependency
	for _, d := range e.Parents() {
		if want[d.Remote.Status()] {
			out = append(out, d)
		}
	}
	return out
}

// EvalDepsStatus reduces parent dependencies to one of {NoStatus,
// WaitingStatus, Done, DepError} (spec.md §4.1). A REQUIRE_WEAK parent that
// ended in an error-class status is treated as satisfied (its failure is
// demoted to a later WARNING annotation by the parent's own UpdateStatus,
// per spec.md §4.3's propagation table), never as a blocker.
func (e *Entity) EvalDepsStatus() Status {
	parents := e.Parents()
	if len(parents) == 0 {
		return Done
	}

	anyWaiting := false
	anyDepError := false
	allResolved := true

	for _, dep := range parents {
		remote := dep.Remote.Status()
		switch {
		case remote == WaitingStatus:
			anyWaiting = true
		case remote == NoStatus:
			allResolved = false
		case remote == Done || remote == Skipped || remote == Warning:
			// satisfied as-is
		case remote.IsErrorClass():
			if dep.Strength == RequireWeak {
				// demoted: treated as satisfied from this entity's point of view
			} else {
				anyDepError = true
			}
		default:
			allResolved = false
		}
	}

	if anyWaiting {
		return WaitingStatus
	}
	if anyDepError {
		return DepError
	}
	if allResolved {
		return Done
	}
	return NoStatus
}

// ToDict serializes the entity's attributes into the same
// map[string]interface{} shape FromDict consumes, so a parsed configuration
// can be dumped back out and compared structurally (spec.md §8's round-trip
// testable property). Only explicitly-set attributes are included, mirroring
// FromDict's copy-if-unset semantics: an attribute absent here was inherited,
// not declared on this entity.
func (e *Entity) ToDict() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := map[string]interface{}{}
	if e.targetSet {
		out["target"] = e.target.String()
	}
	if e.timeoutSet {
		out["timeout"] = int(e.timeout.Seconds())
	}
	if e.fanoutSet {
		out["fanout"] = e.fanout
	}
	if e.errorsSet {
		out["errors"] = e.errorsTolerance
	}
	if e.warningsSet {
		out["warnings"] = e.warningsTolerance
	}
	if len(e.variables) > 0 {
		vars := make(map[string]interface{}, len(e.variables))
		for k, v := range e.variables {
			vars[k] = v
		}
		out["vars"] = vars
	}
	if e.simulate {
		out["simulate"] = true
	}
	return out
}

// IsReady reports whether the entity is eligible to be (re-)prepared after
// one of its parents completes — it has not already resolved itself
// (spec.md §4.2 EV_TRIGGER_DEP gating). Prepare's own idempotency guards
// make a spurious call harmless, so IsReady only filters the common case of
// re-notifying an entity that already finished.
func (e *Entity) IsReady() bool {
	return e.Status() == NoStatus
}
