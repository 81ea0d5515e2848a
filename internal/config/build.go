package config

import (
	"fmt"
	"time"

	"github.com/cea-hpc/milkcheck/internal/action"
	"github.com/cea-hpc/milkcheck/internal/entity"
	"github.com/cea-hpc/milkcheck/internal/merrors"
	"github.com/cea-hpc/milkcheck/internal/nodeset"
	"github.com/cea-hpc/milkcheck/internal/service"
	"github.com/cea-hpc/milkcheck/internal/servicegroup"
)

// Graph is the wired result of BuildGraph: every top-level Service and
// ServiceGroup declared in a configuration document, reachable by name for
// both dependency wiring and CLI lookups (spec.md §6 FromDict contract).
type Graph struct {
	Services map[string]*service.Service
	Groups   map[string]*servicegroup.ServiceGroup
}

// Node returns the named top-level entity, whichever kind it is.
func (g *Graph) Node(name string) (entity.Depender, bool) {
	if s, ok := g.Services[name]; ok {
		return s, true
	}
	if grp, ok := g.Groups[name]; ok {
		return grp, true
	}
	return nil, false
}

// Roots returns every top-level node with no parent dependency — the entry
// points RunAction starts from; everything else is reached through the
// EV_TRIGGER_DEP chain once its own parents resolve (spec.md §4.1, §4.5.1).
func (g *Graph) Roots() []entity.Depender {
	var out []entity.Depender
	for _, s := range g.Services {
		if len(s.Parents()) == 0 {
			out = append(out, s)
		}
	}
	for _, grp := range g.Groups {
		if len(grp.Parents()) == 0 {
			out = append(out, grp)
		}
	}
	return out
}

// RunAction starts actionName on every root node of the graph, per
// spec.md §4.3/§4.4's Prepare traversal.
func (g *Graph) RunAction(ctx *action.RunContext, actionName string) {
	for _, root := range g.Roots() {
		if p, ok := root.(service.Preparer); ok {
			p.PrepareWith(ctx, actionName)
		}
	}
}

// Reset restores NO_STATUS across every node in the graph, so the same
// Graph can be reused for a second RunAction call.
func (g *Graph) Reset() {
	for _, s := range g.Services {
		s.Reset()
	}
	for _, grp := range g.Groups {
		grp.Reset()
	}
}

// BuildGraph is the Go realization of FromDict (spec.md §6): it turns the
// generic mapping Load produces into a fully wired Graph, collecting every
// validation problem it finds into one *merrors.ConfigErrors instead of
// failing on the first (SPEC_FULL.md §4.7).
func BuildGraph(doc map[string]interface{}) (*Graph, error) {
	errs := &merrors.ConfigErrors{}
	g := &Graph{
		Services: make(map[string]*service.Service),
		Groups:   make(map[string]*servicegroup.ServiceGroup),
	}

	rawServices, _ := getMap(doc, "services")
	rawGroups, _ := getMap(doc, "groups")

	for name, raw := range rawServices {
		m, ok := raw.(map[string]interface{})
		if !ok {
			errs.Add("services."+name, "service", "bad-shape", "expected a mapping")
			continue
		}
		g.Services[name] = buildService(name, m, "services."+name, errs)
	}

	for name, raw := range rawGroups {
		m, ok := raw.(map[string]interface{})
		if !ok {
			errs.Add("groups."+name, "group", "bad-shape", "expected a mapping")
			continue
		}
		g.Groups[name] = buildGroup(name, m, "groups."+name, errs)
	}

	// Outer require/require_weak/check edges are wired in a second pass, once
	// every top-level name is known, so forward references (a service
	// depending on one declared later in the document) resolve correctly.
	for name, raw := range rawServices {
		m := raw.(map[string]interface{})
		wireDeps(g, g.Services[name], m, "services."+name, errs)
	}
	for name, raw := range rawGroups {
		m := raw.(map[string]interface{})
		wireDeps(g, g.Groups[name], m, "groups."+name, errs)
	}

	return g, errs.ErrOrNil()
}

func buildService(name string, m map[string]interface{}, path string, errs *merrors.ConfigErrors) *service.Service {
	s := service.New(name)
	applyAttrs(s.Entity, m, path, errs)

	rawActions, _ := getMap(m, "actions")
	for actionName, raw := range rawActions {
		actionMap, ok := raw.(map[string]interface{})
		if !ok {
			errs.Add(fmt.Sprintf("%s.actions.%s", path, actionName), "action", "bad-shape", "expected a mapping")
			continue
		}
		a := buildAction(actionName, actionMap, fmt.Sprintf("%s.actions.%s", path, actionName), errs)
		if err := s.AddAction(a); err != nil {
			errs.Add(path, "action", "duplicate-name", err.Error())
		}
	}
	return s
}

func buildAction(name string, m map[string]interface{}, path string, errs *merrors.ConfigErrors) *action.Action {
	a := action.New(name)
	applyAttrs(a.Entity, m, path, errs)

	if cmd, ok := getString(m, "command"); ok {
		a.Command = cmd
	}
	if delay, ok := getInt(m, "delay"); ok {
		a.Delay = time.Duration(delay) * time.Second
	}
	if retry, ok := getInt(m, "retry"); ok {
		if retry > 0 && a.Delay <= 0 {
			errs.Add(path, "action", "missing-delay", "retry set without a delay")
		} else {
			a.SetRetry(retry)
		}
	}
	return a
}

func buildGroup(name string, m map[string]interface{}, path string, errs *merrors.ConfigErrors) *servicegroup.ServiceGroup {
	g := servicegroup.New(name)
	applyAttrs(g.Entity, m, path, errs)

	if reversed, ok := m["reversed"].(bool); ok {
		g.SetAlgoReversed(reversed)
	}

	rawSubs, _ := getMap(m, "subservices")
	for subName, raw := range rawSubs {
		subMap, ok := raw.(map[string]interface{})
		if !ok {
			errs.Add(fmt.Sprintf("%s.subservices.%s", path, subName), "service", "bad-shape", "expected a mapping")
			continue
		}
		// Names may be nodeset-like ("da[1-3]") and expand into one
		// subservice per element, each built from the same declaration
		// (spec.md §6).
		expanded, err := nodeset.Parse(subName)
		if err != nil {
			errs.Add(fmt.Sprintf("%s.subservices.%s", path, subName), "service", "bad-name", err.Error())
			continue
		}
		for _, name := range expanded.Hosts() {
			sub := buildService(name, subMap, fmt.Sprintf("%s.subservices.%s", path, name), errs)
			sub.InheritsFrom(g.Entity)
			if err := g.AddSubservice(sub); err != nil {
				errs.Add(path, "service", "duplicate-name", err.Error())
			}
		}
	}

	rawInterDeps, _ := getMap(m, "inter_deps")
	for childName, raw := range rawInterDeps {
		depsMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		for _, strength := range []struct {
			key string
			s   entity.Strength
		}{{"require", entity.Require}, {"require_weak", entity.RequireWeak}, {"check", entity.Check}} {
			for _, parentName := range getStringSlice(depsMap, strength.key) {
				if err := g.AddInterDep(childName, parentName, strength.s); err != nil {
					errs.Add(fmt.Sprintf("%s.inter_deps.%s", path, childName), "dependency", "unknown-subservice", err.Error())
				}
			}
		}
	}
	return g
}

// wireDeps wires node's outer require/require_weak/check edges to other
// top-level Graph nodes, by name, per spec.md §4.1/§4.3's dependency model.
func wireDeps(g *Graph, node entity.Depender, m map[string]interface{}, path string, errs *merrors.ConfigErrors) {
	for _, strength := range []struct {
		key string
		s   entity.Strength
	}{{"require", entity.Require}, {"require_weak", entity.RequireWeak}, {"check", entity.Check}} {
		for _, parentName := range getStringSlice(m, strength.key) {
			parent, ok := g.Node(parentName)
			if !ok {
				errs.Add(path, "dependency", "unknown-node", fmt.Sprintf("%s refers to undeclared node %q", strength.key, parentName))
				continue
			}
			entity.Wire(node, parent, strength.s)
		}
	}
}

// applyAttrs applies the common entity attributes (target, timeout, fanout,
// errors, warnings, vars, simulate) found in m onto e.
func applyAttrs(e *entity.Entity, m map[string]interface{}, path string, errs *merrors.ConfigErrors) {
	if target, ok := getString(m, "target"); ok {
		ns, err := nodeset.Parse(target)
		if err != nil {
			errs.Add(path, "service", "bad-target", err.Error())
		} else {
			e.SetTarget(ns)
		}
	}
	if timeout, ok := getInt(m, "timeout"); ok {
		if timeout < 0 {
			errs.Add(path, "service", "bad-timeout", "timeout must not be negative")
		} else {
			e.SetTimeout(time.Duration(timeout) * time.Second)
		}
	}
	if fanout, ok := getInt(m, "fanout"); ok {
		e.SetFanout(fanout)
	}
	if errorsN, ok := getInt(m, "errors"); ok {
		e.SetErrorsTolerance(errorsN)
	}
	if warningsN, ok := getInt(m, "warnings"); ok {
		e.SetWarningsTolerance(warningsN)
	}
	if simulate, ok := m["simulate"].(bool); ok {
		e.SetSimulate(simulate)
	}
	if vars, ok := getMap(m, "vars"); ok {
		for k, v := range vars {
			e.SetVariable(k, fmt.Sprintf("%v", v))
		}
	}
}

func getMap(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	out, ok := v.(map[string]interface{})
	return out, ok
}

func getString(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getInt(m map[string]interface{}, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func getStringSlice(m map[string]interface{}, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
