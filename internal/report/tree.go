// Package report renders a run's state for a human: a tree-style summary,
// a go-pretty status table, and a DOT exporter for the dependency graph.
// None of it mutates core state — every renderer here only reads status,
// target and timing off the entity/service/servicegroup/action types
// (SPEC_FULL.md §1, §9).
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/cea-hpc/milkcheck/internal/action"
	"github.com/cea-hpc/milkcheck/internal/config"
	"github.com/cea-hpc/milkcheck/internal/service"
	"github.com/cea-hpc/milkcheck/internal/servicegroup"
)

// Tree writes a nested, indented summary of every top-level node in g: each
// service's status followed by its actions' own status and duration, and
// each group's subservices recursed the same way.
func Tree(w io.Writer, g *config.Graph) {
	names := make([]string, 0, len(g.Services)+len(g.Groups))
	for name := range g.Services {
		names = append(names, name)
	}
	for name := range g.Groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if s, ok := g.Services[name]; ok {
			writeService(w, 0, s)
			continue
		}
		writeGroup(w, 0, g.Groups[name])
	}
}

func writeService(w io.Writer, depth int, s *service.Service) {
	fmt.Fprintf(w, "%s%s [%s]\n", indent(depth), s.Name(), s.Status())
	actions := s.Actions()
	sort.Slice(actions, func(i, j int) bool { return actions[i].Name() < actions[j].Name() })
	for _, a := range actions {
		writeAction(w, depth+1, a)
	}
}

func writeGroup(w io.Writer, depth int, g *servicegroup.ServiceGroup) {
	fmt.Fprintf(w, "%s%s (group) [%s]\n", indent(depth), g.Name(), g.Status())
	subs := g.Subservices()
	sort.Slice(subs, func(i, j int) bool { return subs[i].Name() < subs[j].Name() })
	for _, sub := range subs {
		writeService(w, depth+1, sub)
	}
}

func writeAction(w io.Writer, depth int, a *action.Action) {
	line := fmt.Sprintf("%s%s [%s]", indent(depth), a.Name(), a.Status())
	if d, ok := a.Duration(); ok {
		line += fmt.Sprintf(" (%s)", d.Round(1e6))
	}
	fmt.Fprintln(w, line)
}

func indent(depth int) string {
	out := ""
	for i := 0; i < depth; i++ {
		out += "  "
	}
	return out
}
