package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/cea-hpc/milkcheck/internal/config"
	"github.com/cea-hpc/milkcheck/internal/entity"
)

// DOT writes a Graphviz digraph of g's dependency structure: one node per
// top-level service/group plus their subservices (source/sink sentinels
// never appear, since they are never returned by Subservices — spec.md §8),
// and one edge per require/require_weak/check dependency, styled by
// strength (SPEC_FULL.md §9).
func DOT(w io.Writer, g *config.Graph) {
	fmt.Fprintln(w, "digraph milkcheck {")
	fmt.Fprintln(w, "  rankdir=LR;")

	names := make([]string, 0, len(g.Services)+len(g.Groups))
	nodes := make(map[string]entity.Depender)
	for name, s := range g.Services {
		names = append(names, name)
		nodes[name] = s
	}
	for name, grp := range g.Groups {
		names = append(names, name)
		nodes[name] = grp
		for _, sub := range grp.Subservices() {
			qualified := name + "/" + sub.Name()
			names = append(names, qualified)
			nodes[qualified] = sub
		}
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(w, "  %q [label=%q];\n", name, name)
	}
	for _, name := range names {
		for _, dep := range nodes[name].Parents() {
			fmt.Fprintf(w, "  %q -> %q [style=%s];\n", dotParentName(nodes, name, dep), name, edgeStyle(dep.Strength))
		}
	}

	fmt.Fprintln(w, "}")
}

// dotParentName resolves a dependency's remote endpoint back to its
// qualified graph name (group subservices are rendered as
// "group/subservice"), falling back to its bare Name() for a remote that
// isn't one of g's own registered nodes (e.g. a group's hidden sentinel,
// which never reaches this exporter since Subservices excludes them).
func dotParentName(nodes map[string]entity.Depender, childQualifiedName string, dep *entity.Dependency) string {
	for qualified, n := range nodes {
		if n.Name() == dep.Remote.Name() && qualified != childQualifiedName {
			return qualified
		}
	}
	return dep.Remote.Name()
}

func edgeStyle(s entity.Strength) string {
	switch s {
	case entity.Require:
		return "bold"
	case entity.RequireWeak:
		return "dashed"
	case entity.Check:
		return "dotted"
	default:
		return "solid"
	}
}
