package report

import (
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/cea-hpc/milkcheck/internal/config"
	milkstrings "github.com/cea-hpc/milkcheck/pkg/strings"
)

// Table renders one row per top-level service/group in g to w, in the
// kubectl-adjacent style the teacher's own aggregator tables use:
// NAME / TYPE / TARGET / STATUS, sorted by name for deterministic output.
func Table(w io.Writer, g *config.Graph) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"NAME", "TYPE", "TARGET", "STATUS"})

	type row struct{ name, kind, target, status string }
	var rows []row
	for name, s := range g.Services {
		rows = append(rows, row{name, "service", truncateTarget(s.Target().String()), s.Status().String()})
	}
	for name, grp := range g.Groups {
		rows = append(rows, row{name, "group", truncateTarget(grp.Target().String()), grp.Status().String()})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	for _, r := range rows {
		t.AppendRow(table.Row{r.name, r.kind, r.target, r.status})
	}
	t.Render()
}

// truncateTarget caps a target's expanded nodeset string so a single wide
// target (hundreds of hosts) doesn't blow out the TARGET column.
func truncateTarget(s string) string {
	return milkstrings.TruncateDescription(s, milkstrings.DefaultMaxLen)
}
