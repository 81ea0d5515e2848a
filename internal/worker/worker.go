// Package worker implements the external collaborator Actions dispatch
// their command against: one goroutine per target host, bounded by the
// action's fan-out, with per-host timeout and exit-code/timeout counting
// that Action.OnComplete folds into a terminal status (spec.md §6, §9).
package worker

import (
	"bytes"
	"context"
	"os/exec"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"golang.org/x/sync/semaphore"

	"github.com/cea-hpc/milkcheck/internal/action"
)

// NodeResult is one host's outcome.
type NodeResult struct {
	Host     string
	ExitCode int
	Output   string
	Err      error
	TimedOut bool
}

// Result aggregates every NodeResult from one action's run and implements
// action.Result so Action.OnComplete can fold it into a status.
type Result struct {
	Nodes []NodeResult
}

func (r Result) ErrorCount() int {
	n := 0
	for _, nr := range r.Nodes {
		if !nr.TimedOut && (nr.Err != nil || nr.ExitCode != 0) {
			n++
		}
	}
	return n
}

func (r Result) TimeoutCount() int {
	n := 0
	for _, nr := range r.Nodes {
		if nr.TimedOut {
			n++
		}
	}
	return n
}

// Runner executes one rendered command line against one host and reports
// its exit code. The degenerate LocalWorker below runs everything on the
// local machine regardless of host, which is what lets tests and
// single-node configurations exercise the fan-out/timeout machinery
// without a real remote execution backend.
type Runner interface {
	Run(ctx context.Context, host, command string) (exitCode int, output string, err error)
}

// ExecRunner runs commands with os/exec, local to the machine the
// scheduler itself runs on.
type ExecRunner struct {
	Shell string // defaults to "/bin/sh" when empty
}

func (r ExecRunner) Run(ctx context.Context, host, command string) (int, string, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err == nil {
		return 0, out.String(), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), out.String(), nil
	}
	return -1, out.String(), err
}

// LocalWorker is the "degenerate local worker" variant (SPEC_FULL.md §6):
// it runs the action's command once per target host, all on the local
// machine, which is enough to exercise the full scheduling and retry
// machinery without a real remote transport.
type LocalWorker struct {
	Runner Runner
}

// NewLocalWorker returns a LocalWorker that shells out locally.
func NewLocalWorker() *LocalWorker {
	return &LocalWorker{Runner: ExecRunner{}}
}

// Run renders a's command template per host and executes it against every
// host in a's target, honoring a.Fanout() as the number of hosts run
// concurrently and a.Timeout() as the per-host deadline.
func (w *LocalWorker) Run(ctx context.Context, a *action.Action) action.Result {
	hosts := a.Target().Hosts()
	result := Result{Nodes: make([]NodeResult, len(hosts))}
	if len(hosts) == 0 {
		return result
	}

	limit := int64(a.Fanout())
	if limit <= 0 {
		limit = int64(len(hosts))
	}
	sem := semaphore.NewWeighted(limit)

	done := make(chan struct{}, len(hosts))
	for i, host := range hosts {
		i, host := i, host
		_ = sem.Acquire(ctx, 1)
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			result.Nodes[i] = w.runOne(ctx, a, host)
		}()
	}
	for range hosts {
		<-done
	}
	return result
}

func (w *LocalWorker) runOne(ctx context.Context, a *action.Action, host string) NodeResult {
	cmd, err := RenderCommand(a.Command, a.Variables(), host)
	if err != nil {
		return NodeResult{Host: host, ExitCode: -1, Err: err}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if a.Timeout() > 0 {
		runCtx, cancel = context.WithTimeout(ctx, a.Timeout())
		defer cancel()
	}

	exitCode, output, err := w.Runner.Run(runCtx, host, cmd)
	if runCtx.Err() == context.DeadlineExceeded {
		return NodeResult{Host: host, TimedOut: true}
	}
	return NodeResult{Host: host, ExitCode: exitCode, Output: output, Err: err}
}

// RenderCommand expands $VAR / ${VAR} references in cmd using vars plus
// the builtin $NODE, through text/template with sprig's function set, the
// same templating idiom the teacher's workflow executor uses for its own
// step inputs.
func RenderCommand(cmd string, vars map[string]string, host string) (string, error) {
	data := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		data[k] = v
	}
	data["NODE"] = host

	tmplSrc := toGoTemplate(cmd)
	tmpl, err := template.New("command").Funcs(sprig.TxtFuncMap()).Parse(tmplSrc)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// toGoTemplate rewrites $NAME and ${NAME} references into {{.NAME}} so
// MilkCheck command strings stay in their familiar shell-variable form
// while being rendered by text/template underneath.
func toGoTemplate(cmd string) string {
	var out bytes.Buffer
	i := 0
	for i < len(cmd) {
		c := cmd[i]
		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(cmd) && cmd[i+1] == '{' {
			end := indexByteFrom(cmd, '}', i+2)
			if end == -1 {
				out.WriteByte(c)
				i++
				continue
			}
			name := cmd[i+2 : end]
			out.WriteString("{{.")
			out.WriteString(name)
			out.WriteString("}}")
			i = end + 1
			continue
		}
		j := i + 1
		for j < len(cmd) && isNameByte(cmd[j]) {
			j++
		}
		if j == i+1 {
			out.WriteByte(c)
			i++
			continue
		}
		out.WriteString("{{.")
		out.WriteString(cmd[i+1 : j])
		out.WriteString("}}")
		i = j
	}
	return out.String()
}

func isNameByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

func indexByteFrom(s string, c byte, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
