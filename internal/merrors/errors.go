// Package merrors carries MilkCheck's error taxonomy: programmer-error
// invariant violations (the Go analogue of the original implementation's
// bare asserts) and structured, collectible configuration errors in the
// idiom of the teacher's internal/config.ConfigurationError.
package merrors

import (
	"fmt"
	"strings"
)

// InvariantViolation is raised (via panic) when a caller breaks one of the
// data-model invariants in spec.md §3 — a bad status value passed to
// UpdateStatus, a negative retry count, a retry set without a delay.
// (Duplicate sibling names are ordinary returned errors, not violations.)
// Nothing in the core, the scheduler or the CLI commands recovers them, so
// a programmer bug fails immediately; Recover converts one into a returned
// error for a caller that chooses to defer it.
type InvariantViolation struct {
	Entity string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Entity, e.Reason)
}

// Raise panics with an *InvariantViolation built from entity and reason.
func Raise(entity, reason string, args ...interface{}) {
	if len(args) > 0 {
		reason = fmt.Sprintf(reason, args...)
	}
	panic(&InvariantViolation{Entity: entity, Reason: reason})
}

// Recover turns a panicking *InvariantViolation into a returned error. It is
// a no-op (re-panics) for any other recovered value, so unrelated panics
// still propagate. Call as `defer merrors.Recover(&err)` in a function with a
// named error return.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if iv, ok := r.(*InvariantViolation); ok {
		*errp = iv
		return
	}
	panic(r)
}

// ConfigError represents one structured error encountered while turning a
// configuration mapping into a graph (FromDict). It deliberately mirrors the
// teacher's ConfigurationError shape, repurposed from YAML-entity-storage
// failures to FromDict validation failures.
type ConfigError struct {
	Path      string // dotted path to the offending node, e.g. "services.web.actions.start"
	Category  string // "service", "group", "action", "dependency"
	ErrorType string // "duplicate-name", "missing-delay", "unknown-node", ...
	Message   string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %s", e.Category, e.ErrorType, e.Path, e.Message)
}

// ConfigErrors collects every ConfigError found while walking a
// configuration tree, so FromDict can report every problem in one pass
// instead of failing fast on the first.
type ConfigErrors struct {
	Errors []ConfigError
}

func (c *ConfigErrors) Add(path, category, errorType, message string) {
	c.Errors = append(c.Errors, ConfigError{
		Path:      path,
		Category:  category,
		ErrorType: errorType,
		Message:   message,
	})
}

func (c *ConfigErrors) HasErrors() bool {
	return len(c.Errors) > 0
}

func (c *ConfigErrors) Error() string {
	if len(c.Errors) == 0 {
		return "no configuration errors"
	}
	if len(c.Errors) == 1 {
		return c.Errors[0].Error()
	}
	parts := make([]string, len(c.Errors))
	for i, e := range c.Errors {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("%d configuration errors:\n  %s", len(c.Errors), strings.Join(parts, "\n  "))
}

// ErrOrNil returns c as an error if it holds any entries, else nil. Useful at
// the end of a FromDict call: `return c.ErrOrNil()`.
func (c *ConfigErrors) ErrOrNil() error {
	if c.HasErrors() {
		return c
	}
	return nil
}
