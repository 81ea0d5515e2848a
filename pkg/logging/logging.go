// Package logging provides the structured slog-based logging used by the
// CLI commands and the config watcher, plus an Audit helper for lifecycle events
// worth surfacing to external log aggregation separately from ordinary
// run output.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	milkstrings "github.com/cea-hpc/milkcheck/pkg/strings"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var defaultLogger *slog.Logger

// InitForCLI initializes the process-wide logger for CLI mode, writing
// text-formatted entries to output at or above filterLevel.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	handler := slog.NewTextHandler(output, &slog.HandlerOptions{Level: filterLevel.SlogLevel()})
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	var attrs []slog.Attr
	attrs = append(attrs, slog.String("subsystem", subsystem))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// TruncateNodeset returns a truncated nodeset string for compact logging,
// e.g. when a target spans hundreds of hosts and the full expansion would
// flood a log line. 43 yields the historical 40-character-plus-ellipsis cap.
func TruncateNodeset(s string) string {
	return milkstrings.TruncateDescription(s, 43)
}

// AuditEvent represents a structured audit log event for a run-affecting
// operation: a config reload, a completed run, a serve daemon starting or
// stopping. These can be collected by external audit systems for
// compliance monitoring independent of ordinary run output.
type AuditEvent struct {
	Action  string // e.g. "config_reload", "run", "serve"
	Outcome string // e.g. "success", "complete", "started", "stopped"
	Target  string // the entity or file path affected
	Details string
	Error   string
}

// Audit logs a structured audit event at INFO level with a distinguishing
// [AUDIT] prefix so it can be filtered separately from run output.
//
// Example output:
// [AUDIT] action=config_reload outcome=success target=cluster.yaml
func Audit(event AuditEvent) {
	parts := make([]string, 0, 5)
	parts = append(parts, "action="+event.Action)
	parts = append(parts, "outcome="+event.Outcome)
	if event.Target != "" {
		parts = append(parts, "target="+event.Target)
	}
	if event.Details != "" {
		parts = append(parts, "details="+event.Details)
	}
	if event.Error != "" {
		parts = append(parts, "error="+event.Error)
	}
	logInternal(LevelInfo, "AUDIT", nil, "[AUDIT] %s", strings.Join(parts, " "))
}
