// Package log is a leveled, structured logger built on top of log/slog,
// shaped after the teacher's own log package: a package-level root Logger,
// Info/Debug/Warn/Error/Crit call sites taking alternating key/value pairs,
// and a Crit that terminates the process for invariant violations (the
// caching core's Fatal error kind, spec.md §7).
package log

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the interface every call site in this module logs through.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

const levelTrace = slog.Level(-8)
const levelCrit = slog.Level(12)

type logger struct {
	inner *slog.Logger
}

var root Logger = &logger{inner: slog.New(newTerminalHandler(os.Stderr))}

// Root returns the package-level default logger.
func Root() Logger { return root }

// SetDefault replaces the package-level default logger, e.g. to redirect
// to JSON output in production.
func SetDefault(l Logger) { root = l }

// New returns a new Logger with ctx permanently attached, matching the
// teacher's log.New(ctx...) convention for per-component loggers (one per
// ObjHead shard, per storage engine, per expiry thread, ...).
func New(ctx ...any) Logger {
	return root.With(ctx...)
}

func (l *logger) With(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

func (l *logger) log(level slog.Level, msg string, ctx []any) {
	l.inner.Log(context.Background(), level, msg, ctx...)
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(levelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(slog.LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(slog.LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(slog.LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.log(slog.LevelError, msg, ctx) }

// Crit logs at the critical level and then terminates the process. This is
// the package's analogue of a panic-with-report: invariant violations
// (spec.md's Fatal error kind) are not recoverable and must not be allowed
// to continue running against corrupted cache state.
func (l *logger) Crit(msg string, ctx ...any) {
	l.log(levelCrit, msg, ctx)
	os.Exit(1)
}

// package-level convenience wrappers, mirroring the teacher's call sites
// (log.Info("...", "k", v), not logger.Info(...)).

func Trace(msg string, ctx ...any) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { root.Crit(msg, ctx...) }
