// Package khalalog defines the small structured-logging interface the
// broker logs through, backed by github.com/rs/zerolog.
//
// Grounded on the teacher's debug_log.go (a single global sink gated by
// an env var) generalized into an injectable interface, matching the
// protocol.Logger shape seen in the retrieval pack's other core example
// (Info/Warn/Error/Debug each taking a message and key-value pairs) so
// the broker never couples to a concrete logging backend.
package khalalog

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logging surface the broker depends on.
// Every call site supplies a context (for future trace-id propagation)
// and an even-length slice of alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	base zerolog.Logger
}

// New returns a Logger writing JSON lines to w at the given minimum level.
func New(w *os.File, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	base := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zerologLogger{base: base}
}

// NewConsole returns a Logger writing human-readable console output,
// suitable for the demo command and local development.
func NewConsole(w *os.File, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	base := zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(level).With().Timestamp().Logger()
	return &zerologLogger{base: base}
}

// Nop returns a Logger that discards everything, for tests that don't
// care about log output.
func Nop() Logger {
	return &zerologLogger{base: zerolog.Nop()}
}

func (l *zerologLogger) Debug(ctx context.Context, msg string, kv ...any) {
	l.emit(l.base.Debug(), msg, kv...)
}

func (l *zerologLogger) Info(ctx context.Context, msg string, kv ...any) {
	l.emit(l.base.Info(), msg, kv...)
}

func (l *zerologLogger) Warn(ctx context.Context, msg string, kv ...any) {
	l.emit(l.base.Warn(), msg, kv...)
}

func (l *zerologLogger) Error(ctx context.Context, msg string, kv ...any) {
	l.emit(l.base.Error(), msg, kv...)
}

func (l *zerologLogger) emit(e *zerolog.Event, msg string, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
