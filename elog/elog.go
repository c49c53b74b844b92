// Package elog is the core's structured logging wrapper. It keeps the
// call shape erigon-lib's own log/v3 uses — Info(msg, key, value, key,
// value, ...) — on top of zerolog, since log/v3 itself is internal to
// erigon-lib and not an independently fetchable module.
//
// No package-level logger exists; every constructor takes one in, per the
// "global state forbidden" rule (spec §9).
package elog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the core's logging handle. The zero value is not usable; build
// one with New or Nop.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing human-readable output to w at the given
// minimum level ("debug", "info", "warn", "error"). An unknown level
// defaults to "info".
func New(w io.Writer, level string) Logger {
	zl := zerolog.ParseLevel
	lvl, err := zl(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	cw := zerolog.ConsoleWriter{Out: w, NoColor: false}
	return Logger{z: zerolog.New(cw).Level(lvl).With().Timestamp().Logger()}
}

// Default builds a Logger writing to stderr at info level.
func Default() Logger { return New(os.Stderr, "info") }

// Nop returns a Logger that discards everything; useful in tests and as a
// constructor default.
func Nop() Logger { return Logger{z: zerolog.Nop()} }

// With returns a derived Logger with the given key/value pairs attached to
// every subsequent entry. kv must have an even length (key, value, key,
// value, ...); an odd trailing key is dropped.
func (l Logger) With(kv ...any) Logger {
	ctx := l.z.With()
	ctx = appendKV(ctx, kv)
	return Logger{z: ctx.Logger()}
}

func (l Logger) Debug(msg string, kv ...any) { event(l.z.Debug(), msg, kv) }
func (l Logger) Info(msg string, kv ...any)  { event(l.z.Info(), msg, kv) }
func (l Logger) Warn(msg string, kv ...any)  { event(l.z.Warn(), msg, kv) }
func (l Logger) Error(msg string, kv ...any) { event(l.z.Error(), msg, kv) }

func event(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func appendKV(ctx zerolog.Context, kv []any) zerolog.Context {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return ctx
}
