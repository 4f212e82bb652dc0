package tcp

import (
	"log/slog"

	"github.com/soypat/tcpcore/internal"
)

// logger is a thin wrapper around *slog.Logger that routes every call
// through internal.LogAttrs, so a debugheaplog build of this module gets
// the same non-allocating allocation-tracing logger the rest of the corpus
// does, without tcp needing its own build-tag pair.
type logger struct {
	log *slog.Logger
}

func newLogger(l *slog.Logger) logger { return logger{log: l} }

func (l logger) trace(msg string, args ...any) { l.logAttrs(internal.LevelTrace, msg, args) }
func (l logger) debug(msg string, args ...any) { l.logAttrs(slog.LevelDebug, msg, args) }
func (l logger) info(msg string, args ...any)  { l.logAttrs(slog.LevelInfo, msg, args) }
func (l logger) error(msg string, args ...any) { l.logAttrs(slog.LevelError, msg, args) }

func (l logger) logAttrs(level slog.Level, msg string, args []any) {
	if l.log == nil || !internal.LogEnabled(l.log, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	internal.LogAttrs(l.log, level, msg, attrs...)
}

// with returns a logger with additional attributes bound, mirroring the
// teacher's pattern of deriving a per-connection logger off a shared base.
func (l logger) with(args ...any) logger {
	if l.log == nil {
		return l
	}
	return logger{log: l.log.With(args...)}
}
