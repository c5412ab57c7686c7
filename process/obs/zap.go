// Package obs supplies concrete Logger implementations for the process
// package's logging collaborator (spec.md §6): zap for local/console
// output, OpenTelemetry for span-attached tracing, and a fan-out that
// drives several at once.
package obs

import (
	"go.uber.org/zap"

	"github.com/drefi/LSUtils-sub007/process"
)

// ZapLogger adapts a *zap.Logger to process.Logger. Key-value pairs are
// passed straight through to zap's sugared API, so callers may use the same
// alternating key/value convention as process.Logger's own contract.
type ZapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil l falls back to zap.NewNop().
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{l: l.Sugar()}
}

func (z *ZapLogger) Debug(msg string, kv ...any) { z.l.Debugw(msg, kv...) }
func (z *ZapLogger) Info(msg string, kv ...any)  { z.l.Infow(msg, kv...) }
func (z *ZapLogger) Warn(msg string, kv ...any)  { z.l.Warnw(msg, kv...) }
func (z *ZapLogger) Error(msg string, kv ...any) { z.l.Errorw(msg, kv...) }

var _ process.Logger = (*ZapLogger)(nil)
