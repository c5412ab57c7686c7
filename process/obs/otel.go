package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drefi/LSUtils-sub007/process"
)

// OTelLogger turns each log call into a short-lived span, mirroring the
// point-in-time event shape used for node execution in the upstream
// tracing integration this is grounded on. It does not hold a long-lived
// span open across a Session, since a Session has no single parent
// context to attach to.
type OTelLogger struct {
	tracer trace.Tracer
}

// NewOTelLogger wraps tracer, typically obtained via otel.Tracer("name").
func NewOTelLogger(tracer trace.Tracer) *OTelLogger {
	return &OTelLogger{tracer: tracer}
}

func (o *OTelLogger) emit(level, msg string, kv []any) {
	_, span := o.tracer.Start(context.Background(), msg)
	defer span.End()

	attrs := make([]attribute.KeyValue, 0, len(kv)/2+1)
	attrs = append(attrs, attribute.String("level", level))
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attribute.String(key, fmt.Sprint(kv[i+1])))
	}
	span.SetAttributes(attrs...)
	if level == "error" {
		span.SetStatus(codes.Error, msg)
	}
}

func (o *OTelLogger) Debug(msg string, kv ...any) { o.emit("debug", msg, kv) }
func (o *OTelLogger) Info(msg string, kv ...any)  { o.emit("info", msg, kv) }
func (o *OTelLogger) Warn(msg string, kv ...any)  { o.emit("warn", msg, kv) }
func (o *OTelLogger) Error(msg string, kv ...any) { o.emit("error", msg, kv) }

var _ process.Logger = (*OTelLogger)(nil)
