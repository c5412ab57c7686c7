package metrics

// Logger has the same method set as process.Logger, so any process.Logger
// satisfies it and an ObservingLogger can be handed back to the process
// package. It is declared here because process imports this package.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// ObservingLogger wraps a Logger, additionally feeding every Warn call into
// SchedulerMetrics.ObservePolicyRejection. In the process package, Warn is
// used for policy rejections and also for Manager's registry snapshot
// encode/save failures, which are counted here as well.
type ObservingLogger struct {
	next Logger
	m    *SchedulerMetrics
}

// NewObservingLogger wraps next, recording metrics via m.
func NewObservingLogger(next Logger, m *SchedulerMetrics) *ObservingLogger {
	if next == nil {
		next = nopLogger{}
	}
	return &ObservingLogger{next: next, m: m}
}

func (o *ObservingLogger) Debug(msg string, kv ...any) { o.next.Debug(msg, kv...) }
func (o *ObservingLogger) Info(msg string, kv ...any)  { o.next.Info(msg, kv...) }

func (o *ObservingLogger) Warn(msg string, kv ...any) {
	o.next.Warn(msg, kv...)
	if o.m == nil {
		return
	}
	node := "unknown"
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == "node" {
			if s, ok := kv[i+1].(string); ok {
				node = s
			}
		}
	}
	o.m.ObservePolicyRejection(node)
}

func (o *ObservingLogger) Error(msg string, kv ...any) { o.next.Error(msg, kv...) }

var _ Logger = (*ObservingLogger)(nil)
