package obs

import "github.com/drefi/LSUtils-sub007/process"

// Multi fans a log call out to every wrapped Logger, in order.
type Multi struct {
	loggers []process.Logger
}

// NewMulti builds a fan-out Logger over loggers.
func NewMulti(loggers ...process.Logger) *Multi {
	return &Multi{loggers: loggers}
}

func (m *Multi) Debug(msg string, kv ...any) {
	for _, l := range m.loggers {
		l.Debug(msg, kv...)
	}
}

func (m *Multi) Info(msg string, kv ...any) {
	for _, l := range m.loggers {
		l.Info(msg, kv...)
	}
}

func (m *Multi) Warn(msg string, kv ...any) {
	for _, l := range m.loggers {
		l.Warn(msg, kv...)
	}
}

func (m *Multi) Error(msg string, kv ...any) {
	for _, l := range m.loggers {
		l.Error(msg, kv...)
	}
}

var _ process.Logger = (*Multi)(nil)
