package process

import (
	"fmt"
	"sync"
	"time"

	"github.com/drefi/LSUtils-sub007/process/idgen"
	"github.com/drefi/LSUtils-sub007/process/metrics"
)

// ProcessingFunc builds a subtree; returned by a Process's processing() and
// WithProcessing() hooks (spec.md §4.4).
type ProcessingFunc func() (Node, error)

// Process is a stateful work item that carries a keyed data store and owns
// a single composed tree per execution (spec.md §2, §3, §4.4).
type Process struct {
	id        string
	typeName  string
	createdAt time.Time

	mu   sync.RWMutex
	data map[string]any

	processingFn      ProcessingFunc
	withProcessingFn  ProcessingFunc
	logger            Logger
	metrics           *metrics.SchedulerMetrics

	isExecuted  bool
	isCompleted bool
	isCancelled bool
	lastStatus  Status

	composedRoot     Node
	matchedInstances []string
}

// ProcessOption configures a Process at construction time.
type ProcessOption func(*Process)

// WithProcessingHook sets the processing() defaults hook.
func WithProcessingHook(fn ProcessingFunc) ProcessOption {
	return func(p *Process) { p.processingFn = fn }
}

// WithProcessingOverride sets the WithProcessing() local-override hook.
func WithProcessingOverride(fn ProcessingFunc) ProcessOption {
	return func(p *Process) { p.withProcessingFn = fn }
}

// WithProcessLogger attaches a Logger used for this Process's Session calls.
func WithProcessLogger(l Logger) ProcessOption {
	return func(p *Process) { p.logger = l }
}

// WithProcessMetrics attaches Prometheus scheduler bookkeeping: the WAITING
// gauge and terminal-outcome counters are updated from settle, and
// Execute/Resume/Fail/Cancel latencies are observed around each call.
func WithProcessMetrics(m *metrics.SchedulerMetrics) ProcessOption {
	return func(p *Process) { p.metrics = m }
}

// WithProcessID overrides the generated id, mainly for tests.
func WithProcessID(id string) ProcessOption {
	return func(p *Process) { p.id = id }
}

// WithCreatedAt overrides the generated creation timestamp, mainly for tests.
func WithCreatedAt(t time.Time) ProcessOption {
	return func(p *Process) { p.createdAt = t }
}

// New constructs a Process of the given registry type tag.
func New(typeName string, opts ...ProcessOption) *Process {
	p := &Process{
		id:        idgen.UUID(),
		typeName:  typeName,
		createdAt: time.Now(),
		data:      make(map[string]any),
		logger:    NoopLogger{},
		lastStatus: StatusUnknown,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Process) ID() string          { return p.id }
func (p *Process) TypeName() string    { return p.typeName }
func (p *Process) CreatedAt() time.Time { return p.createdAt }
func (p *Process) IsExecuted() bool    { return p.isExecuted }
func (p *Process) IsCompleted() bool   { return p.isCompleted }
func (p *Process) IsCancelled() bool   { return p.isCancelled }
func (p *Process) LastStatus() Status  { return p.lastStatus }

// MatchedInstances returns the registry instance ids that contributed to
// this Process's most recent composed root.
func (p *Process) MatchedInstances() []string { return p.matchedInstances }

// SetData stores v under key, overwriting any previous value.
func (p *Process) SetData(key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = v
}

// GetData reads the value stored under key, generically typed as T. Go
// forbids type parameters on methods, so this lives as a package-level
// function rather than *Process.GetData[T] (spec.md §4.4, §9).
func GetData[T any](p *Process, key string) (T, error) {
	var zero T
	p.mu.RLock()
	raw, ok := p.data[key]
	p.mu.RUnlock()
	if !ok {
		return zero, &ContractViolation{Op: "GetData", Reason: fmt.Sprintf("%s: %q", ErrMissingData, key)}
	}
	v, ok := raw.(T)
	if !ok {
		return zero, &ContractViolation{Op: "GetData", Reason: fmt.Sprintf("%s: %q", ErrTypeMismatch, key)}
	}
	return v, nil
}

// TryGetData reads the value stored under key, reporting false rather than
// an error on a missing key or a type mismatch.
func TryGetData[T any](p *Process, key string) (T, bool) {
	var zero T
	p.mu.RLock()
	raw, ok := p.data[key]
	p.mu.RUnlock()
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// buildLocalRoot folds processing() then WithProcessing() into one subtree,
// lowest to highest precedence (spec.md §4.4 step 3).
func (p *Process) buildLocalRoot() (Node, error) {
	b := NewTreeBuilder(WithBuilderLogger(p.logger))
	haveLocal := false
	if p.processingFn != nil {
		sub, err := p.processingFn()
		if err != nil {
			return nil, err
		}
		if sub != nil {
			b.Merge(sub)
			haveLocal = true
		}
	}
	if p.withProcessingFn != nil {
		sub, err := p.withProcessingFn()
		if err != nil {
			return nil, err
		}
		if sub != nil {
			b.Merge(sub)
			haveLocal = true
		}
	}
	if !haveLocal {
		return nil, nil
	}
	return b.Build()
}

// Execute runs the composed tree for contextMode + instances, caching a
// terminal result (spec.md §4.4).
func (p *Process) Execute(manager *Manager, contextMode ContextMode, instances ...string) (Status, error) {
	if p.isCompleted {
		return p.lastStatus, nil
	}
	if manager == nil {
		return StatusUnknown, &ContractViolation{Op: "Execute", Reason: ErrNilManager.Error()}
	}
	if p.metrics != nil {
		start := time.Now()
		defer func() { p.metrics.ObserveLatency(p.typeName, "Execute", time.Since(start)) }()
	}

	registryRoot, matched, err := manager.GetRootNode(p.typeName, contextMode, instances...)
	if err != nil {
		return StatusUnknown, err
	}

	localRoot, err := p.buildLocalRoot()
	if err != nil {
		return StatusUnknown, err
	}

	composed := registryRoot
	if localRoot != nil && contextMode == ContextLocal {
		// LOCAL takes no registry layer, so the local root is used as is.
		composed = localRoot
	} else if localRoot != nil {
		composed, err = mergeNodes(registryRoot, localRoot, p.logger)
		if err != nil {
			return StatusUnknown, err
		}
	}
	if ln, ok := composed.(LayerNode); ok {
		ln.ReorderChildren()
	}

	p.composedRoot = composed
	p.matchedInstances = matched

	sess := newSession(manager, p, composed, contextMode, matched, p.logger)
	status := composed.execute(sess)
	p.settle(status)
	return status, nil
}

// Resume routes into the retained composed root, only valid while the
// Process is WAITING (spec.md §4.4).
func (p *Process) Resume(path string) (Status, error) {
	return p.route(path, false)
}

// Fail routes into the retained composed root, forcing the addressed
// WAITING handler to FAILURE without invoking it (spec.md §4.4).
func (p *Process) Fail(path string) (Status, error) {
	return p.route(path, true)
}

func (p *Process) route(path string, fail bool) (Status, error) {
	op := "Resume"
	if fail {
		op = "Fail"
	}
	if p.metrics != nil {
		start := time.Now()
		defer func() { p.metrics.ObserveLatency(p.typeName, op, time.Since(start)) }()
	}
	if p.isCancelled {
		return p.lastStatus, &ContractViolation{Op: op, Reason: ErrAlreadyCancel.Error()}
	}
	if !p.isExecuted || p.lastStatus != StatusWaiting {
		return p.lastStatus, &ContractViolation{Op: op, Reason: ErrNotWaiting.Error()}
	}
	np := ParsePath(path)
	target, ok := findNode(p.composedRoot, np)
	if !ok {
		return p.lastStatus, &ContractViolation{Op: op, Reason: "no node at the given path"}
	}
	if target.Status() != StatusWaiting {
		return p.lastStatus, &ContractViolation{Op: op, Reason: ErrNotWaiting.Error()}
	}

	sess := newSession(nil, p, p.composedRoot, ContextLocal, p.matchedInstances, p.logger)
	var status Status
	if fail {
		status = p.composedRoot.fail(sess, np)
	} else {
		status = p.composedRoot.resume(sess, np)
	}
	p.settle(status)
	return status, nil
}

// Cancel unconditionally transitions the Process to CANCELLED. Valid only
// after at least one Execute call (spec.md §4.4).
func (p *Process) Cancel() (Status, error) {
	if !p.isExecuted {
		return StatusUnknown, &ContractViolation{Op: "Cancel", Reason: ErrNotExecuted.Error()}
	}
	if p.metrics != nil {
		start := time.Now()
		defer func() { p.metrics.ObserveLatency(p.typeName, "Cancel", time.Since(start)) }()
	}
	sess := newSession(nil, p, p.composedRoot, ContextLocal, p.matchedInstances, p.logger)
	status := p.composedRoot.cancel(sess)
	p.settle(status)
	return status, nil
}

// settle records status as the Process's latest outcome, updating the
// completion/cancellation flags and, when metrics are attached, the WAITING
// gauge (on entering or leaving suspension) and the terminal-outcome counter.
func (p *Process) settle(status Status) {
	prev := p.lastStatus
	p.isExecuted = true
	p.lastStatus = status
	if status.Terminal() {
		p.isCompleted = true
		if status == StatusCancelled {
			p.isCancelled = true
		}
	}

	if p.metrics != nil {
		if status == StatusWaiting && prev != StatusWaiting {
			p.metrics.ObserveEnter()
		} else if prev == StatusWaiting && status != StatusWaiting {
			p.metrics.ObserveLeave()
		}
		if status.Terminal() {
			p.metrics.ObserveTerminal(p.typeName, status.String())
		}
	}
}
