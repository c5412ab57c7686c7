package process

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/drefi/LSUtils-sub007/process/registrystore"
)

// Manager is the process-wide store of configuration trees, keyed by
// (process-type, optional instance) (spec.md §4.3). Registration and
// lookup are concurrency-safe; composition (GetRootNode) only ever reads
// stored entries and hands back clones, never mutating them.
type Manager struct {
	mu        sync.RWMutex
	global    map[string]Node
	instances map[string]map[string]Node
	logger    Logger

	store    registrystore.Store
	versions map[registrystore.Key]int
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithManagerLogger attaches a Logger used for merge-time warnings raised
// while composing a root.
func WithManagerLogger(l Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithRegistryStore attaches a durable write-behind cache: every successful
// Register call persists the resulting tree's structural snapshot (never a
// runnable tree — see registrystore's package doc). The in-memory registry
// stays authoritative; the store exists for audit/debugging and for a
// restarting process to inspect what was last registered, not to rehydrate
// a tree (spec.md's no-tree-serialization Non-goal still holds).
func WithRegistryStore(store registrystore.Store) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// NewManager constructs an empty registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		global:    make(map[string]Node),
		instances: make(map[string]map[string]Node),
		logger:    NoopLogger{},
		versions:  make(map[registrystore.Key]int),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateRootNode returns a fresh, empty Sequence root, the same shape the
// Manager falls back to when no tree is registered for a type (spec.md §6).
func CreateRootNode(id string) Node {
	return newSequenceNode(id, 0, DefaultPriority, PolicyDefaultLayer, nil)
}

// Register constructs (or extends) the tree stored under (typeName,
// instance): an empty instance string addresses the global entry. A
// repeated registration for the same key starts a builder seeded with the
// previously stored tree, so registrations accumulate (spec.md §4.3).
func (m *Manager) Register(typeName, instance string, build func(*TreeBuilder)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var existing Node
	if instance == "" {
		existing = m.global[typeName]
	} else if byInst, ok := m.instances[typeName]; ok {
		existing = byInst[instance]
	}

	b := NewTreeBuilderFrom(existing, WithBuilderLogger(m.logger))
	build(b)
	root, err := b.Build()
	if err != nil {
		return err
	}

	if instance == "" {
		m.global[typeName] = root
	} else {
		if m.instances[typeName] == nil {
			m.instances[typeName] = make(map[string]Node)
		}
		m.instances[typeName][instance] = root
	}

	m.persistSnapshot(typeName, instance, root)
	return nil
}

// persistSnapshot writes root's structural snapshot to the attached store,
// if any. A failure here only logs a warning: the store is a cache, never
// the source of truth for a running Manager.
func (m *Manager) persistSnapshot(typeName, instance string, root Node) {
	if m.store == nil {
		return
	}
	key := registrystore.Key{ProcessType: typeName, Instance: instance}
	blob, err := json.Marshal(Describe(root))
	if err != nil {
		m.logger.Warn("registry snapshot encode failed", "source", "process.Manager",
			"type", typeName, "instance", instance, "error", err)
		return
	}
	m.versions[key]++
	if err := m.store.Save(context.Background(), key, m.versions[key], blob); err != nil {
		m.logger.Warn("registry snapshot save failed", "source", "process.Manager",
			"type", typeName, "instance", instance, "error", err)
	}
}

// LoadSnapshot reads back the last persisted structural snapshot for
// (typeName, instance) from the attached store, for audit/debugging. It
// never reconstructs a runnable tree (registrystore never stores one).
func (m *Manager) LoadSnapshot(typeName, instance string) (snapshot []byte, version int, err error) {
	if m.store == nil {
		return nil, 0, registrystore.ErrNotFound
	}
	return m.store.Load(context.Background(), registrystore.Key{ProcessType: typeName, Instance: instance})
}

// GetRootNode assembles a freshly composed, independently owned root for
// one execution, per the algorithm in spec.md §4.3. matchedInstances lists
// the instance ids that actually contributed, in the order they were
// folded in.
func (m *Manager) GetRootNode(typeName string, mode ContextMode, candidateInstances ...string) (Node, []string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if mode == ContextLocal {
		return CreateRootNode(typeName), nil, nil
	}

	var root Node
	if g, ok := m.global[typeName]; ok {
		root = g.Clone()
	} else {
		root = CreateRootNode(typeName)
	}

	if mode == ContextGlobal {
		return root, nil, nil
	}

	byInst := m.instances[typeName]
	var matched []string
	for _, inst := range candidateInstances {
		instRoot, ok := byInst[inst]
		if !ok {
			continue
		}
		merged, err := mergeNodes(root, instRoot, m.logger)
		if err != nil {
			return nil, nil, err
		}
		root = merged
		matched = append(matched, inst)
		if mode == ContextMatchFirst {
			break
		}
	}
	return root, matched, nil
}
