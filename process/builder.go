package process

// TreeBuilder incrementally constructs or modifies a tree rooted at a single
// layer node (spec.md §4.2). It is scoped: Sequence/Selector/Parallel/
// Inverter accept a build func that receives a sub-builder bound to the
// child just created or updated, so nested calls read as nested structure.
//
// The first structural error is recorded and every later call on that
// builder becomes a no-op, so a chain never panics part-way; later errors
// are not recorded. Call Err or Build to observe the recorded error.
type TreeBuilder struct {
	parent LayerNode // nil at the outermost builder
	root   Node      // used only when parent == nil
	logger Logger
	err    error
}

// BuilderOption configures a TreeBuilder at construction time.
type BuilderOption func(*TreeBuilder)

// WithBuilderLogger attaches a Logger for policy-rejection warnings.
func WithBuilderLogger(l Logger) BuilderOption {
	return func(b *TreeBuilder) { b.logger = l }
}

// NewTreeBuilder starts a builder with no root.
func NewTreeBuilder(opts ...BuilderOption) *TreeBuilder {
	b := &TreeBuilder{logger: NoopLogger{}}
	for _, o := range opts {
		o(b)
	}
	return b
}

// NewTreeBuilderFrom continues construction on top of an existing root,
// used by Manager.Register to fold repeated registrations under one key
// and by Process to extend processing()'s output with WithProcessing().
func NewTreeBuilderFrom(root Node, opts ...BuilderOption) *TreeBuilder {
	b := NewTreeBuilder(opts...)
	b.root = root
	return b
}

func (b *TreeBuilder) addErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first structural error accumulated so far, if any.
func (b *TreeBuilder) Err() error { return b.err }

// Build finalizes the tree and returns its root.
func (b *TreeBuilder) Build() (Node, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.parent != nil {
		// A sub-builder's "root" is its bound parent; Build on it returns
		// that parent node directly.
		return b.parent, nil
	}
	if b.root == nil {
		return nil, &ConfigurationError{Reason: "tree builder produced no root"}
	}
	return b.root, nil
}

// nodeSpec collects the optional attributes of a single construction call.
// Priority defaults to DefaultPriority so a zero-value NodeOption slice
// still produces spec.md's documented default.
type nodeSpec struct {
	priority   Priority
	policy     UpdatePolicy
	conditions []Condition
	parallel   ParallelParams
}

func newNodeSpec() nodeSpec {
	return nodeSpec{priority: DefaultPriority, policy: PolicyDefaultLayer}
}

// NodeOption configures a single Builder construction call.
type NodeOption func(*nodeSpec)

// WithPriority overrides the node's evaluation priority.
func WithPriority(p Priority) NodeOption { return func(s *nodeSpec) { s.priority = p } }

// WithPolicy sets the node's update policy bitset (spec.md §6).
func WithPolicy(p UpdatePolicy) NodeOption { return func(s *nodeSpec) { s.policy = p } }

// WithConditions attaches eligibility predicates, evaluated as short-circuit AND.
func WithConditions(conds ...Condition) NodeOption {
	return func(s *nodeSpec) { s.conditions = conds }
}

// WithParallelParams sets threshold configuration; ignored on non-Parallel calls.
func WithParallelParams(p ParallelParams) NodeOption {
	return func(s *nodeSpec) { s.parallel = p }
}

func resolveNodeSpec(opts []NodeOption) nodeSpec {
	s := newNodeSpec()
	for _, o := range opts {
		o(&s)
	}
	return s
}

// Sequence inserts or updates a Sequence child (or the root, at the
// outermost scope) and recurses build over a sub-builder bound to it.
func (b *TreeBuilder) Sequence(id string, build func(*TreeBuilder), opts ...NodeOption) *TreeBuilder {
	return b.layerCall(KindSequence, id, build, opts)
}

// Selector inserts or updates a Selector child.
func (b *TreeBuilder) Selector(id string, build func(*TreeBuilder), opts ...NodeOption) *TreeBuilder {
	return b.layerCall(KindSelector, id, build, opts)
}

// Parallel inserts or updates a Parallel child.
func (b *TreeBuilder) Parallel(id string, build func(*TreeBuilder), opts ...NodeOption) *TreeBuilder {
	return b.layerCall(KindParallel, id, build, opts)
}

// Inverter inserts or updates an Inverter child. Builders should attach
// exactly one grandchild; neither Build nor Process.Execute checks this. A
// childless Inverter executes to UNKNOWN (returned by Execute with a nil
// error), and an Inverter with several children evaluates only the first.
func (b *TreeBuilder) Inverter(id string, build func(*TreeBuilder), opts ...NodeOption) *TreeBuilder {
	return b.layerCall(KindInverter, id, build, opts)
}

// Handler inserts or updates a Handler leaf bound to fn.
func (b *TreeBuilder) Handler(id string, fn HandlerFunc, opts ...NodeOption) *TreeBuilder {
	if b.err != nil {
		return b
	}
	spec := resolveNodeSpec(opts)
	if b.parent == nil && b.root == nil {
		b.addErr(&ConfigurationError{NodeID: id, Reason: "Handler cannot be the root of a tree"})
		return b
	}
	_, err := b.upsert(KindHandler, id, spec, fn, nil)
	if err != nil {
		b.addErr(err)
	}
	return b
}

func (b *TreeBuilder) layerCall(kind NodeKind, id string, build func(*TreeBuilder), opts []NodeOption) *TreeBuilder {
	if b.err != nil {
		return b
	}
	spec := resolveNodeSpec(opts)
	node, err := b.upsert(kind, id, spec, nil, build)
	if err != nil {
		b.addErr(err)
		return b
	}
	if node == nil {
		// Policy rejection: upsert has already run the nested build func
		// over the existing node, or skipped it, as that node's policy
		// dictates (spec.md §4.2 step 3).
		return b
	}
	return b
}

// upsert implements spec.md §4.2 steps 1-4 for one (kind, id) construction
// call. build is invoked (recursively, via a child-scoped TreeBuilder) only
// for layer kinds; handlerFn is used only for KindHandler. It returns the
// resulting node, or nil if the call was a no-op (policy rejection or a
// refused structural change that still ran the nested builder in place).
func (b *TreeBuilder) upsert(kind NodeKind, id string, spec nodeSpec, handlerFn HandlerFunc, build func(*TreeBuilder)) (Node, error) {
	existing, hasExisting, isRoot := b.lookup(id)

	if !hasExisting {
		n := newNodeOfKind(kind, id, b.nextOrder(), spec.priority, spec.policy, spec.conditions, spec.parallel, handlerFn)
		b.attach(n, isRootSlot(b))
		// A node's policy governs later operations on it, not the call
		// that creates it, so the creating build func always runs.
		b.recurseBuilder(n, PolicyNone, build)
		return n, nil
	}

	if existing.UpdatePolicy().Has(PolicyIgnoreChanges) {
		b.logger.Warn("policy rejection: node is read-only", "source", "process.Builder",
			"node", id)
		if !existing.UpdatePolicy().Has(PolicyIgnoreBuilder) {
			b.recurseBuilder(existing, spec.policy, build)
		}
		return nil, nil
	}

	if existing.Kind() == kind {
		// IGNORE_BUILDER on the existing node (read before updateInPlace
		// overwrites its policy) or on this call suppresses the build func.
		prevPolicy := existing.UpdatePolicy()
		b.updateInPlace(existing, spec, handlerFn)
		b.recurseBuilder(existing, prevPolicy|spec.policy, build)
		return existing, nil
	}

	// Kinds differ.
	if !spec.policy.Has(PolicyReplaceNode) {
		b.logger.Warn("policy rejection: kind mismatch without REPLACE_NODE", "source", "process.Builder",
			"node", id, "existing", existing.Kind().String(), "incoming", kind.String())
		return nil, nil
	}
	replacement := newNodeOfKind(kind, id, existing.Order(), spec.priority, spec.policy, spec.conditions, spec.parallel, handlerFn)
	b.replace(existing, replacement, isRoot)
	b.recurseBuilder(replacement, spec.policy, build)
	return replacement, nil
}

// lookup resolves id against the current scope: the parent's children if
// bound to one, else the single top-level root.
func (b *TreeBuilder) lookup(id string) (existing Node, found bool, isRoot bool) {
	if b.parent != nil {
		c, ok := b.parent.GetChild(id)
		return c, ok, false
	}
	if b.root != nil && b.root.ID() == id {
		return b.root, true, true
	}
	return nil, false, true
}

func isRootSlot(b *TreeBuilder) bool { return b.parent == nil }

func (b *TreeBuilder) nextOrder() int {
	if b.parent != nil {
		return len(b.parent.Children())
	}
	return 0
}

func (b *TreeBuilder) attach(n Node, isRoot bool) {
	if isRoot {
		b.root = n
		return
	}
	b.parent.AddChild(n)
}

func (b *TreeBuilder) replace(existing, replacement Node, isRoot bool) {
	if isRoot {
		b.root = replacement
		return
	}
	// replacement already carries existing's Order (set by the caller), so
	// evalOrder and ReorderChildren keep it in existing's place even though
	// AddChild appends it to the end of the slice.
	b.parent.RemoveChild(existing.ID())
	b.parent.AddChild(replacement)
}

func (b *TreeBuilder) updateInPlace(n Node, spec nodeSpec, handlerFn HandlerFunc) {
	if spec.policy.Has(PolicyOverridePriority) {
		n.setPriority(spec.priority)
	}
	n.setConditions(updateConditions(spec.policy, n.Conditions(), spec.conditions))
	n.setUpdatePolicy(spec.policy)

	switch t := n.(type) {
	case *handlerNode:
		if spec.policy.Has(PolicyOverrideHandler) && handlerFn != nil {
			t.fn = handlerFn
		}
	case *parallelNode:
		if spec.policy.Has(PolicyOverrideParallelNumSuccess) {
			t.params.SuccessThreshold = spec.parallel.SuccessThreshold
		}
		if spec.policy.Has(PolicyOverrideParallelNumFailure) {
			t.params.FailureThreshold = spec.parallel.FailureThreshold
		}
		if spec.policy.Has(PolicyOverrideThresholdMode) {
			t.params.Mode = spec.parallel.Mode
		}
	}
	if spec.policy.Has(PolicyReplaceNode) {
		if ln, ok := n.(LayerNode); ok {
			for _, c := range ln.Children() {
				ln.RemoveChild(c.ID())
			}
		}
	}
}

func (b *TreeBuilder) recurseBuilder(n Node, policy UpdatePolicy, build func(*TreeBuilder)) {
	if build == nil {
		return
	}
	if policy.Has(PolicyIgnoreBuilder) {
		return
	}
	ln, ok := n.(LayerNode)
	if !ok {
		return
	}
	sub := &TreeBuilder{parent: ln, logger: b.logger}
	build(sub)
	if sub.err != nil {
		b.addErr(sub.err)
	}
}

// updateConditions implements spec.md §4.2's condition-update rule.
func updateConditions(policy UpdatePolicy, existing, incoming []Condition) []Condition {
	switch {
	case len(incoming) == 0 && policy.Has(PolicyOverrideConditions):
		return nil
	case !policy.HasAny(PolicyOverrideConditions | PolicyMergeConditions):
		return existing
	case policy.Has(PolicyOverrideConditions):
		return append([]Condition(nil), incoming...)
	default: // PolicyMergeConditions
		out := append([]Condition(nil), existing...)
		return append(out, incoming...)
	}
}

func newNodeOfKind(kind NodeKind, id string, order int, priority Priority, policy UpdatePolicy, conds []Condition, pp ParallelParams, fn HandlerFunc) Node {
	switch kind {
	case KindSequence:
		return newSequenceNode(id, order, priority, policy, conds)
	case KindSelector:
		return newSelectorNode(id, order, priority, policy, conds)
	case KindParallel:
		return newParallelNode(id, order, priority, policy, conds, pp)
	case KindInverter:
		return newInverterNode(id, order, priority, policy, conds)
	default:
		return newHandlerNode(id, order, priority, policy, conds, fn)
	}
}

// Merge folds sub into the builder's current scope per spec.md §4.6: same
// id and kind recurses; same id and differing kind replaces only when
// permitted (REPLACE_NODE on sub and not read-only on the existing node);
// no match attaches sub as a new child (or as the root, at the top level).
func (b *TreeBuilder) Merge(sub Node) *TreeBuilder {
	if b.err != nil {
		return b
	}
	if sub == nil {
		b.addErr(&ConfigurationError{Reason: "Merge called with a nil node"})
		return b
	}
	existing, hasExisting, isRoot := b.lookup(sub.ID())
	if !hasExisting {
		clone := sub.Clone()
		clone.setOrder(b.nextOrder())
		b.attach(clone, isRoot)
		return b
	}
	merged, err := mergeNodes(existing, sub, b.logger)
	if err != nil {
		b.addErr(err)
		return b
	}
	if isRoot {
		b.root = merged
	} else if merged != existing {
		b.parent.RemoveChild(existing.ID())
		merged.setOrder(existing.Order())
		b.parent.AddChild(merged)
	}
	return b
}

// RemoveNode deletes the named child from the current scope.
func (b *TreeBuilder) RemoveNode(id string) *TreeBuilder {
	if b.err != nil {
		return b
	}
	if b.parent != nil {
		b.parent.RemoveChild(id)
		return b
	}
	if b.root != nil && b.root.ID() == id {
		b.root = nil
	}
	return b
}
