package process

// UpdatePolicy is a bitset controlling how a node reacts to later
// configuration operations (subsequent Builder calls or Merge Engine
// folds). The flags reproduce spec.md §6 exactly.
type UpdatePolicy uint32

const (
	// PolicyNone keeps existing attributes where possible: no kind
	// replacement, no condition merge.
	PolicyNone UpdatePolicy = 0
	// PolicyIgnoreChanges structurally freezes the node: attribute and
	// child-replacement operations on it are rejected.
	PolicyIgnoreChanges UpdatePolicy = 1 << iota
	// PolicyIgnoreBuilder suppresses invocation of nested builder lambdas
	// for this node (children additions included).
	PolicyIgnoreBuilder
	// PolicyReplaceNode allows replacing a node of one kind with another
	// of the same id.
	PolicyReplaceNode
	// PolicyOverrideHandler replaces the handler function on a handler node.
	PolicyOverrideHandler
	// PolicyOverrideConditions replaces conditions with the incoming list
	// (an empty incoming list clears conditions).
	PolicyOverrideConditions
	// PolicyMergeConditions appends incoming conditions after existing ones.
	PolicyMergeConditions
	// PolicyOverridePriority replaces priority; otherwise priority is kept.
	PolicyOverridePriority
	// PolicyOverrideParallelNumSuccess updates a Parallel's success threshold.
	PolicyOverrideParallelNumSuccess
	// PolicyOverrideParallelNumFailure updates a Parallel's failure threshold.
	PolicyOverrideParallelNumFailure
	// PolicyOverrideThresholdMode updates a Parallel's threshold mode.
	PolicyOverrideThresholdMode
)

// PolicyReadonly composes IGNORE_CHANGES and IGNORE_BUILDER: a fully frozen
// node that also rejects nested builder lambdas.
const PolicyReadonly = PolicyIgnoreChanges | PolicyIgnoreBuilder

// PolicyDefaultHandler is an alias for PolicyOverrideHandler, named to match
// spec.md's DEFAULT_HANDLER constant (handlers default to being replaceable).
const PolicyDefaultHandler = PolicyOverrideHandler

// PolicyDefaultLayer is an alias for PolicyNone, named to match spec.md's
// DEFAULT_LAYER constant.
const PolicyDefaultLayer = PolicyNone

// Has reports whether every bit in flags is set in p.
func (p UpdatePolicy) Has(flags UpdatePolicy) bool {
	return p&flags == flags
}

// HasAny reports whether any bit in flags is set in p.
func (p UpdatePolicy) HasAny(flags UpdatePolicy) bool {
	return p&flags != 0
}

// readOnlyFor resolves the read-only precedence rule from spec.md §6: a
// structural change is refused if either the existing node or the incoming
// operation carries IGNORE_CHANGES. OVERRIDE_* flags on the incoming
// operation never defeat IGNORE_CHANGES on the existing node.
func readOnlyFor(existing, incoming UpdatePolicy) bool {
	return existing.Has(PolicyIgnoreChanges) || incoming.Has(PolicyIgnoreChanges)
}
