package process

// ContextMode selects which registry layers contribute to a composed root
// at execution time (spec.md §4.3). Resolved here as a plain enum rather
// than a bitset — see DESIGN.md's Open Question decision on
// LSProcessContextMode.
type ContextMode int

const (
	// ContextLocal uses only the Process's own processing()/WithProcessing() output.
	ContextLocal ContextMode = iota
	// ContextGlobal includes the registry's global entry only.
	ContextGlobal
	// ContextMatchFirst includes the global entry plus the first matching instance.
	ContextMatchFirst
	// ContextAll includes the global entry plus every matching instance.
	ContextAll
)

func (m ContextMode) String() string {
	switch m {
	case ContextLocal:
		return "LOCAL"
	case ContextGlobal:
		return "GLOBAL"
	case ContextMatchFirst:
		return "MATCH_FIRST"
	case ContextAll:
		return "ALL"
	default:
		return "INVALID_CONTEXT_MODE"
	}
}
