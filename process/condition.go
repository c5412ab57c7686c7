package process

// Condition gates node eligibility. A node is eligible only when every one
// of its conditions holds; an empty condition list means always eligible.
// A panicking predicate is treated as false (spec.md §7, ConditionException)
// and logged rather than propagated.
type Condition func(p *Process) bool

// evaluateConditions runs conds in order against p, short-circuiting on the
// first false. A recovered panic counts as false.
func evaluateConditions(s *Session, nodeID string, conds []Condition) bool {
	for _, c := range conds {
		if !safeCondition(s, nodeID, c) {
			return false
		}
	}
	return true
}

func safeCondition(s *Session, nodeID string, c Condition) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if s != nil {
				s.logger().Error("condition panicked", "source", "process.Condition",
					"node", nodeID, "error", &ConditionException{NodeID: nodeID, Cause: toError(r)})
			}
			ok = false
		}
	}()
	return c(s.Process())
}

// ConcatConditions returns a single Condition that is the short-circuit AND
// of all the given conditions, matching the "condition delegate chaining"
// behavior described in spec.md §4.7/§9.
func ConcatConditions(conds ...Condition) Condition {
	chained := append([]Condition(nil), conds...)
	return func(p *Process) bool {
		for _, c := range chained {
			if !c(p) {
				return false
			}
		}
		return true
	}
}

// TypedCondition adapts a predicate over a concrete process view C to the
// untyped Condition signature. cast extracts C from the running Process;
// when cast reports false (a type mismatch for this process), the condition
// evaluates to false rather than panicking, matching the typed-variant
// contract in spec.md §4.7.
func TypedCondition[C any](cast func(*Process) (C, bool), fn func(C) bool) Condition {
	return func(p *Process) bool {
		c, ok := cast(p)
		if !ok {
			return false
		}
		return fn(c)
	}
}
