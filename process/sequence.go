package process

// sequenceNode succeeds only if every eligible child succeeds, evaluated in
// evalOrder(); it fails or suspends as soon as a child does (spec.md §3,
// Sequence kind — the AND aggregation rule).
type sequenceNode struct {
	layerBase
}

func newSequenceNode(id string, order int, priority Priority, policy UpdatePolicy, conds []Condition) *sequenceNode {
	return &sequenceNode{layerBase: newLayerBase(KindSequence, id, order, priority, policy, conds)}
}

func (n *sequenceNode) Clone() Node {
	c := &sequenceNode{layerBase: layerBase{
		nodeBase:   n.cloneBase(),
		kind:       KindSequence,
		childIndex: make(map[string]int),
	}}
	c.children = n.cloneChildren()
	c.rebuildIndex()
	return c
}

func (n *sequenceNode) execute(s *Session) Status {
	if !n.eligible(s) {
		n.status = StatusSuccess
		return StatusSuccess
	}
	return n.runFrom(s, n.evalOrder(), 0)
}

// runFrom evaluates children starting at idx, short-circuiting on the first
// non-success result.
func (n *sequenceNode) runFrom(s *Session, ordered []Node, idx int) Status {
	for i := idx; i < len(ordered); i++ {
		c := ordered[i]
		if !c.eligible(s) {
			continue
		}
		st := c.execute(s)
		switch st {
		case StatusSuccess:
			continue
		case StatusWaiting:
			n.waitingChild = c.ID()
			n.status = StatusWaiting
			return StatusWaiting
		default: // Failure, Cancelled
			n.status = st
			return st
		}
	}
	n.status = StatusSuccess
	return StatusSuccess
}

func (n *sequenceNode) resume(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	child, newStatus, found := n.resolveRoutedChild(s, path, false)
	if !found {
		return n.status
	}
	return n.settle(s, child, newStatus)
}

func (n *sequenceNode) fail(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	child, newStatus, found := n.resolveRoutedChild(s, path, true)
	if !found {
		return n.status
	}
	return n.settle(s, child, newStatus)
}

func (n *sequenceNode) settle(s *Session, resumed Node, newStatus Status) Status {
	switch newStatus {
	case StatusWaiting:
		n.status = StatusWaiting
		return StatusWaiting
	case StatusFailure, StatusCancelled:
		n.status = newStatus
		return newStatus
	case StatusSuccess:
		ordered := n.evalOrder()
		idx := 0
		for i, c := range ordered {
			if c.ID() == resumed.ID() {
				idx = i + 1
				break
			}
		}
		return n.runFrom(s, ordered, idx)
	default:
		return n.status
	}
}

func (n *sequenceNode) cancel(s *Session) Status {
	for _, c := range n.children {
		c.cancel(s)
	}
	n.status = StatusCancelled
	return StatusCancelled
}
