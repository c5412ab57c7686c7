package process

// selectorNode succeeds as soon as one eligible child succeeds, evaluated in
// evalOrder(); it only fails once every eligible child has failed (spec.md
// §3, Selector kind — the OR aggregation rule).
type selectorNode struct {
	layerBase
}

func newSelectorNode(id string, order int, priority Priority, policy UpdatePolicy, conds []Condition) *selectorNode {
	return &selectorNode{layerBase: newLayerBase(KindSelector, id, order, priority, policy, conds)}
}

func (n *selectorNode) Clone() Node {
	c := &selectorNode{layerBase: layerBase{
		nodeBase:   n.cloneBase(),
		kind:       KindSelector,
		childIndex: make(map[string]int),
	}}
	c.children = n.cloneChildren()
	c.rebuildIndex()
	return c
}

func (n *selectorNode) execute(s *Session) Status {
	if !n.eligible(s) {
		n.status = StatusFailure
		return StatusFailure
	}
	return n.runFrom(s, n.evalOrder(), 0)
}

func (n *selectorNode) runFrom(s *Session, ordered []Node, idx int) Status {
	for i := idx; i < len(ordered); i++ {
		c := ordered[i]
		if !c.eligible(s) {
			continue
		}
		st := c.execute(s)
		switch st {
		case StatusFailure:
			continue
		case StatusWaiting:
			n.waitingChild = c.ID()
			n.status = StatusWaiting
			return StatusWaiting
		default: // Success, Cancelled
			n.status = st
			return st
		}
	}
	n.status = StatusFailure
	return StatusFailure
}

func (n *selectorNode) resume(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	child, newStatus, found := n.resolveRoutedChild(s, path, false)
	if !found {
		return n.status
	}
	return n.settle(s, child, newStatus)
}

func (n *selectorNode) fail(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	child, newStatus, found := n.resolveRoutedChild(s, path, true)
	if !found {
		return n.status
	}
	return n.settle(s, child, newStatus)
}

func (n *selectorNode) settle(s *Session, resumed Node, newStatus Status) Status {
	switch newStatus {
	case StatusWaiting:
		n.status = StatusWaiting
		return StatusWaiting
	case StatusSuccess, StatusCancelled:
		n.status = newStatus
		return newStatus
	case StatusFailure:
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

func (n *selectorNode) cancel(s *Session) Status {
	for _, c := range n.children {
		c.cancel(s)
	}
	n.status = StatusCancelled
	return StatusCancelled
}
