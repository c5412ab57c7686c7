package process

// inverterNode wraps exactly one child and swaps Success/Failure; Waiting and
// Cancelled pass through unchanged (spec.md §3, Inverter kind — the unary
// NOT aggregation rule). Nothing enforces the single-child invariant: only
// the first child is evaluated, and with no child execute reports UNKNOWN.
type inverterNode struct {
	layerBase
}

func newInverterNode(id string, order int, priority Priority, policy UpdatePolicy, conds []Condition) *inverterNode {
	return &inverterNode{layerBase: newLayerBase(KindInverter, id, order, priority, policy, conds)}
}

func (n *inverterNode) Clone() Node {
	c := &inverterNode{layerBase: layerBase{
		nodeBase:   n.cloneBase(),
		kind:       KindInverter,
		childIndex: make(map[string]int),
	}}
	c.children = n.cloneChildren()
	c.rebuildIndex()
	return c
}

func invertStatus(st Status) Status {
	switch st {
	case StatusSuccess:
		return StatusFailure
	case StatusFailure:
		return StatusSuccess
	default:
		return st
	}
}

func (n *inverterNode) onlyChild() (Node, bool) {
	if len(n.children) == 0 {
		return nil, false
	}
	return n.children[0], true
}

func (n *inverterNode) execute(s *Session) Status {
	if !n.eligible(s) {
		n.status = StatusUnknown
		return StatusUnknown
	}
	c, ok := n.onlyChild()
	if !ok {
		// Missing child is an invalid configuration (spec.md §4.1
		// Inverter.execute). No Build-time check catches it; execute()
		// reports it as UNKNOWN and no error is raised.
		n.status = StatusUnknown
		return StatusUnknown
	}
	st := c.execute(s)
	if st == StatusWaiting {
		n.waitingChild = c.ID()
	}
	n.status = invertStatus(st)
	return n.status
}

func (n *inverterNode) resume(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	_, newStatus, found := n.resolveRoutedChild(s, path, false)
	if !found {
		return n.status
	}
	n.status = invertStatus(newStatus)
	return n.status
}

func (n *inverterNode) fail(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	_, newStatus, found := n.resolveRoutedChild(s, path, true)
	if !found {
		return n.status
	}
	n.status = invertStatus(newStatus)
	return n.status
}

func (n *inverterNode) cancel(s *Session) Status {
	for _, c := range n.children {
		c.cancel(s)
	}
	n.status = StatusCancelled
	return StatusCancelled
}
