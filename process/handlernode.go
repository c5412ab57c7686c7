package process

// handlerNode is the only leaf kind: it has no children and its Status comes
// from invoking a HandlerFunc (spec.md §3, Handler kind). It is the only
// kind whose StatusWaiting comes from user code; a layer node is WAITING
// only because one of its descendants is.
type handlerNode struct {
	nodeBase
	fn HandlerFunc
}

func newHandlerNode(id string, order int, priority Priority, policy UpdatePolicy, conds []Condition, fn HandlerFunc) *handlerNode {
	return &handlerNode{
		nodeBase: nodeBase{
			id:         id,
			order:      order,
			priority:   priority,
			conditions: conds,
			policy:     policy,
			status:     StatusUnknown,
		},
		fn: fn,
	}
}

func (n *handlerNode) Kind() NodeKind { return KindHandler }

func (n *handlerNode) eligible(s *Session) bool {
	return evaluateConditions(s, n.id, n.conditions)
}

func (n *handlerNode) Clone() Node {
	return &handlerNode{nodeBase: n.cloneBase(), fn: n.fn}
}

func (n *handlerNode) execute(s *Session) Status {
	if !n.eligible(s) {
		// An ineligible handler is a no-op skip from its parent's
		// perspective, not a failure (spec.md §4.1 Handler.execute).
		n.status = StatusSuccess
		return StatusSuccess
	}
	n.status = invokeHandlerSafely(s, n.id, n.fn)
	return n.status
}

// invokeHandlerSafely runs fn with panic recovery, converting a panic into
// StatusFailure and a logged HandlerException (spec.md §7).
func invokeHandlerSafely(s *Session, nodeID string, fn HandlerFunc) (st Status) {
	if fn == nil {
		return StatusFailure
	}
	defer func() {
		if r := recover(); r != nil {
			if s != nil {
				s.logger().Error("handler panicked", "source", "process.Handler",
					"node", nodeID, "error", &HandlerException{NodeID: nodeID, Cause: toError(r)})
			}
			st = StatusFailure
		}
	}()
	return fn(s)
}

func (n *handlerNode) resume(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	n.status = invokeHandlerSafely(s, n.id, n.fn)
	return n.status
}

// fail forces a waiting handler straight to StatusFailure without
// re-invoking it, matching the external "abandon this wait" contract
// (spec.md §4.1 Resume/Fail routing).
func (n *handlerNode) fail(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	n.status = StatusFailure
	return StatusFailure
}

func (n *handlerNode) cancel(s *Session) Status {
	n.status = StatusCancelled
	return StatusCancelled
}
