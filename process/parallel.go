package process

// ThresholdMode resolves a tie when a Parallel's success and failure
// thresholds are both met by the same evaluation (spec.md §3, Parallel kind).
type ThresholdMode int

const (
	// ThresholdSuccessPriority resolves a tie as Success.
	ThresholdSuccessPriority ThresholdMode = iota
	// ThresholdFailurePriority resolves a tie as Failure.
	ThresholdFailurePriority
)

func (m ThresholdMode) String() string {
	if m == ThresholdFailurePriority {
		return "FailurePriority"
	}
	return "SuccessPriority"
}

// ParallelParams configures a Parallel node's aggregation thresholds. A
// threshold of 0 resolves to "all eligible children" (resolveThreshold).
type ParallelParams struct {
	SuccessThreshold int
	FailureThreshold int
	Mode             ThresholdMode
}

// resolveThreshold maps a configured threshold against n eligible children:
// 0 (or negative) means "require all of them"; any other value is used as
// is, so a threshold larger than n can never be met (spec.md §9, Open
// Question on zero-threshold semantics).
func resolveThreshold(n, configured int) int {
	if configured <= 0 {
		return n
	}
	return configured
}

// parallelNode runs every eligible child (no short-circuit) and aggregates
// by success/failure counts against configured thresholds (spec.md §3,
// Parallel kind).
type parallelNode struct {
	layerBase
	params ParallelParams
}

func newParallelNode(id string, order int, priority Priority, policy UpdatePolicy, conds []Condition, params ParallelParams) *parallelNode {
	return &parallelNode{
		layerBase: newLayerBase(KindParallel, id, order, priority, policy, conds),
		params:    params,
	}
}

func (n *parallelNode) Clone() Node {
	c := &parallelNode{
		layerBase: layerBase{
			nodeBase:   n.cloneBase(),
			kind:       KindParallel,
			childIndex: make(map[string]int),
		},
		params: n.params,
	}
	c.children = n.cloneChildren()
	c.rebuildIndex()
	return c
}

// eligibleChildren returns the children whose own conditions currently hold,
// in evaluation order. Ineligible children are excluded from both the
// denominator and the threshold counts.
func (n *parallelNode) eligibleChildren(s *Session) []Node {
	ordered := n.evalOrder()
	out := ordered[:0:0]
	for _, c := range ordered {
		if c.eligible(s) {
			out = append(out, c)
		}
	}
	return out
}

func (n *parallelNode) execute(s *Session) Status {
	if !n.eligible(s) {
		n.status = StatusFailure
		return StatusFailure
	}
	elig := n.eligibleChildren(s)
	for _, c := range elig {
		if st := c.execute(s); st == StatusCancelled {
			// A CANCELLED child short-circuits the round immediately,
			// regardless of threshold (spec.md §4.1 Parallel.execute).
			n.status = StatusCancelled
			return StatusCancelled
		}
	}
	return n.aggregate(s, elig)
}

// aggregate applies the threshold law against the current cached status of
// each child in elig, without re-executing them.
func (n *parallelNode) aggregate(s *Session, elig []Node) Status {
	var successCount, failureCount int
	var anyWaiting bool
	var lastWaiting string
	for _, c := range elig {
		switch c.Status() {
		case StatusSuccess:
			successCount++
		case StatusCancelled:
			n.status = StatusCancelled
			return StatusCancelled
		case StatusFailure:
			failureCount++
		case StatusWaiting:
			anyWaiting = true
			lastWaiting = c.ID()
		}
	}
	n.waitingChild = lastWaiting

	total := len(elig)
	sT := resolveThreshold(total, n.params.SuccessThreshold)
	fT := resolveThreshold(total, n.params.FailureThreshold)

	successMet := successCount >= sT
	failureMet := failureCount >= fT

	switch {
	case successMet && failureMet:
		if n.params.Mode == ThresholdFailurePriority {
			n.status = StatusFailure
		} else {
			n.status = StatusSuccess
		}
	case successMet:
		n.status = StatusSuccess
	case failureMet:
		n.status = StatusFailure
	case anyWaiting:
		n.status = StatusWaiting
	default:
		// Every child is terminal but neither threshold was reachable.
		n.status = StatusFailure
	}
	return n.status
}

func (n *parallelNode) resume(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	_, _, found := n.resolveRoutedChild(s, path, false)
	if !found {
		return n.status
	}
	return n.aggregate(s, n.eligibleChildren(s))
}

func (n *parallelNode) fail(s *Session, path NodePath) Status {
	if n.status != StatusWaiting {
		return n.status
	}
	_, _, found := n.resolveRoutedChild(s, path, true)
	if !found {
		return n.status
	}
	return n.aggregate(s, n.eligibleChildren(s))
}

func (n *parallelNode) cancel(s *Session) Status {
	for _, c := range n.children {
		c.cancel(s)
	}
	n.status = StatusCancelled
	return StatusCancelled
}
