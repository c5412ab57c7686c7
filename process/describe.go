package process

// NodeSnapshot is a plain-data projection of a Node, carrying no function
// values, suitable for logging, diffing, or persistence (registrystore).
// It supplements spec.md's explicit Non-goal "no serialization of trees":
// a tree's *behavior* (handlers, conditions) is never serialized, only its
// structural shape, for introspection — never rehydrated back into a
// runnable tree.
type NodeSnapshot struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Order      int             `json:"order"`
	Priority   string          `json:"priority"`
	Policy     uint32          `json:"policy"`
	Status     string          `json:"status"`
	NumConds   int             `json:"num_conditions"`
	Parallel   *ParallelParams `json:"parallel,omitempty"`
	Children   []NodeSnapshot  `json:"children,omitempty"`
}

// Describe walks n and produces its structural snapshot.
func Describe(n Node) NodeSnapshot {
	snap := NodeSnapshot{
		ID:       n.ID(),
		Kind:     n.Kind().String(),
		Order:    n.Order(),
		Priority: n.Priority().String(),
		Policy:   uint32(n.UpdatePolicy()),
		Status:   n.Status().String(),
		NumConds: len(n.Conditions()),
	}
	if pn, ok := n.(*parallelNode); ok {
		params := pn.params
		snap.Parallel = &params
	}
	if ln, ok := n.(LayerNode); ok {
		for _, c := range ln.Children() {
			snap.Children = append(snap.Children, Describe(c))
		}
	}
	return snap
}
