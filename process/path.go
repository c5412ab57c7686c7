package process

import "strings"

// NodePath addresses a descendant from the composed root as an ordered list
// of child ids (spec.md §4.5, §9). The wire form used by the Resume/Fail
// external API is a dot-separated string; internally, routing is by
// structural segment, not by index.
type NodePath []string

// ParsePath parses a dot-separated node path string. An empty string yields
// a nil (empty) path, meaning "this node, from its own last-known state".
func ParsePath(s string) NodePath {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// String renders the path back to its dot-separated wire form.
func (p NodePath) String() string {
	return strings.Join(p, ".")
}

// head returns the first segment and the remaining path.
func (p NodePath) head() (string, NodePath) {
	if len(p) == 0 {
		return "", nil
	}
	return p[0], p[1:]
}

// findNode walks root by path and returns the addressed descendant. An
// empty path addresses root itself. Used by Resume/Fail to validate that
// the target is actually StatusWaiting before routing a real resume/fail
// call into the tree (spec.md §4.1, §7 ErrNotWaiting).
func findNode(root Node, path NodePath) (Node, bool) {
	cur := root
	for _, id := range path {
		ln, ok := cur.(LayerNode)
		if !ok {
			return nil, false
		}
		child, ok := ln.GetChild(id)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}
