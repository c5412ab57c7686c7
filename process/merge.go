package process

// mergeNodes folds src into dst per spec.md §4.6:
//   - matching id and layer kind: children merge recursively ("decorators
//     merge"), unconditionally — IGNORE_CHANGES on a layer node protects its
//     own attributes and its handler/kind-replace decisions, never its
//     children's right to keep merging
//   - matching id and handler kind: src's handler wins ("handlers override"),
//     unless dst or src carries IGNORE_CHANGES, in which case the whole
//     override is dropped
//   - mismatched kinds: dst is kept unless src carries REPLACE_NODE and
//     neither side is read-only
//
// It never mutates dst or src in place; it returns the node that should
// occupy the slot going forward (which may be dst itself, unchanged).
func mergeNodes(dst, src Node, logger Logger) (Node, error) {
	if dst == nil {
		return src.Clone(), nil
	}
	if src == nil {
		return dst, nil
	}

	readOnly := readOnlyFor(dst.UpdatePolicy(), src.UpdatePolicy())

	if dst.Kind() != src.Kind() {
		if readOnly || !src.UpdatePolicy().Has(PolicyReplaceNode) {
			logger.Warn("merge rejected: kind mismatch without REPLACE_NODE", "source", "process.Merge",
				"node", dst.ID(), "dst_kind", dst.Kind().String(), "src_kind", src.Kind().String())
			return dst, nil
		}
		replacement := src.Clone()
		replacement.setOrder(dst.Order())
		return replacement, nil
	}

	switch dst.Kind() {
	case KindHandler:
		if readOnly {
			logger.Warn("merge rejected: target is read-only", "source", "process.Merge", "node", dst.ID())
			return dst, nil
		}
		dh, sh := dst.(*handlerNode), src.(*handlerNode)
		merged := &handlerNode{nodeBase: dh.cloneBase(), fn: dh.fn}
		merged.order = dh.order
		if sh.fn != nil {
			merged.fn = sh.fn
		}
		merged.conditions = updateConditions(sh.UpdatePolicy()|PolicyMergeConditions, dh.conditions, sh.conditions)
		return merged, nil
	default:
		_, ok1 := dst.(LayerNode)
		sl, ok2 := src.(LayerNode)
		if !ok1 || !ok2 {
			return dst, nil
		}
		merged := dst.Clone().(LayerNode)
		for _, sc := range sl.Children() {
			if tc, ok := merged.GetChild(sc.ID()); ok {
				mc, err := mergeNodes(tc, sc, logger)
				if err != nil {
					return nil, err
				}
				if mc != tc {
					merged.RemoveChild(tc.ID())
					mc.setOrder(tc.Order())
					merged.AddChild(mc)
				}
			} else {
				clone := sc.Clone()
				clone.setOrder(len(merged.Children()))
				merged.AddChild(clone)
			}
		}
		return merged, nil
	}
}

