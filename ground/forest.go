package ground

import "fmt"

// Index builds an ID lookup over a set of elements.
func Index(elements []*Element) map[string]*Element {
	idx := make(map[string]*Element, len(elements))
	for _, e := range elements {
		idx[e.ID] = e
	}
	return idx
}

// ValidateForest checks the parent/child structural invariants:
// unique IDs, page elements have no parent, every non-root parent exists,
// child lists agree with ParentID, and parent chains terminate (no cycles).
func ValidateForest(elements []*Element) error {
	idx := make(map[string]*Element, len(elements))
	for _, e := range elements {
		if e.ID == "" {
			return fmt.Errorf("ground: element with empty ID")
		}
		if _, dup := idx[e.ID]; dup {
			return fmt.Errorf("ground: duplicate element ID %s", e.ID)
		}
		idx[e.ID] = e
	}

	for _, e := range elements {
		if e.Type == TypePage && e.ParentID != "" {
			return fmt.Errorf("ground: page element %s has parent %s", e.ID, e.ParentID)
		}
		if e.ParentID != "" {
			parent, ok := idx[e.ParentID]
			if !ok {
				return fmt.Errorf("ground: element %s references missing parent %s", e.ID, e.ParentID)
			}
			if !containsID(parent.Children, e.ID) {
				return fmt.Errorf("ground: element %s not listed among children of %s", e.ID, e.ParentID)
			}
		}
		for _, childID := range e.Children {
			child, ok := idx[childID]
			if !ok {
				return fmt.Errorf("ground: element %s lists missing child %s", e.ID, childID)
			}
			if child.ParentID != e.ID {
				return fmt.Errorf("ground: child %s of %s has ParentID %q", childID, e.ID, child.ParentID)
			}
		}
	}

	// Parent chains must terminate. Walking at most len(elements) steps
	// from any node must reach a root.
	for _, e := range elements {
		cur := e
		for steps := 0; cur.ParentID != ""; steps++ {
			if steps > len(elements) {
				return fmt.Errorf("ground: cycle through element %s", e.ID)
			}
			cur = idx[cur.ParentID]
		}
	}

	return nil
}

// Ancestors returns the parent chain of id, nearest first. The chain is
// empty for roots and unknown IDs.
func Ancestors(idx map[string]*Element, id string) []string {
	var chain []string
	e, ok := idx[id]
	if !ok {
		return nil
	}
	for e.ParentID != "" {
		parent, ok := idx[e.ParentID]
		if !ok || len(chain) > len(idx) {
			break
		}
		chain = append(chain, parent.ID)
		e = parent
	}
	return chain
}

// Descendants returns all elements transitively below id, in child order.
func Descendants(idx map[string]*Element, id string) []*Element {
	root, ok := idx[id]
	if !ok {
		return nil
	}
	var out []*Element
	stack := append([]string(nil), root.Children...)
	for len(stack) > 0 {
		cur := stack[0]
		stack = stack[1:]
		e, ok := idx[cur]
		if !ok {
			continue
		}
		out = append(out, e)
		stack = append(stack, e.Children...)
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
