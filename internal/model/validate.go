package model

import "fmt"

// Validate checks the structural invariants spec.md §3 requires of a
// Machine before any session may run against it: resolvable parent/child
// links, resolvable transition targets, exactly one default initial child
// per compound state, history states parented by compound/parallel states,
// and donedata content/param mutual exclusivity.
func (m *Machine) Validate() error {
	if m.Root == "" {
		return fmt.Errorf("model: machine has no root state")
	}
	if _, ok := m.States[m.Root]; !ok {
		return fmt.Errorf("model: root state %q not defined", m.Root)
	}

	for id, s := range m.States {
		if s.ID != id {
			return fmt.Errorf("model: state map key %q does not match State.ID %q", id, s.ID)
		}
		if s.Parent != "" {
			parent, ok := m.States[s.Parent]
			if !ok {
				return fmt.Errorf("model: state %q has unresolved parent %q", id, s.Parent)
			}
			found := false
			for _, c := range parent.Children {
				if c == id {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("model: state %q not listed among %q's children", id, s.Parent)
			}
		}
		for _, c := range s.Children {
			child, ok := m.States[c]
			if !ok {
				return fmt.Errorf("model: state %q references unresolved child %q", id, c)
			}
			if child.Parent != id {
				return fmt.Errorf("model: child %q's parent %q does not match owner %q", c, child.Parent, id)
			}
		}

		switch s.Kind {
		case Compound:
			if len(s.Children) == 0 {
				return fmt.Errorf("model: compound state %q has no children", id)
			}
			if s.Initial == "" {
				return fmt.Errorf("model: compound state %q has no resolvable initial child", id)
			}
			if !m.IsDescendant(s.Initial, id) || s.Initial == id {
				return fmt.Errorf("model: compound state %q's initial %q is not a descendant", id, s.Initial)
			}
		case Parallel:
			if len(s.Children) < 1 {
				return fmt.Errorf("model: parallel state %q must have at least one region", id)
			}
		case History:
			if s.Parent == "" {
				return fmt.Errorf("model: history state %q must have a parent", id)
			}
			parent := m.States[s.Parent]
			if parent.Kind != Compound && parent.Kind != Parallel {
				return fmt.Errorf("model: history state %q's parent %q is not compound/parallel", id, s.Parent)
			}
			if s.HistoryDepth != Shallow && s.HistoryDepth != Deep {
				return fmt.Errorf("model: history state %q has invalid depth %q", id, s.HistoryDepth)
			}
		case Final:
			if s.Done != nil && s.Done.ContentExpr != "" && len(s.Done.Params) > 0 {
				return fmt.Errorf("model: final state %q's donedata mixes content and param", id)
			}
		}

		for i, t := range s.Trans {
			for _, target := range t.Targets {
				if _, ok := m.States[target]; !ok {
					return fmt.Errorf("model: state %q transition %d targets unresolved state %q", id, i, target)
				}
			}
		}
		for _, inv := range s.Invokes {
			if inv.ID == "" && inv.IDLocation == "" {
				// auto-generated at runtime; nothing to validate structurally
				continue
			}
		}
	}

	if cyc := m.findParentCycle(); cyc != "" {
		return fmt.Errorf("model: cycle in parent pointers at state %q", cyc)
	}
	return nil
}

// findParentCycle walks every state's parent chain; a chain that revisits
// a node before reaching the root indicates a cycle (spec.md §7 lists
// "cycle in parent pointers" as one of the two fatal parser-validation
// failures).
func (m *Machine) findParentCycle() string {
	for id := range m.States {
		seen := map[string]bool{}
		cur := id
		for cur != "" {
			if seen[cur] {
				return id
			}
			seen[cur] = true
			s, ok := m.States[cur]
			if !ok {
				break
			}
			cur = s.Parent
		}
	}
	return ""
}
