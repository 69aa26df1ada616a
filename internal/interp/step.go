package interp

import (
	"sort"
	"strings"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/model"
)

// selected is one transition chosen for a microstep, paired with the
// state whose <transition> list it came from (spec.md §4.1 step 1-2).
type selected struct {
	source string
	t      *model.Transition
}

// activeAtomicStatesInDocOrder returns the leaf (atomic or parallel-leaf,
// i.e. childless) members of the configuration, in document order.
func (s *Session) activeAtomicStatesInDocOrder() []string {
	var out []string
	for _, id := range s.docOrder {
		if !s.configuration[id] {
			continue
		}
		st := s.m.States[id]
		if len(st.Children) == 0 {
			out = append(out, id)
		}
	}
	return out
}

func eventNameMatches(descriptor, name string) bool {
	if descriptor == "*" {
		return true
	}
	dTok := strings.Split(descriptor, ".")
	if dTok[len(dTok)-1] == "*" {
		dTok = dTok[:len(dTok)-1]
	}
	nTok := strings.Split(name, ".")
	if len(dTok) > len(nTok) {
		return false
	}
	for i, d := range dTok {
		if d != nTok[i] {
			return false
		}
	}
	return true
}

func (s *Session) eventMatches(t *model.Transition, event *scxml.Event) bool {
	if event == nil {
		return t.IsEventless()
	}
	if t.IsEventless() {
		return false
	}
	for _, desc := range t.Events {
		if eventNameMatches(desc, event.Name) {
			return true
		}
	}
	return false
}

// selectTransitionsFor implements spec.md §4.1 steps 1-2: pick, for each
// active leaf state, the first enabled transition found walking up its
// ancestor chain, then drop transitions preempted by a more specific one
// whose exit set overlaps.
func (s *Session) selectTransitionsFor(event *scxml.Event, evalCond func(expr string) bool) []selected {
	var enabled []selected
	for _, leaf := range s.activeAtomicStatesInDocOrder() {
		for _, anc := range s.m.Ancestors(leaf) {
			state := s.m.States[anc]
			matched := false
			for i := range state.Trans {
				t := &state.Trans[i]
				if !s.eventMatches(t, event) {
					continue
				}
				if t.Cond != "" && !evalCond(t.Cond) {
					continue
				}
				enabled = append(enabled, selected{source: anc, t: t})
				matched = true
				break
			}
			if matched {
				break
			}
		}
	}
	return s.removeConflicting(enabled)
}

func (s *Session) transitionDomain(source string, targets []string, internal bool) string {
	return s.m.TransitionDomain(source, targets, internal)
}

func (s *Session) exitSetFor(sel selected) map[string]bool {
	out := map[string]bool{}
	if len(sel.t.Targets) == 0 {
		return out
	}
	domain := s.transitionDomain(sel.source, sel.t.Targets, sel.t.Internal)
	for id := range s.configuration {
		if id != domain && s.m.IsDescendant(id, domain) {
			out[id] = true
		}
	}
	return out
}

func overlaps(a, b map[string]bool) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for id := range a {
		if b[id] {
			return true
		}
	}
	return false
}

// removeConflicting drops transitions whose exit set overlaps a
// higher-priority (more specific, i.e. deeper-source) transition already
// kept, following the standard SCXML conflict-resolution algorithm.
func (s *Session) removeConflicting(enabled []selected) []selected {
	var filtered []selected
	for _, t1 := range enabled {
		preempted := false
		var keep []selected
		exit1 := s.exitSetFor(t1)
		for _, t2 := range filtered {
			exit2 := s.exitSetFor(t2)
			if overlaps(exit1, exit2) {
				if s.m.IsDescendant(t1.source, t2.source) && t1.source != t2.source {
					continue // t2 is preempted by the more specific t1; drop it
				}
				preempted = true
				keep = append(keep, t2)
				continue
			}
			keep = append(keep, t2)
		}
		if preempted {
			filtered = keep
			continue
		}
		filtered = append(keep, t1)
	}
	return filtered
}

func (s *Session) effectiveTargets(ids []string) []string {
	var out []string
	for _, id := range ids {
		st, ok := s.m.States[id]
		if !ok {
			continue
		}
		if st.Kind == model.History {
			if rec, ok := s.hist.Restore(id); ok {
				for r := range rec {
					out = append(out, r)
				}
				continue
			}
			if st.HistoryDefault != nil {
				out = append(out, s.effectiveTargets(st.HistoryDefault.Targets)...)
			}
			continue
		}
		out = append(out, id)
	}
	return out
}

func (s *Session) addDescendantStatesToEnter(id string, toEnter map[string]bool) {
	st, ok := s.m.States[id]
	if !ok {
		return
	}
	if st.Kind == model.History {
		if rec, ok := s.hist.Restore(id); ok {
			for r := range rec {
				s.addDescendantStatesToEnter(r, toEnter)
				s.addAncestorStatesToEnter(r, st.Parent, toEnter)
			}
			return
		}
		if st.HistoryDefault != nil {
			for _, t := range st.HistoryDefault.Targets {
				s.addDescendantStatesToEnter(t, toEnter)
				s.addAncestorStatesToEnter(t, st.Parent, toEnter)
			}
		}
		return
	}

	toEnter[id] = true
	switch st.Kind {
	case model.Compound:
		if st.Initial != "" {
			s.addDescendantStatesToEnter(st.Initial, toEnter)
			s.addAncestorStatesToEnter(st.Initial, id, toEnter)
		}
	case model.Parallel:
		for _, c := range st.Children {
			s.addDescendantStatesToEnter(c, toEnter)
		}
	}
}

func (s *Session) addAncestorStatesToEnter(id, ancestor string, toEnter map[string]bool) {
	st, ok := s.m.States[id]
	if !ok {
		return
	}
	cur := st.Parent
	for cur != "" && cur != ancestor {
		toEnter[cur] = true
		curState := s.m.States[cur]
		if curState.Kind == model.Parallel {
			for _, c := range curState.Children {
				hasDescendant := false
				for d := range toEnter {
					if s.m.IsDescendant(d, c) {
						hasDescendant = true
						break
					}
				}
				if !hasDescendant {
					s.addDescendantStatesToEnter(c, toEnter)
				}
			}
		}
		cur = curState.Parent
	}
}

func (s *Session) computeEntrySet(selectedTs []selected) map[string]bool {
	toEnter := map[string]bool{}
	for _, sel := range selectedTs {
		if len(sel.t.Targets) == 0 {
			continue
		}
		targets := s.effectiveTargets(sel.t.Targets)
		for _, tg := range targets {
			s.addDescendantStatesToEnter(tg, toEnter)
		}
		domain := s.transitionDomain(sel.source, sel.t.Targets, sel.t.Internal)
		for _, tg := range targets {
			s.addAncestorStatesToEnter(tg, domain, toEnter)
		}
	}
	return toEnter
}

func (s *Session) computeExitSet(selectedTs []selected) map[string]bool {
	toExit := map[string]bool{}
	for _, sel := range selectedTs {
		for id := range s.exitSetFor(sel) {
			toExit[id] = true
		}
	}
	return toExit
}

// orderByDocOrder returns the set's members sorted by document order
// (reverse for exit sets: deepest descendants first).
func (s *Session) orderByDocOrder(set map[string]bool, reverse bool) []string {
	index := make(map[string]int, len(s.docOrder))
	for i, id := range s.docOrder {
		index[id] = i
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if reverse {
			return index[out[i]] > index[out[j]]
		}
		return index[out[i]] < index[out[j]]
	})
	return out
}
