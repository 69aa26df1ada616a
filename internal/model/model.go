// Package model defines the in-memory, shared-immutable state-chart graph
// consumed by the interpreter core (spec.md §3). A Machine is built once by
// the loader and never mutated while sessions run; states reference each
// other by ID rather than by pointer, so the graph has no cyclic owning
// edges (spec.md §9 "keep nodes in an arena keyed by stable IDs").
package model

import (
	"fmt"
	"sort"
)

// StateKind is the tagged-variant discriminator for a State (spec.md §9
// "collapse to tagged variants (one enum for state kind)").
type StateKind string

const (
	Atomic   StateKind = "atomic"
	Compound StateKind = "compound"
	Parallel StateKind = "parallel"
	Final    StateKind = "final"
	History  StateKind = "history"
	Initial  StateKind = "initial"
)

// HistoryDepth distinguishes shallow vs deep history recording.
type HistoryDepth string

const (
	Shallow HistoryDepth = "shallow"
	Deep    HistoryDepth = "deep"
)

// DoneDataParam is one name -> location|expr pair of a <donedata> payload.
type DoneDataParam struct {
	Name     string
	Location string
	Expr     string
}

// DoneData describes how to build the payload of a done.state.* /
// done.invoke.* event raised when a final state is entered.
type DoneData struct {
	ContentExpr string // mutually exclusive with Params (validated by the loader)
	ContentText string
	Params      []DoneDataParam
}

// InvokeDecl is the static declaration of an <invoke> on a state.
type InvokeDecl struct {
	ID         string
	IDLocation string
	Type       string
	TypeExpr   string
	Src        string
	SrcExpr    string
	AutoForward bool
	Params     []DoneDataParam
	Content    string
	Finalize   []Action // <finalize> body, run on every event the invocation sends back
}

// DataItem is one <data> declaration, either at document scope or owned by
// a state (late-bound: initialized on first entry of the owning state).
type DataItem struct {
	ID      string
	Expr    string
	Src     string
	Content string
}

// ActionKind tags the polymorphic executable-content node variant
// (spec.md §3 "Action Node").
type ActionKind string

const (
	ActionRaise    ActionKind = "raise"
	ActionAssign   ActionKind = "assign"
	ActionScript   ActionKind = "script"
	ActionLog      ActionKind = "log"
	ActionSend     ActionKind = "send"
	ActionCancel   ActionKind = "cancel"
	ActionForeach  ActionKind = "foreach"
	ActionIf       ActionKind = "if"
	ActionExternal ActionKind = "external" // user-defined namespace extension
)

// IfBranch is one cond/body pair of an <if>/<elseif>/<else> chain. Cond ==""
// marks the trailing <else>.
type IfBranch struct {
	Cond string
	Body []Action
}

// Action is one executable-content node. Only the fields matching Kind are
// populated; Body holds nested actions for foreach/if.
type Action struct {
	Kind ActionKind

	// raise
	Event     string
	EventExpr string

	// assign
	Location string
	Expr     string

	// script
	ScriptBody string

	// log
	Label string

	// send / cancel share SendID(Expr)
	Target     string
	TargetExpr string
	Type       string
	TypeExpr   string
	SendID     string
	SendIDExpr string
	IDLocation string
	Delay      string
	DelayExpr  string
	NameList   []string
	Params     []DoneDataParam
	ContentExpr string
	ContentText string

	// foreach
	Array string
	Item  string
	Index string
	Body  []Action

	// if/elseif/else
	Branches []IfBranch

	// external namespace action
	NamespaceURI string
	LocalName    string
	Attrs        map[string]string
	Raw          any
}

// Transition is one outgoing edge of a state (spec.md §3 "Transition").
type Transition struct {
	Events   []string // empty => eventless
	Cond     string
	Targets  []string // empty => internal actionless transition
	Actions  []Action
	Internal bool // explicit type="internal"
	Document int  // document-order index within the source state; selection follows slice order
}

// IsEventless reports whether the transition has no event descriptor list.
func (t *Transition) IsEventless() bool { return len(t.Events) == 0 }

// State is one node of the state tree (spec.md §3 "State").
type State struct {
	ID       string
	Kind     StateKind
	Parent   string // "" for the root
	Children []string
	Initial  string // resolved initial child (compound only)

	OnEntry [][]Action // ordered onentry blocks
	OnExit  [][]Action
	Trans   []Transition // document order = priority
	Invokes []InvokeDecl
	Data    []DataItem

	Done *DoneData // final states only

	HistoryDepth   HistoryDepth // history states only
	HistoryDefault *Transition  // history states only
}

func (s *State) IsCompound() bool { return s.Kind == Compound }
func (s *State) IsParallel() bool { return s.Kind == Parallel }
func (s *State) IsAtomic() bool   { return s.Kind == Atomic }
func (s *State) IsFinal() bool    { return s.Kind == Final }
func (s *State) IsHistory() bool  { return s.Kind == History }

// Machine is the immutable, shared state graph for one loaded document.
// All lookups are by ID; there are no back-pointers to worry about
// invalidating (spec.md §9).
type Machine struct {
	Name    string
	Root    string
	States  map[string]*State
	Script  []string // document-level <script> bodies, declaration order
	Data    []DataItem
	Binding string // "early" (default) or "late"
}

// State looks up a node by ID.
func (m *Machine) State(id string) (*State, error) {
	s, ok := m.States[id]
	if !ok {
		return nil, fmt.Errorf("model: unknown state %q", id)
	}
	return s, nil
}

// MustState is State but panics on an unresolved ID; only safe once the
// loader has validated every reference.
func (m *Machine) MustState(id string) *State {
	s, err := m.State(id)
	if err != nil {
		panic(err)
	}
	return s
}

// Ancestors returns id and every ancestor up to (and including) the root,
// innermost first.
func (m *Machine) Ancestors(id string) []string {
	var out []string
	for id != "" {
		out = append(out, id)
		s, ok := m.States[id]
		if !ok {
			break
		}
		id = s.Parent
	}
	return out
}

// IsDescendant reports whether child is ancestor itself or a proper
// descendant of ancestor.
func (m *Machine) IsDescendant(child, ancestor string) bool {
	for child != "" {
		if child == ancestor {
			return true
		}
		s, ok := m.States[child]
		if !ok {
			return false
		}
		child = s.Parent
	}
	return false
}

// LCCA computes the Least Common Compound Ancestor of two states: the
// deepest state (compound, parallel, or the root) on both a's and b's
// ancestor chains, where each chain includes the state itself, so a or b
// is returned when it is compound or parallel and contains the other
// (spec.md §4.1 step 3).
func (m *Machine) LCCA(a, b string) string {
	ancestorsOfA := map[string]bool{}
	for _, s := range m.Ancestors(a) {
		ancestorsOfA[s] = true
	}
	for _, cand := range m.Ancestors(b) {
		if !ancestorsOfA[cand] {
			continue
		}
		st, ok := m.States[cand]
		if !ok {
			continue
		}
		if cand == m.Root || st.IsCompound() || st.IsParallel() {
			return cand
		}
	}
	return m.Root
}

// TransitionDomain computes the transition domain for a transition out of
// source to targets (spec.md §4.1 step 3). Per the W3C algorithm, the
// candidate ancestors considered are source's *proper* ancestors (never
// source itself), unless the transition is explicitly internal
// (type="internal") with a compound source and every target a descendant
// of source, in which case the domain is source itself and it is not
// exited. This is deliberately distinct from LCCA(a, b), which treats a
// and b symmetrically and may return either argument.
func (m *Machine) TransitionDomain(source string, targets []string, internal bool) string {
	if len(targets) == 0 {
		return source
	}
	if internal {
		if st, ok := m.States[source]; ok && st.IsCompound() {
			allDescendants := true
			for _, tid := range targets {
				if !m.IsDescendant(tid, source) {
					allDescendants = false
					break
				}
			}
			if allDescendants {
				return source
			}
		}
	}
	for _, anc := range m.properAncestors(source) {
		st, ok := m.States[anc]
		if !ok {
			continue
		}
		if anc != m.Root && !st.IsCompound() && !st.IsParallel() {
			continue
		}
		allDescendants := true
		for _, tid := range targets {
			if !m.IsDescendant(tid, anc) {
				allDescendants = false
				break
			}
		}
		if allDescendants {
			return anc
		}
	}
	return m.Root
}

// properAncestors returns id's ancestors up to and including the root,
// excluding id itself.
func (m *Machine) properAncestors(id string) []string {
	anc := m.Ancestors(id)
	if len(anc) == 0 {
		return nil
	}
	return anc[1:]
}

// ActiveLeaves returns the subset of configuration that has no active
// child also present in configuration (HistoryManager's deep-history
// filter, spec.md §4.3).
func (m *Machine) ActiveLeaves(configuration map[string]bool) []string {
	var out []string
	for id := range configuration {
		leaf := true
		if s, ok := m.States[id]; ok {
			for _, c := range s.Children {
				if configuration[c] {
					leaf = false
					break
				}
			}
		}
		if leaf {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// DescendantsOf returns every state ID that is a proper descendant of id,
// via breadth-first traversal of the Children lists.
func (m *Machine) DescendantsOf(id string) []string {
	var out []string
	queue := append([]string{}, m.States[id].Children...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		if s, ok := m.States[cur]; ok {
			queue = append(queue, s.Children...)
		}
	}
	return out
}
