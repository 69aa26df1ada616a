// Package history implements the history pseudo-state mechanism (spec.md
// §4.3): recording a parent's active configuration on exit and restoring
// it on re-entry via a registered history child.
package history

import (
	"time"

	"github.com/scxml-go/runtime/internal/model"
)

// Record is one stored configuration (spec.md §3 "History Record").
type Record struct {
	ParentID string
	Depth    model.HistoryDepth
	States   map[string]bool
	At       time.Time
	Valid    bool
}

// Manager owns one Record per registered history pseudo-state, keyed by
// the history state's own ID (a parent may register at most one shallow
// and one deep history, per spec.md §4.3).
type Manager struct {
	m         *model.Machine
	records   map[string]*Record   // historyStateID -> Record
	byParent  map[string][]string  // parentID -> history state IDs registered against it
	nowFn     func() time.Time
}

// New discovers every <history> state in m and registers it against its
// parent.
func New(m *model.Machine) *Manager {
	mgr := &Manager{m: m, records: map[string]*Record{}, byParent: map[string][]string{}, nowFn: time.Now}
	for id, s := range m.States {
		if s.Kind == model.History {
			mgr.byParent[s.Parent] = append(mgr.byParent[s.Parent], id)
		}
		_ = id
	}
	return mgr
}

// Record filters configuration (the full active set) down to the subset
// relevant to each history child registered against parentID, and stores
// it. Called in microstep step 4, before parentID is exited (spec.md §4.3).
func (mgr *Manager) Record(parentID string, configuration map[string]bool) {
	for _, histID := range mgr.byParent[parentID] {
		hist := mgr.m.States[histID]
		var filtered map[string]bool
		switch hist.HistoryDepth {
		case model.Deep:
			filtered = deepLeaves(mgr.m, parentID, configuration)
		default:
			filtered = shallowChildren(mgr.m, parentID, configuration)
		}
		mgr.records[histID] = &Record{
			ParentID: parentID,
			Depth:    hist.HistoryDepth,
			States:   filtered,
			At:       mgr.nowFn(),
			Valid:    true,
		}
	}
}

// shallowChildren keeps only the direct children of parentID that are
// active (spec.md §4.3 shallow filter).
func shallowChildren(m *model.Machine, parentID string, configuration map[string]bool) map[string]bool {
	parent := m.States[parentID]
	out := map[string]bool{}
	for _, child := range parent.Children {
		if configuration[child] {
			out[child] = true
		}
	}
	return out
}

// deepLeaves keeps the active descendants of parentID that are leaves of
// the active set: no active child of them is also active (spec.md §4.3
// deep filter).
func deepLeaves(m *model.Machine, parentID string, configuration map[string]bool) map[string]bool {
	descendants := m.DescendantsOf(parentID)
	active := map[string]bool{}
	for _, d := range descendants {
		if configuration[d] {
			active[d] = true
		}
	}
	out := map[string]bool{}
	for id := range active {
		s := m.States[id]
		isLeaf := true
		for _, c := range s.Children {
			if active[c] {
				isLeaf = false
				break
			}
		}
		if isLeaf {
			out[id] = true
		}
	}
	return out
}

// Restore returns the recorded configuration for history state histID, if
// any non-empty recording exists. The caller falls back to the history
// state's default transition, then to the parent's configured initial
// child (spec.md §4.3).
func (mgr *Manager) Restore(histID string) (map[string]bool, bool) {
	rec, ok := mgr.records[histID]
	if !ok || !rec.Valid || len(rec.States) == 0 {
		return nil, false
	}
	return rec.States, true
}

// Invalidate marks every record whose parent is parentID invalid, used
// when a session is torn down or a history scope is discarded.
func (mgr *Manager) Invalidate(parentID string) {
	for _, histID := range mgr.byParent[parentID] {
		if rec, ok := mgr.records[histID]; ok {
			rec.Valid = false
		}
	}
}

// RegisteredFor reports the history state IDs registered against parentID.
func (mgr *Manager) RegisteredFor(parentID string) []string { return mgr.byParent[parentID] }
