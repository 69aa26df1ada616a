// Package parallel implements the parallel-region orchestrator (spec.md
// §4.2): completion tracking per region and done.state.<id> synthesis
// exactly once per entry of a parallel state.
package parallel

import "github.com/scxml-go/runtime/internal/model"

// Orchestrator tracks, for each active parallel state, which of its
// regions (direct children) have reached a final state.
type Orchestrator struct {
	m         *model.Machine
	completed map[string]map[string]bool // parallelID -> regionID -> complete
	doneFired map[string]bool            // parallelID -> done.state already raised since last entry
}

// New builds an Orchestrator over m.
func New(m *model.Machine) *Orchestrator {
	return &Orchestrator{
		m:         m,
		completed: map[string]map[string]bool{},
		doneFired: map[string]bool{},
	}
}

// OnEntry resets completion tracking for parallelID, gating done.state to
// fire again (spec.md §9 open question: "gates on a boolean flag reset on
// re-entry; preserve that behavior").
func (o *Orchestrator) OnEntry(parallelID string) {
	o.completed[parallelID] = map[string]bool{}
	o.doneFired[parallelID] = false
}

// OnExit discards completion tracking for parallelID entirely.
func (o *Orchestrator) OnExit(parallelID string) {
	delete(o.completed, parallelID)
	delete(o.doneFired, parallelID)
}

// regionOf returns the direct child of parallelID that is stateID or an
// ancestor of it, i.e. which region stateID belongs to.
func (o *Orchestrator) regionOf(parallelID, stateID string) (string, bool) {
	cur := stateID
	for cur != "" {
		s, ok := o.m.States[cur]
		if !ok {
			return "", false
		}
		if s.Parent == parallelID {
			return cur, true
		}
		cur = s.Parent
	}
	return "", false
}

// NotifyFinalEntered records that finalStateID (a final state) was entered,
// possibly completing the region of parallelID it belongs to. It returns
// true exactly once per entry of parallelID, the moment the last region
// completes (spec.md §4.1 "done.state synthesis", §8 property 6).
func (o *Orchestrator) NotifyFinalEntered(parallelID, finalStateID string) bool {
	region, ok := o.regionOf(parallelID, finalStateID)
	if !ok {
		return false
	}
	if o.completed[parallelID] == nil {
		o.completed[parallelID] = map[string]bool{}
	}
	o.completed[parallelID][region] = true

	parallel := o.m.States[parallelID]
	for _, r := range parallel.Children {
		if !o.completed[parallelID][r] {
			return false
		}
	}
	if o.doneFired[parallelID] {
		return false
	}
	o.doneFired[parallelID] = true
	return true
}

// IsComplete reports whether every region of parallelID has reached final.
func (o *Orchestrator) IsComplete(parallelID string) bool {
	parallel := o.m.States[parallelID]
	for _, r := range parallel.Children {
		if !o.completed[parallelID][r] {
			return false
		}
	}
	return true
}
