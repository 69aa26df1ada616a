package model

// Builder assembles a Machine programmatically; used by tests and by the
// loader once it has parsed an SCXML document into flat state/transition
// records (mirrors the fluent style of the teacher's pack's MachineBuilder).
type Builder struct {
	m *Machine
}

// NewBuilder starts a Machine named name with the given root state ID.
func NewBuilder(name, root string) *Builder {
	return &Builder{m: &Machine{
		Name:    name,
		Root:    root,
		States:  map[string]*State{},
		Binding: "early",
	}}
}

// AddState registers a state; parent == "" for the root.
func (b *Builder) AddState(s *State) *Builder {
	b.m.States[s.ID] = s
	if s.Parent != "" {
		parent := b.m.States[s.Parent]
		parent.Children = append(parent.Children, s.ID)
	}
	return b
}

// Machine exposes the Machine under construction so callers (the loader)
// can fill in document-level fields (Script, Data, Binding) before Build
// resolves defaults and validates.
func (b *Builder) Machine() *Machine { return b.m }

// Build resolves default-initial children (first child in document order,
// per spec.md §3) where not already set, then returns the Machine.
func (b *Builder) Build() (*Machine, error) {
	for _, s := range b.m.States {
		if s.Kind == Compound && s.Initial == "" && len(s.Children) > 0 {
			s.Initial = s.Children[0]
		}
	}
	if err := b.m.Validate(); err != nil {
		return nil, err
	}
	return b.m, nil
}
