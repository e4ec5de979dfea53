package service

import (
	"fmt"

	"github.com/timzifer/paramflow/runtime/params"
)

// ParameterSet holds the parameters of the active step in file order.
//
// Parameters removed with remove are remembered so that re-adding a name
// restores its previous state. The set is not safe for concurrent use.
type ParameterSet struct {
	file       string
	names      []string
	items      map[string]*params.Parameter
	tombstones map[string]*params.Parameter
}

func newParameterSet(file string) *ParameterSet {
	return &ParameterSet{
		file:       file,
		items:      make(map[string]*params.Parameter),
		tombstones: make(map[string]*params.Parameter),
	}
}

// File returns the step file the set belongs to.
func (s *ParameterSet) File() string { return s.file }

// Len returns the number of parameters.
func (s *ParameterSet) Len() int { return len(s.names) }

// Names returns the parameter names in order.
func (s *ParameterSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Get returns the parameter called name.
func (s *ParameterSet) Get(name string) (*params.Parameter, bool) {
	p, ok := s.items[name]
	return p, ok
}

// Each calls fn for every parameter in order.
func (s *ParameterSet) Each(fn func(p *params.Parameter)) {
	for _, name := range s.names {
		fn(s.items[name])
	}
}

// SetNewValue changes the pending value of an editable parameter.
func (s *ParameterSet) SetNewValue(name string, value float64) error {
	p, err := s.editable(name, "changing the value")
	if err != nil {
		return err
	}
	p.NewValue = value
	return nil
}

// SetChangeReason changes the pending change reason of an editable parameter.
func (s *ParameterSet) SetChangeReason(name, reason string) error {
	p, err := s.editable(name, "changing the change reason")
	if err != nil {
		return err
	}
	p.ChangeReason = reason
	return nil
}

func (s *ParameterSet) editable(name, operation string) (*params.Parameter, error) {
	p, ok := s.items[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownParameter)
	}
	switch {
	case p.Forced:
		return nil, &OperationNotPossibleError{Operation: operation + " of " + name, Reason: "the parameter is forced by the configuration step"}
	case p.Derived:
		return nil, &OperationNotPossibleError{Operation: operation + " of " + name, Reason: "the parameter is derived from other values"}
	case p.IsReadOnly():
		return nil, &OperationNotPossibleError{Operation: operation + " of " + name, Reason: "the parameter is read-only"}
	}
	return p, nil
}

// AnyEdited reports whether any parameter has pending edits.
func (s *ParameterSet) AnyEdited() bool {
	for _, p := range s.items {
		if p.Edited() {
			return true
		}
	}
	return false
}

// Dict returns the pending values in order.
func (s *ParameterSet) Dict() *params.Dict {
	d := params.NewDict()
	s.Each(func(p *params.Parameter) {
		d.Set(p.Name, p.Pending())
	})
	return d
}

func (s *ParameterSet) insert(p *params.Parameter) {
	if _, ok := s.items[p.Name]; !ok {
		s.names = append(s.names, p.Name)
	}
	s.items[p.Name] = p
	delete(s.tombstones, p.Name)
}

func (s *ParameterSet) remove(name string) (*params.Parameter, bool) {
	p, ok := s.items[name]
	if !ok {
		return nil, false
	}
	delete(s.items, name)
	for i, existing := range s.names {
		if existing == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
	s.tombstones[name] = p
	return p, true
}

func (s *ParameterSet) restore(name string) (*params.Parameter, bool) {
	p, ok := s.tombstones[name]
	if !ok {
		return nil, false
	}
	s.insert(p)
	return p, true
}

func (s *ParameterSet) rename(from, to string) bool {
	p, ok := s.items[from]
	if !ok {
		return false
	}
	if _, exists := s.items[to]; exists {
		return false
	}
	for i, existing := range s.names {
		if existing == from {
			s.names[i] = to
			break
		}
	}
	delete(s.items, from)
	p.Name = to
	s.items[to] = p
	return true
}

func (s *ParameterSet) commit() {
	for _, p := range s.items {
		p.Commit()
	}
	s.tombstones = make(map[string]*params.Parameter)
}
