package params

import (
	"fmt"
	"sort"
)

// Value is a parameter value together with the comment documenting why it
// was chosen.
type Value struct {
	Value   float64
	Comment string
}

// Dict is an insertion-ordered collection of parameter values keyed by name.
//
// Step files are edited by humans, so the order in which parameters appear is
// significant and must survive a load/save round trip. The zero value is not
// usable; create instances with NewDict.
type Dict struct {
	names  []string
	values map[string]Value
}

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]Value)}
}

// DictFromMap builds a dictionary from plain values ordered by name.
func DictFromMap(values map[string]float64) *Dict {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	d := NewDict()
	for _, name := range names {
		d.Set(name, Value{Value: values[name]})
	}
	return d
}

// Set stores the value. New names are appended, existing names keep their
// position.
func (d *Dict) Set(name string, value Value) {
	if _, ok := d.values[name]; !ok {
		d.names = append(d.names, name)
	}
	d.values[name] = value
}

// Get returns the value stored for name.
func (d *Dict) Get(name string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	v, ok := d.values[name]
	return v, ok
}

// Has reports whether name is present.
func (d *Dict) Has(name string) bool {
	_, ok := d.Get(name)
	return ok
}

// Delete removes name and reports whether it was present.
func (d *Dict) Delete(name string) bool {
	if _, ok := d.values[name]; !ok {
		return false
	}
	delete(d.values, name)
	for i, existing := range d.names {
		if existing == name {
			d.names = append(d.names[:i], d.names[i+1:]...)
			break
		}
	}
	return true
}

// Rename moves the value stored under from to to, keeping its position.
func (d *Dict) Rename(from, to string) error {
	v, ok := d.values[from]
	if !ok {
		return fmt.Errorf("rename %s: not present", from)
	}
	if _, exists := d.values[to]; exists {
		return fmt.Errorf("rename %s: %s already present", from, to)
	}
	for i, existing := range d.names {
		if existing == from {
			d.names[i] = to
			break
		}
	}
	delete(d.values, from)
	d.values[to] = v
	return nil
}

// Names returns the parameter names in insertion order.
func (d *Dict) Names() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names)
}

// Range calls fn for every entry in order until fn returns false.
func (d *Dict) Range(fn func(name string, value Value) bool) {
	if d == nil {
		return
	}
	for _, name := range d.names {
		if !fn(name, d.values[name]) {
			return
		}
	}
}

// Clone returns an independent copy.
func (d *Dict) Clone() *Dict {
	out := NewDict()
	d.Range(func(name string, value Value) bool {
		out.Set(name, value)
		return true
	})
	return out
}

// Values returns the plain numeric values keyed by name.
func (d *Dict) Values() map[string]float64 {
	out := make(map[string]float64, d.Len())
	d.Range(func(name string, value Value) bool {
		out[name] = value.Value
		return true
	})
	return out
}
