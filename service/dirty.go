package service

import "sort"

type nameSet map[string]struct{}

func (s nameSet) sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DirtyTracker records structural changes to the active step: parameters
// added and deleted since the last save. A name is never in both registries.
type DirtyTracker struct {
	added   nameSet
	deleted nameSet
}

// NewDirtyTracker returns a clean tracker.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{added: nameSet{}, deleted: nameSet{}}
}

// RecordAdd notes that name was added. Adding a name deleted earlier cancels
// the deletion.
func (t *DirtyTracker) RecordAdd(name string) {
	if _, ok := t.deleted[name]; ok {
		delete(t.deleted, name)
		return
	}
	t.added[name] = struct{}{}
}

// RecordDelete notes that name was deleted. Deleting a name added earlier
// cancels the addition.
func (t *DirtyTracker) RecordDelete(name string) {
	if _, ok := t.added[name]; ok {
		delete(t.added, name)
		return
	}
	t.deleted[name] = struct{}{}
}

// Added returns the added names, sorted.
func (t *DirtyTracker) Added() []string { return t.added.sorted() }

// Deleted returns the deleted names, sorted.
func (t *DirtyTracker) Deleted() []string { return t.deleted.sorted() }

// HasUnsavedChanges reports whether anything differs from the saved file.
func (t *DirtyTracker) HasUnsavedChanges(set *ParameterSet) bool {
	if len(t.added) > 0 || len(t.deleted) > 0 {
		return true
	}
	return set != nil && set.AnyEdited()
}

// Reset clears both registries.
func (t *DirtyTracker) Reset() {
	t.added = nameSet{}
	t.deleted = nameSet{}
}

// Committed marks the state after a successful save as clean.
func (t *DirtyTracker) Committed(set *ParameterSet) {
	t.Reset()
	if set != nil {
		set.commit()
	}
}
