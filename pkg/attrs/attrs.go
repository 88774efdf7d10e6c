// Package attrs provides the typed scalar key-value container attached to
// each player entity, local and remote. It carries identity metadata such as
// wallet address, chain id and display name, independent of position, and is
// synchronized opportunistically: only when something changed.
package attrs

import "sort"

// Store holds named scalar cells (strings, numbers, booleans) in insertion
// order. A cell is created on first Set, mutated in place afterwards, and
// lives as long as the owning player.
//
// The dirty flag is the caller-observed sync contract: any local mutation
// sets it, and the caller clears it after a successful remote sync. Loads
// from a network payload must pass markDirty=false so the server's own data
// is never re-broadcast back at it.
type Store struct {
	names []string
	cells map[string]any
	dirty bool
}

func New() *Store {
	return &Store{cells: make(map[string]any)}
}

// Set creates or updates a cell and marks the store dirty.
func (s *Store) Set(name string, value any) {
	s.set(name, value)
	s.dirty = true
}

func (s *Store) set(name string, value any) {
	if _, ok := s.cells[name]; !ok {
		s.names = append(s.names, name)
	}
	s.cells[name] = value
}

// Get returns the value for name and whether the cell exists.
func (s *Store) Get(name string) (any, bool) {
	v, ok := s.cells[name]
	return v, ok
}

// All returns a snapshot of every cell as a plain mapping.
func (s *Store) All() map[string]any {
	out := make(map[string]any, len(s.cells))
	for k, v := range s.cells {
		out[k] = v
	}
	return out
}

// Names returns the cell names in insertion order.
func (s *Store) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// LoadObject bulk-sets every key of partial, one cell at a time, so it serves
// both full snapshots and partial deltas. Keys are applied in sorted order to
// keep insertion order deterministic across runs. markDirty distinguishes a
// local mutation from applying data the server already knows.
func (s *Store) LoadObject(partial map[string]any, markDirty bool) {
	keys := make([]string, 0, len(partial))
	for k := range partial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.set(k, partial[k])
	}
	if markDirty && len(partial) > 0 {
		s.dirty = true
	}
}

// Dirty reports whether the store has unsynced local changes.
func (s *Store) Dirty() bool {
	return s.dirty
}

// ClearDirty acknowledges a completed remote sync.
func (s *Store) ClearDirty() {
	s.dirty = false
}

// Len reports the number of cells.
func (s *Store) Len() int {
	return len(s.cells)
}
