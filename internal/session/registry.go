package session

import (
	"maps"
	"sync"
)

// Spawn point and level applied when a join omits them.
const (
	DefaultSpawnX    = 320
	DefaultSpawnY    = 262
	DefaultLevelName = "main"
)

// PlayerState is the authoritative record for one live connection. The ID
// always equals the registry key.
type PlayerState struct {
	ID         string
	X          int
	Y          int
	LevelName  string
	Attributes map[string]any
}

// Registry is the server's single source of truth for player state. It is an
// injected value rather than a package-level singleton so tests can run
// isolated instances. The hub goroutine performs all writes; the read lock
// exists for the diagnostic endpoints, which run on HTTP goroutines.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*PlayerState
}

func NewRegistry() *Registry {
	return &Registry{players: make(map[string]*PlayerState)}
}

// Join creates or overwrites the state for id, applying spawn defaults for
// absent fields, and returns a copy of the resulting state.
func (r *Registry) Join(id string, x, y *int, levelName string, attributes map[string]any) PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &PlayerState{
		ID:         id,
		X:          DefaultSpawnX,
		Y:          DefaultSpawnY,
		LevelName:  DefaultLevelName,
		Attributes: make(map[string]any),
	}
	if x != nil {
		p.X = *x
	}
	if y != nil {
		p.Y = *y
	}
	if levelName != "" {
		p.LevelName = levelName
	}
	maps.Copy(p.Attributes, attributes)
	r.players[id] = p
	return copyState(p)
}

// SetPosition merges a position delta into existing state, preserving every
// other field. Unknown ids report false and change nothing.
func (r *Registry) SetPosition(id string, x, y int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok {
		return false
	}
	p.X, p.Y = x, y
	return true
}

// MergeAttributes shallow-merges partial into the player's attribute map,
// last write wins per key, and returns a copy of the merged full map.
func (r *Registry) MergeAttributes(id string, partial map[string]any) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok {
		return nil, false
	}
	maps.Copy(p.Attributes, partial)
	return maps.Clone(p.Attributes), true
}

// SetLevel records a level transition.
func (r *Registry) SetLevel(id, levelName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok {
		return false
	}
	p.LevelName = levelName
	return true
}

// Remove deletes the state for id and reports whether it existed. Calling it
// twice is a no-op the second time.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.players[id]
	delete(r.players, id)
	return ok
}

// Get returns a copy of the state for id.
func (r *Registry) Get(id string) (PlayerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.players[id]
	if !ok {
		return PlayerState{}, false
	}
	return copyState(p), true
}

// Snapshot returns a deep copy of the whole registry, keyed by id.
func (r *Registry) Snapshot() map[string]PlayerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]PlayerState, len(r.players))
	for id, p := range r.players {
		out[id] = copyState(p)
	}
	return out
}

// Len reports the number of joined players.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func copyState(p *PlayerState) PlayerState {
	c := *p
	c.Attributes = maps.Clone(p.Attributes)
	return c
}
