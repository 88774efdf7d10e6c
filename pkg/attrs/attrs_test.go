package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGet(t *testing.T) {
	s := New()

	_, ok := s.Get("name")
	assert.False(t, ok)

	s.Set("name", "alice")
	v, ok := s.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)

	// Mutated in place, not duplicated.
	s.Set("name", "bob")
	v, _ = s.Get("name")
	assert.Equal(t, "bob", v)
	assert.Equal(t, 1, s.Len())
}

func TestInsertionOrderPreserved(t *testing.T) {
	s := New()
	s.Set("address", "0xabc")
	s.Set("chainId", 137)
	s.Set("name", "alice")
	s.Set("address", "0xdef") // update must not reorder

	assert.Equal(t, []string{"address", "chainId", "name"}, s.Names())
}

func TestDirtyContract(t *testing.T) {
	s := New()
	assert.False(t, s.Dirty())

	s.Set("name", "alice")
	assert.True(t, s.Dirty())

	s.ClearDirty()
	assert.False(t, s.Dirty())

	s.Set("name", "alice") // same value still counts as a local mutation
	assert.True(t, s.Dirty())
}

func TestLoadObjectFromNetworkDoesNotMarkDirty(t *testing.T) {
	s := New()
	s.LoadObject(map[string]any{"address": "0xabc", "chainId": float64(137)}, false)

	assert.False(t, s.Dirty(), "applying server data must not trigger a re-broadcast")
	v, _ := s.Get("chainId")
	assert.Equal(t, float64(137), v)
}

func TestLoadObjectLocalMarksDirty(t *testing.T) {
	s := New()
	s.LoadObject(map[string]any{"name": "alice"}, true)
	assert.True(t, s.Dirty())

	s.ClearDirty()
	s.LoadObject(map[string]any{}, true)
	assert.False(t, s.Dirty(), "empty load has nothing to sync")
}

func TestAllIsSnapshot(t *testing.T) {
	s := New()
	s.Set("name", "alice")

	all := s.All()
	all["name"] = "mallory"

	v, _ := s.Get("name")
	assert.Equal(t, "alice", v)
}
