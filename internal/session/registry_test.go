package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestJoinAppliesDefaults(t *testing.T) {
	tests := []struct {
		name      string
		x, y      *int
		levelName string
		wantX     int
		wantY     int
		wantLevel string
	}{
		{
			name:      "all defaults",
			wantX:     DefaultSpawnX,
			wantY:     DefaultSpawnY,
			wantLevel: DefaultLevelName,
		},
		{
			name:      "explicit position",
			x:         intPtr(320),
			y:         intPtr(262),
			wantX:     320,
			wantY:     262,
			wantLevel: DefaultLevelName,
		},
		{
			name:      "zero coordinates are valid",
			x:         intPtr(0),
			y:         intPtr(0),
			levelName: "dungeon",
			wantX:     0,
			wantY:     0,
			wantLevel: "dungeon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			p := r.Join("a", tt.x, tt.y, tt.levelName, nil)
			assert.Equal(t, "a", p.ID)
			assert.Equal(t, tt.wantX, p.X)
			assert.Equal(t, tt.wantY, p.Y)
			assert.Equal(t, tt.wantLevel, p.LevelName)
			assert.NotNil(t, p.Attributes)
		})
	}
}

func TestJoinOverwritesExistingState(t *testing.T) {
	r := NewRegistry()
	r.Join("a", intPtr(10), intPtr(20), "cave", map[string]any{"name": "old"})
	p := r.Join("a", nil, nil, "", nil)

	assert.Equal(t, DefaultSpawnX, p.X)
	assert.Equal(t, DefaultLevelName, p.LevelName)
	assert.Empty(t, p.Attributes)
	assert.Equal(t, 1, r.Len())
}

func TestSetPositionPreservesAttributes(t *testing.T) {
	r := NewRegistry()
	r.Join("a", nil, nil, "", map[string]any{"address": "0xabc"})

	require.True(t, r.SetPosition("a", 400, 300))

	p, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 400, p.X)
	assert.Equal(t, 300, p.Y)
	assert.Equal(t, "0xabc", p.Attributes["address"])
}

func TestSetPositionUnknownID(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.SetPosition("ghost", 1, 2))
	assert.Equal(t, 0, r.Len())
}

func TestMergeAttributesLastWriteWins(t *testing.T) {
	r := NewRegistry()
	r.Join("a", nil, nil, "", nil)

	_, ok := r.MergeAttributes("a", map[string]any{"address": "0xabc"})
	require.True(t, ok)
	merged, ok := r.MergeAttributes("a", map[string]any{"chainId": 137})
	require.True(t, ok)

	// Disjoint keys both survive.
	assert.Equal(t, map[string]any{"address": "0xabc", "chainId": 137}, merged)

	// A repeated key takes the most recent value.
	merged, _ = r.MergeAttributes("a", map[string]any{"address": "0xdef"})
	assert.Equal(t, "0xdef", merged["address"])
	assert.Equal(t, 137, merged["chainId"])
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Join("a", nil, nil, "", nil)

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Equal(t, 0, r.Len())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	r := NewRegistry()
	r.Join("a", nil, nil, "", map[string]any{"name": "alice"})

	snap := r.Snapshot()
	snap["a"].Attributes["name"] = "mallory"

	p, _ := r.Get("a")
	assert.Equal(t, "alice", p.Attributes["name"])
}
