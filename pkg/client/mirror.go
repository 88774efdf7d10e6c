package client

import (
	"time"

	"gridvale/pkg/attrs"
	"gridvale/pkg/proto"
)

// Point is an integer pixel coordinate in world space.
type Point struct {
	X int
	Y int
}

// Direction is a facing inferred from movement, used for animation.
type Direction string

const (
	DirectionDown  Direction = "down"
	DirectionUp    Direction = "up"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// idleTimeout is how long a mirror keeps its walking pose after the last
// position update before reverting to idle.
const idleTimeout = 400 * time.Millisecond

// Mirror is a locally-owned proxy for a remote player. It is never driven by
// local input: positions snap to the last authoritative value from the server
// and the mirror's own tick only advances animation state.
type Mirror struct {
	ID string

	Position         Point
	PreviousPosition Point
	// DestinationPosition exists for scene-graph parity with the local
	// player; remote positions are set directly, never interpolated toward
	// a movement intent.
	DestinationPosition Point

	LastMovementDirection Direction
	CurrentLevelName      string
	Attributes            *attrs.Store
	Moving                bool

	lastMoved time.Time
	attached  bool
}

func newMirror(state proto.PlayerState) *Mirror {
	m := &Mirror{
		ID:                    state.ID,
		Position:              Point{X: state.X, Y: state.Y},
		PreviousPosition:      Point{X: state.X, Y: state.Y},
		DestinationPosition:   Point{X: state.X, Y: state.Y},
		LastMovementDirection: DirectionDown,
		CurrentLevelName:      state.LevelName,
		Attributes:            attrs.New(),
	}
	m.Attributes.LoadObject(state.Attributes, false)
	return m
}

// IsRemote is permanently true; a mirror is never the input-driven local
// player.
func (m *Mirror) IsRemote() bool {
	return true
}

// SetPosition snaps the mirror to an authoritative position and infers the
// facing direction from the delta. The larger axis wins so diagonal steps
// pick a single animation row.
func (m *Mirror) SetPosition(p Point) {
	dx := p.X - m.Position.X
	dy := p.Y - m.Position.Y
	if dx != 0 || dy != 0 {
		if abs(dx) >= abs(dy) {
			if dx > 0 {
				m.LastMovementDirection = DirectionRight
			} else {
				m.LastMovementDirection = DirectionLeft
			}
		} else {
			if dy > 0 {
				m.LastMovementDirection = DirectionDown
			} else {
				m.LastMovementDirection = DirectionUp
			}
		}
	}

	m.PreviousPosition = m.Position
	m.Position = p
	m.DestinationPosition = p
	m.Moving = true
	m.lastMoved = time.Now()
}

// Update advances the mirror's animation state by one tick: after idleTimeout
// without a position update the walking pose reverts to idle.
func (m *Mirror) Update(time.Duration) {
	if m.Moving && time.Since(m.lastMoved) > idleTimeout {
		m.Moving = false
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
