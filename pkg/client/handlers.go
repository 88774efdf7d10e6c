package client

import (
	"encoding/json"
	"log/slog"

	"gridvale/pkg/proto"
)

// handle translates one relay event into mirror lifecycle operations. Events
// the manager does not consume are forwarded to OnEvent; that covers targeted
// private messages, whose event name equals their declared type.
func (m *Manager) handle(msg proto.Message) {
	m.mu.Lock()

	switch msg.Type {
	case proto.EventConnected:
		var p proto.ConnectedPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			m.sessionID = p.ID
		}

	case proto.EventCurrentPlayers:
		m.handleSnapshot(msg.Payload)

	case proto.EventNewPlayer:
		m.handleNewPlayer(msg.Payload)

	case proto.EventPlayerMoved:
		m.handlePlayerMoved(msg.Payload)

	case proto.EventDataUpdated:
		m.handleDataUpdated(msg.Payload)

	case proto.EventRemovePlayer:
		m.handleRemovePlayer(msg.Payload)

	case proto.EventPlayerLevelChanged:
		m.handleLevelChanged(msg.Payload)

	default:
		hook := m.OnEvent
		m.mu.Unlock()
		if hook != nil {
			hook(msg.Type, msg.Payload)
		}
		return
	}

	m.mu.Unlock()
}

// handleSnapshot diffs the full registry snapshot against the local mirror
// set: stale mirrors are destroyed, unseen ids get fresh mirrors, and the
// local session is skipped.
func (m *Manager) handleSnapshot(raw json.RawMessage) {
	var snapshot map[string]proto.PlayerState
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		slog.Warn("invalid currentPlayers payload", "error", err)
		return
	}

	for id, mirror := range m.mirrors {
		if _, ok := snapshot[id]; !ok {
			m.destroyMirror(mirror)
		}
	}
	for id, state := range snapshot {
		if id == m.sessionID {
			continue
		}
		if _, ok := m.mirrors[id]; ok {
			continue
		}
		m.createMirror(state)
	}
}

func (m *Manager) handleNewPlayer(raw json.RawMessage) {
	var state proto.PlayerState
	if err := json.Unmarshal(raw, &state); err != nil {
		slog.Warn("invalid newPlayer payload", "error", err)
		return
	}
	if state.ID == m.sessionID {
		return
	}
	if _, ok := m.mirrors[state.ID]; ok {
		return
	}
	m.createMirror(state)
}

// handlePlayerMoved snaps the mirror to the authoritative position. No
// physics or interpolation; the mirror's own tick infers facing from the
// delta for animation.
func (m *Manager) handlePlayerMoved(raw json.RawMessage) {
	var p proto.PlayerMovedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		slog.Warn("invalid playerMoved payload", "error", err)
		return
	}
	if p.ID == m.sessionID {
		return
	}
	if mirror, ok := m.mirrors[p.ID]; ok {
		mirror.SetPosition(Point{X: p.X, Y: p.Y})
	}
}

// handleDataUpdated merges the peer's attribute map into its mirror's store.
// The load never marks the store dirty: re-broadcasting data the server just
// sent would feed back forever.
func (m *Manager) handleDataUpdated(raw json.RawMessage) {
	var p proto.DataUpdatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		slog.Warn("invalid playerDataUpdated payload", "error", err)
		return
	}
	if mirror, ok := m.mirrors[p.ID]; ok {
		mirror.Attributes.LoadObject(p.Attributes, false)
	}
}

func (m *Manager) handleRemovePlayer(raw json.RawMessage) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		slog.Warn("invalid removePlayer payload", "error", err)
		return
	}
	if mirror, ok := m.mirrors[id]; ok {
		m.destroyMirror(mirror)
	}
}

// handleLevelChanged detaches the mirror from its old level and re-attaches
// it only when the new level name matches the active level.
func (m *Manager) handleLevelChanged(raw json.RawMessage) {
	var p proto.ChangeLevelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		slog.Warn("invalid playerLevelChanged payload", "error", err)
		return
	}
	mirror, ok := m.mirrors[p.ID]
	if !ok {
		return
	}

	if mirror.attached && m.level != nil {
		m.level.RemoveChild(mirror)
	}
	mirror.attached = false
	mirror.CurrentLevelName = p.LevelName
	m.attachIfActive(mirror)
}

func (m *Manager) createMirror(state proto.PlayerState) {
	mirror := newMirror(state)
	m.mirrors[state.ID] = mirror
	m.attachIfActive(mirror)
}

func (m *Manager) destroyMirror(mirror *Mirror) {
	if mirror.attached && m.level != nil {
		m.level.RemoveChild(mirror)
	}
	delete(m.mirrors, mirror.ID)
}

// attachIfActive adds the mirror to the active level when the names match.
// With no level container yet (still loading) the attach is silently skipped;
// the mirror's state is kept so a later re-sync can catch up.
func (m *Manager) attachIfActive(mirror *Mirror) {
	if m.level == nil {
		return
	}
	if mirror.CurrentLevelName == m.level.Name() {
		m.level.AddChild(mirror)
		mirror.attached = true
	}
}
