// Package client keeps a local game's view of remote players consistent with
// the relay server and forwards local intent upstream. The rendering engine
// is an external collaborator reached through the Level and LocalPlayer
// interfaces; if multiplayer is unreachable the game stays playable and the
// manager simply produces no mirrors.
package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gridvale/pkg/attrs"
	"gridvale/pkg/proto"

	"github.com/gorilla/websocket"
)

// positionThreshold is the per-axis movement below which a tick's position is
// not worth transmitting; it bounds outbound rate to roughly the visual
// movement rate instead of every simulation tick.
const positionThreshold = 1

// Level is the scene-graph container mirrors are attached to. The engine
// owns it; the manager only adds and removes children by level-name equality.
type Level interface {
	Name() string
	AddChild(m *Mirror)
	RemoveChild(m *Mirror)
}

// LocalPlayer is the input-driven player entity owned by the engine.
type LocalPlayer interface {
	Position() Point
	AttributesObject() map[string]any
}

type wsConn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Manager mirrors remote players locally and relays local state upstream.
// All exported methods are safe to call from the game tick while the read
// loop applies server events concurrently.
type Manager struct {
	mu sync.Mutex

	local     LocalPlayer
	level     Level
	conn      wsConn
	connected bool
	sessionID string
	status    string

	mirrors  map[string]*Mirror
	lastSent Point
	hasSent  bool

	// stale marks a dropped session; the next Connect clears every mirror
	// before re-joining so the fresh snapshot rebuilds the set from scratch.
	stale bool

	// OnEvent receives targeted private-message deliveries and any other
	// event the manager does not consume itself. Called with the manager
	// unlocked. Optional.
	OnEvent func(eventType string, payload json.RawMessage)
}

func NewManager(local LocalPlayer) *Manager {
	return &Manager{
		local:   local,
		mirrors: make(map[string]*Mirror),
		status:  "offline",
	}
}

// Connect opens the transport and registers this player with the relay.
// It is idempotent: a no-op while a session is live. After a dropped session
// it first discards every mirror so no stale or duplicate ids survive the
// re-join.
func (m *Manager) Connect(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}
	if m.stale {
		m.clearMirrors()
		m.stale = false
	}

	conn, _, err := websocket.DefaultDialer.Dial(address, nil)
	if err != nil {
		m.status = fmt.Sprintf("connection failed: %v", err)
		return err
	}
	m.conn = conn
	m.connected = true
	m.sessionID = ""
	m.status = "connected"

	go m.readLoop(conn)

	pos := m.local.Position()
	join := proto.JoinPayload{
		X:          &pos.X,
		Y:          &pos.Y,
		Attributes: m.local.AttributesObject(),
	}
	if m.level != nil {
		join.LevelName = m.level.Name()
	}
	return m.sendLocked(proto.EventJoin, join)
}

// Close tears the session down. Mirrors are cleared on the next Connect.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.connected = false
	m.stale = true
	m.status = "offline"
}

// Connected reports whether a session is live.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SessionID returns this client's connection identity, empty until the
// server has assigned one.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Status returns the connection status string for the debug overlay.
func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetLevel records the active level and, if connected, immediately announces
// the transition to the server.
func (m *Manager) SetLevel(level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.level = level
	if m.connected && level != nil {
		if err := m.sendLocked(proto.EventChangeLevel, proto.ChangeLevelPayload{LevelName: level.Name()}); err != nil {
			slog.Warn("failed to announce level change", "level", level.Name(), "error", err)
		}
	}
}

// SendPositionUpdate relays the local player's position, throttled: nothing
// is transmitted unless the position moved more than positionThreshold pixels
// from the last transmitted position in either axis.
func (m *Manager) SendPositionUpdate(p Point) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return
	}
	if m.hasSent && abs(p.X-m.lastSent.X) <= positionThreshold && abs(p.Y-m.lastSent.Y) <= positionThreshold {
		return
	}

	if err := m.sendLocked(proto.EventMove, proto.MovePayload{X: &p.X, Y: &p.Y}); err != nil {
		slog.Warn("failed to send position update", "error", err)
		return
	}
	m.lastSent = p
	m.hasSent = true
}

// SendAttributesUpdate relays the store's cells when it is dirty, clearing
// the flag on success. Never transmits unconditionally per tick.
func (m *Manager) SendAttributesUpdate(store *attrs.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected || !store.Dirty() {
		return
	}
	if err := m.sendLocked(proto.EventDataUpdated, proto.DataUpdatedPayload{Attributes: store.All()}); err != nil {
		slog.Warn("failed to send attributes update", "error", err)
		return
	}
	store.ClearDirty()
}

// SendPrivateMessage targets one connection with an arbitrary payload. The
// server re-stamps the sender id; any "from" in payload is advisory at best.
func (m *Manager) SendPrivateMessage(to, eventType string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["to"] = to
	body["type"] = eventType
	return m.sendLocked(proto.EventPrivateMessage, body)
}

// SendChatPublic fans text out to every other player.
func (m *Manager) SendChatPublic(text string) error {
	return m.sendChat(proto.EventChatPublic, proto.ChatPayload{Text: text})
}

// SendChatPrivate sends text to one player.
func (m *Manager) SendChatPrivate(to, text string) error {
	return m.sendChat(proto.EventChatPrivate, proto.ChatPayload{To: to, Text: text})
}

// SendChatRoom sends text to this player's chain-scoped group.
func (m *Manager) SendChatRoom(text string) error {
	return m.sendChat(proto.EventChatRoom, proto.ChatPayload{Text: text})
}

func (m *Manager) sendChat(eventType string, payload proto.ChatPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("not connected")
	}
	return m.sendLocked(eventType, payload)
}

// UpdateRemotePlayers advances each mirror's animation state by one tick.
// Mirrors whose level does not match the active level are skipped, not
// deleted: level-scoped simulation keeps cross-level mirrors dormant.
func (m *Manager) UpdateRemotePlayers(delta time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.level == nil {
		return
	}
	active := m.level.Name()
	for _, mirror := range m.mirrors {
		if mirror.CurrentLevelName != active {
			continue
		}
		mirror.Update(delta)
	}
}

func (m *Manager) sendLocked(eventType string, payload any) error {
	msg, err := proto.NewMessage(eventType, payload)
	if err != nil {
		return err
	}
	return m.conn.WriteJSON(msg)
}

func (m *Manager) readLoop(conn wsConn) {
	for {
		var msg proto.Message
		if err := conn.ReadJSON(&msg); err != nil {
			m.mu.Lock()
			if m.conn == conn {
				m.connected = false
				m.stale = true
				m.status = fmt.Sprintf("disconnected: %v", err)
			}
			m.mu.Unlock()
			return
		}
		m.handle(msg)
	}
}

// clearMirrors detaches and forgets every mirror. Caller holds the lock.
func (m *Manager) clearMirrors() {
	for id, mirror := range m.mirrors {
		if mirror.attached && m.level != nil {
			m.level.RemoveChild(mirror)
		}
		delete(m.mirrors, id)
	}
}
