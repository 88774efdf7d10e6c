package proto

import "encoding/json"

// Event names carried in the Message envelope. Client-to-server events are
// dispatched by the hub; server-to-client events are consumed by the
// reconciliation manager. A targeted private message is delivered under its
// own declared type rather than a fixed name.
const (
	// client -> server
	EventJoin           = "join"
	EventMove           = "move"
	EventDataUpdated    = "playerDataUpdated"
	EventChangeLevel    = "changeLevel"
	EventPrivateMessage = "privateMessage"
	EventChatPublic     = "chat:public"
	EventChatPrivate    = "chat:private"
	EventChatRoom       = "chat:room"

	// server -> client
	EventConnected          = "connect"
	EventCurrentPlayers     = "currentPlayers"
	EventNewPlayer          = "newPlayer"
	EventPlayerMoved        = "playerMoved"
	EventRemovePlayer       = "removePlayer"
	EventPlayerLevelChanged = "playerLevelChanged"
)

// Message is the envelope for every frame on the wire, in both directions.
type Message struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope. Marshal errors are returned
// to the caller; payloads are plain structs and maps so they only fail on
// programmer error.
func NewMessage(eventType string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: eventType, Payload: raw}, nil
}

// PlayerState is the wire view of one registry entry. It appears in the
// currentPlayers snapshot and in newPlayer broadcasts.
type PlayerState struct {
	ID         string         `json:"id"`
	X          int            `json:"x"`
	Y          int            `json:"y"`
	LevelName  string         `json:"levelName"`
	Attributes map[string]any `json:"attributes"`
}

// JoinPayload registers or overwrites the sender's player state. Every field
// is optional; the server applies spawn defaults.
type JoinPayload struct {
	X          *int           `json:"x,omitempty"`
	Y          *int           `json:"y,omitempty"`
	LevelName  string         `json:"levelName,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// MovePayload is a position delta. Coordinates are pointers so that zero is a
// valid value while a missing field still fails the required check.
type MovePayload struct {
	X *int `json:"x" validate:"required"`
	Y *int `json:"y" validate:"required"`
}

// DataUpdatedPayload carries a partial attribute map to shallow-merge into the
// sender's state. On the way back out it carries the merged full map together
// with the owning player's id.
type DataUpdatedPayload struct {
	ID         string         `json:"id,omitempty"`
	Attributes map[string]any `json:"attributes" validate:"required"`
}

// ChangeLevelPayload announces a level transition.
type ChangeLevelPayload struct {
	ID        string `json:"id,omitempty"`
	LevelName string `json:"levelName" validate:"required"`
}

// PrivateMessagePayload addresses one live connection. Type becomes the event
// name on delivery; any extra keys in the original payload are forwarded
// untouched, with "from" overwritten by the sender's true connection id.
type PrivateMessagePayload struct {
	To   string `json:"to" validate:"required"`
	Type string `json:"type" validate:"required"`
}

// ChatPayload serves the three chat events. To is required for chat:private
// only; Room is filled in by the server on chat:room delivery.
type ChatPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Room string `json:"room,omitempty"`
	Text string `json:"text" validate:"required"`
}

// ConnectedPayload tells a freshly admitted connection its identity.
type ConnectedPayload struct {
	ID string `json:"id"`
}

// PlayerMovedPayload is the minimal position delta fanned out to peers.
type PlayerMovedPayload struct {
	ID string `json:"id"`
	X  int    `json:"x"`
	Y  int    `json:"y"`
}
