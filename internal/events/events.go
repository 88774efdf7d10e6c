package events

import "encoding/json"

// Pub/Sub channel constants
const (
	PresenceChannel = "channel:presence"
)

// Lifecycle event types mirrored to Pub/Sub for external tooling. These are
// derived from relay traffic and are never read back into the registry.
const (
	TypePlayerJoined       = "player_joined"
	TypePlayerLeft         = "player_left"
	TypePlayerLevelChanged = "player_level_changed"
)

// Event is the envelope published on the presence channel.
type Event struct {
	Type    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PlayerJoinedPayload is the payload for the "player_joined" event.
type PlayerJoinedPayload struct {
	PlayerID  string `json:"player_id"`
	LevelName string `json:"level_name"`
}

// PlayerLeftPayload is the payload for the "player_left" event.
type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
}

// PlayerLevelChangedPayload is the payload for the "player_level_changed" event.
type PlayerLevelChangedPayload struct {
	PlayerID  string `json:"player_id"`
	LevelName string `json:"level_name"`
}
