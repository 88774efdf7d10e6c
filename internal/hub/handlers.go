package hub

import (
	"context"
	"encoding/json"
	"log/slog"

	"gridvale/internal/events"
	"gridvale/internal/validator"
	"gridvale/pkg/proto"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// dispatch decodes and validates one inbound frame, then routes it to the
// matching handler. Malformed payloads no-op: state is left unchanged, no
// broadcast occurs and nothing is surfaced to the sender.
func (h *Hub) dispatch(ctx context.Context, c *Client, raw []byte) {
	ctx, span := tracer.Start(ctx, "hub.dispatch", trace.WithAttributes(
		attribute.String("conn.id", c.ID),
	))
	defer span.End()

	var msg proto.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.WarnContext(ctx, "error unmarshalling message", "conn.id", c.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Error unmarshalling message")
		return
	}
	if err := validator.Struct(msg); err != nil {
		slog.WarnContext(ctx, "invalid envelope from connection", "conn.id", c.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid envelope")
		return
	}
	span.SetAttributes(attribute.String("message.type", msg.Type))

	switch msg.Type {
	case proto.EventJoin:
		h.handleJoin(ctx, c, msg.Payload)
	case proto.EventMove:
		h.handleMove(ctx, c, msg.Payload)
	case proto.EventDataUpdated:
		h.handleDataUpdated(ctx, c, msg.Payload)
	case proto.EventChangeLevel:
		h.handleChangeLevel(ctx, c, msg.Payload)
	case proto.EventPrivateMessage:
		h.handlePrivateMessage(ctx, c, msg.Payload)
	case proto.EventChatPublic:
		h.handleChatPublic(ctx, c, msg.Payload)
	case proto.EventChatPrivate:
		h.handleChatPrivate(ctx, c, msg.Payload)
	case proto.EventChatRoom:
		h.handleChatRoom(ctx, c, msg.Payload)
	default:
		slog.WarnContext(ctx, "unknown event type", "conn.id", c.ID, "message.type", msg.Type)
	}
}

// handleJoin creates or overwrites the player's state, answers the joiner
// with the full registry snapshot and announces the new player to everyone
// else. A chainId attribute additionally subscribes the connection to that
// chain's broadcast group.
func (h *Hub) handleJoin(ctx context.Context, c *Client, raw json.RawMessage) {
	ctx, span := tracer.Start(ctx, "hub.handleJoin", trace.WithAttributes(
		attribute.String("conn.id", c.ID),
	))
	defer span.End()

	var p proto.JoinPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			slog.WarnContext(ctx, "invalid join payload", "conn.id", c.ID, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "Invalid join payload")
			return
		}
	}

	state := h.registry.Join(c.ID, p.X, p.Y, p.LevelName, p.Attributes)
	span.SetAttributes(attribute.String("player.level", state.LevelName))

	snapshot := h.registry.Snapshot()
	wire := make(map[string]proto.PlayerState, len(snapshot))
	for id, ps := range snapshot {
		wire[id] = wireState(ps)
	}
	h.sendTo(ctx, c, proto.EventCurrentPlayers, wire)

	h.broadcastExcept(ctx, c.ID, proto.EventNewPlayer, wireState(state))

	if chain, ok := state.Attributes["chainId"]; ok {
		h.joinGroup(groupName(chain), c)
		span.SetAttributes(attribute.String("player.group", c.group))
	}

	h.publisher.Publish(ctx, events.TypePlayerJoined, events.PlayerJoinedPayload{
		PlayerID:  c.ID,
		LevelName: state.LevelName,
	})
	slog.InfoContext(ctx, "player joined", "player.id", c.ID, "player.level", state.LevelName)
}

// handleMove merges a position delta and fans out {id, x, y} to the other
// connections. Movement magnitude is not validated; anti-cheat is out of
// scope and the server trusts the client's physics.
func (h *Hub) handleMove(ctx context.Context, c *Client, raw json.RawMessage) {
	ctx, span := tracer.Start(ctx, "hub.handleMove", trace.WithAttributes(
		attribute.String("conn.id", c.ID),
	))
	defer span.End()

	var p proto.MovePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid move payload")
		return
	}
	if err := validator.Struct(p); err != nil {
		slog.WarnContext(ctx, "move missing coordinates", "conn.id", c.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Move missing coordinates")
		return
	}

	if !h.registry.SetPosition(c.ID, *p.X, *p.Y) {
		slog.WarnContext(ctx, "move from connection with no player state", "conn.id", c.ID)
		span.SetStatus(codes.Error, "Move before join")
		return
	}

	h.broadcastExcept(ctx, c.ID, proto.EventPlayerMoved, proto.PlayerMovedPayload{
		ID: c.ID, X: *p.X, Y: *p.Y,
	})
}

// handleDataUpdated shallow-merges the partial attribute map and broadcasts
// the merged full map tagged with the sender id.
func (h *Hub) handleDataUpdated(ctx context.Context, c *Client, raw json.RawMessage) {
	ctx, span := tracer.Start(ctx, "hub.handleDataUpdated", trace.WithAttributes(
		attribute.String("conn.id", c.ID),
	))
	defer span.End()

	var p proto.DataUpdatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid attributes payload")
		return
	}
	if err := validator.Struct(p); err != nil {
		slog.WarnContext(ctx, "attributes update missing map", "conn.id", c.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Attributes update missing map")
		return
	}

	merged, ok := h.registry.MergeAttributes(c.ID, p.Attributes)
	if !ok {
		span.SetStatus(codes.Error, "Attributes update before join")
		return
	}

	h.broadcastExcept(ctx, c.ID, proto.EventDataUpdated, proto.DataUpdatedPayload{
		ID: c.ID, Attributes: merged,
	})
}

// handleChangeLevel records the transition and tells peers so their mirrors
// can be attached to or detached from the active level by name equality.
func (h *Hub) handleChangeLevel(ctx context.Context, c *Client, raw json.RawMessage) {
	ctx, span := tracer.Start(ctx, "hub.handleChangeLevel", trace.WithAttributes(
		attribute.String("conn.id", c.ID),
	))
	defer span.End()

	var p proto.ChangeLevelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid changeLevel payload")
		return
	}
	if err := validator.Struct(p); err != nil {
		slog.WarnContext(ctx, "changeLevel missing level name", "conn.id", c.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "changeLevel missing level name")
		return
	}

	if !h.registry.SetLevel(c.ID, p.LevelName) {
		span.SetStatus(codes.Error, "changeLevel before join")
		return
	}
	span.SetAttributes(attribute.String("player.level", p.LevelName))

	h.broadcastExcept(ctx, c.ID, proto.EventPlayerLevelChanged, proto.ChangeLevelPayload{
		ID: c.ID, LevelName: p.LevelName,
	})
	h.publisher.Publish(ctx, events.TypePlayerLevelChanged, events.PlayerLevelChangedPayload{
		PlayerID: c.ID, LevelName: p.LevelName,
	})
}

// handlePrivateMessage delivers the payload directly and only to the named
// recipient, under the event name declared in "type". The "from" field is
// always overwritten with the sender's true connection id, so a forged sender
// never survives the relay. Unknown recipients are dropped and logged;
// fire-and-forget, no retry or queueing.
func (h *Hub) handlePrivateMessage(ctx context.Context, c *Client, raw json.RawMessage) {
	ctx, span := tracer.Start(ctx, "hub.handlePrivateMessage", trace.WithAttributes(
		attribute.String("conn.id", c.ID),
	))
	defer span.End()

	var p proto.PrivateMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid privateMessage payload")
		return
	}
	if err := validator.Struct(p); err != nil {
		slog.WarnContext(ctx, "privateMessage missing to/type", "conn.id", c.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "privateMessage missing to/type")
		return
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid privateMessage body")
		return
	}
	delete(body, "to")
	body["from"] = c.ID

	span.SetAttributes(attribute.String("message.forward_type", p.Type))
	if !h.deliverTo(ctx, p.To, p.Type, body) {
		slog.WarnContext(ctx, "dropping private message to unknown recipient",
			"conn.id", c.ID, "to", p.To, "message.forward_type", p.Type)
		span.SetStatus(codes.Error, "Unknown recipient")
	}
}

func (h *Hub) handleChatPublic(ctx context.Context, c *Client, raw json.RawMessage) {
	ctx, span := tracer.Start(ctx, "hub.handleChatPublic", trace.WithAttributes(
		attribute.String("conn.id", c.ID),
	))
	defer span.End()

	p, ok := h.chatPayload(ctx, c, raw, span)
	if !ok {
		return
	}
	h.broadcastExcept(ctx, c.ID, proto.EventChatPublic, proto.ChatPayload{From: c.ID, Text: p.Text})
}

func (h *Hub) handleChatPrivate(ctx context.Context, c *Client, raw json.RawMessage) {
	ctx, span := tracer.Start(ctx, "hub.handleChatPrivate", trace.WithAttributes(
		attribute.String("conn.id", c.ID),
	))
	defer span.End()

	p, ok := h.chatPayload(ctx, c, raw, span)
	if !ok {
		return
	}
	if p.To == "" {
		span.SetStatus(codes.Error, "chat:private missing recipient")
		return
	}
	if !h.deliverTo(ctx, p.To, proto.EventChatPrivate, proto.ChatPayload{From: c.ID, Text: p.Text}) {
		slog.WarnContext(ctx, "dropping private chat to unknown recipient", "conn.id", c.ID, "to", p.To)
		span.SetStatus(codes.Error, "Unknown recipient")
	}
}

// handleChatRoom multicasts to the sender's chain-scoped group. Senders that
// never joined a group have no room to speak into.
func (h *Hub) handleChatRoom(ctx context.Context, c *Client, raw json.RawMessage) {
	ctx, span := tracer.Start(ctx, "hub.handleChatRoom", trace.WithAttributes(
		attribute.String("conn.id", c.ID),
	))
	defer span.End()

	p, ok := h.chatPayload(ctx, c, raw, span)
	if !ok {
		return
	}
	if c.group == "" {
		slog.WarnContext(ctx, "room chat from connection with no group", "conn.id", c.ID)
		span.SetStatus(codes.Error, "No group membership")
		return
	}
	h.broadcastGroup(ctx, c.group, c.ID, proto.EventChatRoom, proto.ChatPayload{
		From: c.ID, Room: c.group, Text: p.Text,
	})
}

func (h *Hub) chatPayload(ctx context.Context, c *Client, raw json.RawMessage, span trace.Span) (proto.ChatPayload, bool) {
	var p proto.ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid chat payload")
		return p, false
	}
	if err := validator.Struct(p); err != nil {
		slog.WarnContext(ctx, "chat message missing text", "conn.id", c.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Chat message missing text")
		return p, false
	}
	return p, true
}
