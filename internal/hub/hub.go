package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gridvale/internal/admission"
	"gridvale/internal/audit"
	"gridvale/internal/events"
	"gridvale/internal/session"
	"gridvale/pkg/proto"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("hub")
	meter  = otel.Meter("hub")
)

type inboundFrame struct {
	client *Client
	data   []byte
}

// Hub is the relay/broadcast engine. It owns the session registry and the
// client set, and a single Run goroutine drains every channel, so each
// mutate-then-broadcast sequence is atomic with respect to all other inbound
// events.
type Hub struct {
	registry  *session.Registry
	gate      *admission.Controller
	auditLog  *audit.Store
	publisher *events.Publisher

	clients map[string]*Client
	groups  map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
}

// NewHub creates a hub around an injected registry. auditLog and publisher
// may be nil.
func NewHub(registry *session.Registry, gate *admission.Controller, auditLog *audit.Store, publisher *events.Publisher) *Hub {
	h := &Hub{
		registry:   registry,
		gate:       gate,
		auditLog:   auditLog,
		publisher:  publisher,
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 64),
	}

	_, _ = meter.Int64ObservableGauge("relay.players",
		metric.WithDescription("Players currently joined in the session registry"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(registry.Len()))
			return nil
		}))
	return h
}

// Run starts the hub's event loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				c.closeSend()
			}
			return

		case c := <-h.register:
			h.clients[c.ID] = c
			h.sendTo(ctx, c, proto.EventConnected, proto.ConnectedPayload{ID: c.ID})
			slog.InfoContext(ctx, "connection registered", "conn.id", c.ID, "conn.addr", c.Addr)

		case c := <-h.unregister:
			h.handleDisconnect(ctx, c)

		case frame := <-h.inbound:
			h.dispatch(ctx, frame.client, frame.data)
		}
	}
}

// Attach hands a freshly admitted connection to the hub goroutine.
func (h *Hub) Attach(c *Client) {
	h.register <- c
}

// Detach requests cleanup for a connection. Safe to call more than once; the
// second request is a no-op because the client is already gone.
func (h *Hub) Detach(c *Client) {
	h.unregister <- c
}

// handleDisconnect purges the player's state, releases the admission quota
// slot and tells the remaining peers. Invoking it twice for the same client
// leaves the same end state as invoking it once.
func (h *Hub) handleDisconnect(ctx context.Context, c *Client) {
	cur, ok := h.clients[c.ID]
	if !ok || cur != c {
		return
	}
	delete(h.clients, c.ID)
	c.closeSend()

	if c.group != "" {
		if members, ok := h.groups[c.group]; ok {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(h.groups, c.group)
			}
		}
	}

	removed := h.registry.Remove(c.ID)
	h.gate.Release(c.Addr)

	if err := h.auditLog.Record(ctx, c.Addr, c.ID, audit.EventDisconnected); err != nil {
		slog.WarnContext(ctx, "failed to record disconnect", "conn.id", c.ID, "error", err)
	}

	if removed {
		h.broadcastExcept(ctx, c.ID, proto.EventRemovePlayer, c.ID)
		h.publisher.Publish(ctx, events.TypePlayerLeft, events.PlayerLeftPayload{PlayerID: c.ID})
	}
	slog.InfoContext(ctx, "connection closed", "conn.id", c.ID, "conn.addr", c.Addr, "was_joined", removed)
}

// sendTo enqueues one event for a single connection. A consumer whose send
// buffer is full has stalled; the frame is dropped rather than blocking the
// event loop.
func (h *Hub) sendTo(ctx context.Context, c *Client, eventType string, payload any) bool {
	msg, err := proto.NewMessage(eventType, payload)
	if err != nil {
		slog.ErrorContext(ctx, "could not build message", "event", eventType, "error", err)
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "could not marshal envelope", "event", eventType, "error", err)
		return false
	}
	return h.enqueue(ctx, c, eventType, data)
}

func (h *Hub) enqueue(ctx context.Context, c *Client, eventType string, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		slog.WarnContext(ctx, "send buffer full, dropping frame", "conn.id", c.ID, "event", eventType)
		return false
	}
}

// broadcastExcept fans an event out to every connection other than senderID.
func (h *Hub) broadcastExcept(ctx context.Context, senderID, eventType string, payload any) {
	msg, err := proto.NewMessage(eventType, payload)
	if err != nil {
		slog.ErrorContext(ctx, "could not build broadcast", "event", eventType, "error", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "could not marshal broadcast", "event", eventType, "error", err)
		return
	}
	for id, c := range h.clients {
		if id == senderID {
			continue
		}
		h.enqueue(ctx, c, eventType, data)
	}
}

// broadcastGroup multicasts to one chain-scoped group, excluding senderID.
func (h *Hub) broadcastGroup(ctx context.Context, group, senderID, eventType string, payload any) {
	members, ok := h.groups[group]
	if !ok {
		return
	}
	msg, err := proto.NewMessage(eventType, payload)
	if err != nil {
		slog.ErrorContext(ctx, "could not build group broadcast", "event", eventType, "error", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "could not marshal group broadcast", "event", eventType, "error", err)
		return
	}
	for id, c := range members {
		if id == senderID {
			continue
		}
		h.enqueue(ctx, c, eventType, data)
	}
}

// deliverTo sends one event to a single live connection and reports whether
// the recipient existed. The wire contract stays fire-and-forget; the bool is
// for server-side callers and tests.
func (h *Hub) deliverTo(ctx context.Context, toID, eventType string, payload any) bool {
	c, ok := h.clients[toID]
	if !ok {
		return false
	}
	return h.sendTo(ctx, c, eventType, payload)
}

func (h *Hub) joinGroup(group string, c *Client) {
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[c.ID] = c
	c.group = group
}

// groupName derives the broadcast-group key from a chainId attribute value.
// JSON numbers arrive as float64; %v renders integral values without a
// fraction, so chainId 137 maps to "chain:137" from any sender.
func groupName(chain any) string {
	if f, ok := chain.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("chain:%d", int64(f))
	}
	return fmt.Sprintf("chain:%v", chain)
}

func wireState(p session.PlayerState) proto.PlayerState {
	return proto.PlayerState{
		ID:         p.ID,
		X:          p.X,
		Y:          p.Y,
		LevelName:  p.LevelName,
		Attributes: p.Attributes,
	}
}
