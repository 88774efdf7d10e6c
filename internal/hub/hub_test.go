package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gridvale/internal/admission"
	"gridvale/internal/session"
	"gridvale/pkg/proto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{}

func (fakeConn) WriteMessage(int, []byte) error    { return nil }
func (fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, nil }
func (fakeConn) Close() error                      { return nil }

func newTestHub() *Hub {
	gate := admission.NewController(admission.TrustList{
		MaxConnectionsPerIP:       100,
		MaxConnectionsWhitelisted: 100,
	})
	return NewHub(session.NewRegistry(), gate, nil, nil)
}

// connect registers a client the way the Run loop would, minus the goroutine,
// so handler tests stay single-threaded and deterministic.
func connect(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	c := NewClient(id, "1.2.3.4", fakeConn{})
	h.clients[c.ID] = c
	return c
}

func send(h *Hub, c *Client, frame string) {
	h.dispatch(context.Background(), c, []byte(frame))
}

// recv pops the next queued frame for c, failing the test if none is waiting.
func recv(t *testing.T, c *Client) proto.Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg proto.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	default:
		t.Fatalf("no frame queued for %s", c.ID)
		return proto.Message{}
	}
}

// drain discards everything queued so far, so tests can assert on frames
// produced after the join phase only.
func drain(clients ...*Client) {
	for _, c := range clients {
		for len(c.send) > 0 {
			<-c.send
		}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame for %s: %s", c.ID, data)
	default:
	}
}

func TestJoinSnapshotAndNewPlayerFanout(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")

	send(h, a, `{"type":"join","payload":{"x":320,"y":262}}`)

	// A receives a snapshot containing only itself, verbatim.
	msg := recv(t, a)
	require.Equal(t, proto.EventCurrentPlayers, msg.Type)
	var snap map[string]proto.PlayerState
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	require.Len(t, snap, 1)
	assert.Equal(t, 320, snap["A"].X)
	assert.Equal(t, 262, snap["A"].Y)
	assert.Equal(t, session.DefaultLevelName, snap["A"].LevelName)

	b := connect(t, h, "B")
	send(h, b, `{"type":"join","payload":{}}`)

	// B's snapshot includes A's just-submitted state and B itself.
	msg = recv(t, b)
	require.Equal(t, proto.EventCurrentPlayers, msg.Type)
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	require.Len(t, snap, 2)
	assert.Equal(t, 320, snap["A"].X)
	assert.Equal(t, 262, snap["A"].Y)

	// A hears about B through a newPlayer event.
	msg = recv(t, a)
	require.Equal(t, proto.EventNewPlayer, msg.Type)
	var np proto.PlayerState
	require.NoError(t, json.Unmarshal(msg.Payload, &np))
	assert.Equal(t, "B", np.ID)
	assert.Equal(t, session.DefaultSpawnX, np.X)
	assert.Equal(t, session.DefaultSpawnY, np.Y)
}

func TestMoveBroadcastSkipsSender(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	send(h, a, `{"type":"join","payload":{}}`)
	send(h, b, `{"type":"join","payload":{}}`)
	drain(a, b)

	send(h, a, `{"type":"move","payload":{"x":400,"y":300}}`)

	msg := recv(t, b)
	require.Equal(t, proto.EventPlayerMoved, msg.Type)
	var mv proto.PlayerMovedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &mv))
	assert.Equal(t, "A", mv.ID)
	assert.Equal(t, 400, mv.X)
	assert.Equal(t, 300, mv.Y)

	// The sender never hears its own move echoed back.
	assertNoFrame(t, a)

	p, _ := h.registry.Get("A")
	assert.Equal(t, 400, p.X)
	assert.Equal(t, 300, p.Y)
}

func TestMoveWithMissingCoordinateIsNoop(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	send(h, a, `{"type":"join","payload":{"x":10,"y":20}}`)
	send(h, b, `{"type":"join","payload":{}}`)
	drain(a, b)

	send(h, a, `{"type":"move","payload":{"x":400}}`)

	assertNoFrame(t, b)
	p, _ := h.registry.Get("A")
	assert.Equal(t, 10, p.X)
	assert.Equal(t, 20, p.Y)
}

func TestMoveBeforeJoinIsNoop(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	send(h, a, `{"type":"move","payload":{"x":1,"y":2}}`)
	assert.Equal(t, 0, h.registry.Len())
}

func TestAttributeUpdatesMergeLastWriteWins(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	send(h, a, `{"type":"join","payload":{}}`)
	send(h, b, `{"type":"join","payload":{}}`)
	drain(a, b)

	send(h, a, `{"type":"playerDataUpdated","payload":{"attributes":{"address":"0xabc"}}}`)
	send(h, a, `{"type":"playerDataUpdated","payload":{"attributes":{"chainId":137}}}`)

	// Neither update erases the other in the registry.
	p, _ := h.registry.Get("A")
	assert.Equal(t, "0xabc", p.Attributes["address"])
	assert.Equal(t, float64(137), p.Attributes["chainId"])

	// The second broadcast carries the merged full map, not just the delta.
	recv(t, b)
	msg := recv(t, b)
	require.Equal(t, proto.EventDataUpdated, msg.Type)
	var du proto.DataUpdatedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &du))
	assert.Equal(t, "A", du.ID)
	assert.Equal(t, "0xabc", du.Attributes["address"])
	assert.Equal(t, float64(137), du.Attributes["chainId"])
}

func TestChangeLevelBroadcast(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	send(h, a, `{"type":"join","payload":{}}`)
	send(h, b, `{"type":"join","payload":{}}`)
	drain(a, b)

	send(h, a, `{"type":"changeLevel","payload":{"levelName":"dungeon"}}`)

	msg := recv(t, b)
	require.Equal(t, proto.EventPlayerLevelChanged, msg.Type)
	var lc proto.ChangeLevelPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &lc))
	assert.Equal(t, "A", lc.ID)
	assert.Equal(t, "dungeon", lc.LevelName)

	p, _ := h.registry.Get("A")
	assert.Equal(t, "dungeon", p.LevelName)
}

func TestPrivateMessageRestampsSender(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	send(h, a, `{"type":"join","payload":{}}`)
	send(h, b, `{"type":"join","payload":{}}`)
	drain(a, b)

	// A forges "from"; the relay must overwrite it with A's true id.
	send(h, a, `{"type":"privateMessage","payload":{"to":"B","type":"CHAT_MESSAGE","message":"hi","from":"forged"}}`)

	msg := recv(t, b)
	require.Equal(t, "CHAT_MESSAGE", msg.Type)
	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &body))
	assert.Equal(t, "A", body["from"])
	assert.Equal(t, "hi", body["message"])
	assert.NotContains(t, body, "to")

	assertNoFrame(t, a)
}

func TestPrivateMessageUnknownRecipientIsDropped(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	send(h, a, `{"type":"join","payload":{}}`)
	recv(t, a)

	send(h, a, `{"type":"privateMessage","payload":{"to":"ghost","type":"CHAT_MESSAGE","message":"hi"}}`)

	// Fire-and-forget: the sender gets no failure signal.
	assertNoFrame(t, a)
}

func TestDisconnectCleanupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newTestHub()
	require.NoError(t, h.gate.Admit(ctx, "1.2.3.4"))

	a := connect(t, h, "A")
	b := connect(t, h, "B")
	send(h, a, `{"type":"join","payload":{}}`)
	send(h, b, `{"type":"join","payload":{}}`)
	drain(a, b)

	h.handleDisconnect(ctx, a)
	h.handleDisconnect(ctx, a)

	assert.Equal(t, 1, h.registry.Len())
	assert.Empty(t, h.gate.Counts())

	// Peers hear exactly one removePlayer carrying the bare id.
	msg := recv(t, b)
	require.Equal(t, proto.EventRemovePlayer, msg.Type)
	var id string
	require.NoError(t, json.Unmarshal(msg.Payload, &id))
	assert.Equal(t, "A", id)
	assertNoFrame(t, b)
}

func TestRegistryTracksJoinedConnectionsOnly(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	connect(t, h, "C") // connected, never joins

	send(h, a, `{"type":"join","payload":{}}`)
	send(h, b, `{"type":"join","payload":{}}`)
	assert.Equal(t, 2, h.registry.Len())

	h.handleDisconnect(context.Background(), a)
	assert.Equal(t, 1, h.registry.Len())
}

func TestChatRoomIsScopedToChainGroup(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	c := connect(t, h, "C")
	send(h, a, `{"type":"join","payload":{"attributes":{"chainId":137}}}`)
	send(h, b, `{"type":"join","payload":{"attributes":{"chainId":137}}}`)
	send(h, c, `{"type":"join","payload":{}}`)
	drain(a, b, c)

	send(h, a, `{"type":"chat:room","payload":{"text":"gm"}}`)

	msg := recv(t, b)
	require.Equal(t, proto.EventChatRoom, msg.Type)
	var chat proto.ChatPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &chat))
	assert.Equal(t, "A", chat.From)
	assert.Equal(t, "chain:137", chat.Room)
	assert.Equal(t, "gm", chat.Text)

	assertNoFrame(t, c)
	assertNoFrame(t, a)
}

func TestChatPublicFansOutToAllOthers(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	send(h, a, `{"type":"join","payload":{}}`)
	send(h, b, `{"type":"join","payload":{}}`)
	drain(a, b)

	send(h, a, `{"type":"chat:public","payload":{"text":"hello all"}}`)

	msg := recv(t, b)
	require.Equal(t, proto.EventChatPublic, msg.Type)
	assertNoFrame(t, a)
}

func TestRunAssignsConnectionIdentity(t *testing.T) {
	h := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := NewClient("A", "1.2.3.4", fakeConn{})
	h.Attach(c)

	select {
	case data := <-c.send:
		var msg proto.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		require.Equal(t, proto.EventConnected, msg.Type)
		var p proto.ConnectedPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		assert.Equal(t, "A", p.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connect frame")
	}
}
