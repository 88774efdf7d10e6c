package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 10 * time.Second
	sendBufferSize    = 32
)

// Conn abstracts the websocket connection so tests can substitute fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Client is one live connection as the hub sees it. ID is the opaque
// connection identity; Addr is the resolved source address stashed at
// admission time so disconnect can symmetrically release the quota slot.
type Client struct {
	ID   string
	Addr string

	conn  Conn
	send  chan []byte
	group string

	closeOnce sync.Once
}

// NewClient wraps an admitted connection.
func NewClient(id, addr string, conn Conn) *Client {
	return &Client{
		ID:   id,
		Addr: addr,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ReadPump pumps frames from the connection into the hub's inbound channel.
// It owns the detach: any read error, including a normal close, tears the
// connection down exactly once.
func (c *Client) ReadPump(h *Hub) {
	defer func() {
		c.conn.Close()
		h.Detach(c)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("connection read error", "conn.id", c.ID, "error", err)
			}
			return
		}
		h.inbound <- inboundFrame{client: c, data: data}
	}
}

// WritePump drains the send buffer onto the connection and keeps the peer
// alive with pings. It exits when the hub closes the send channel or a write
// fails; the read pump then observes the dead connection and detaches.
func (c *Client) WritePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Warn("connection write error", "conn.id", c.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
