package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"panel-service/internal/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum command frame size allowed from peer
	maxMessageSize = 4096
)

var ErrClientDisconnected = errors.New("client disconnected")

// Client is the server side of one WebSocket connection. It owns the read
// and write pumps and exposes Push as the non-blocking delivery path the
// broadcaster uses.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// identity validated at handshake time, nil for unauthenticated connects
	handshakeIdentity *auth.Identity

	ctx    context.Context
	cancel context.CancelFunc
	closed int32 // atomic flag, connection torn down

	wg sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, identity *auth.Identity) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:                uuid.New().String(),
		hub:               hub,
		conn:              conn,
		send:              make(chan []byte, 256),
		handshakeIdentity: identity,
		ctx:               ctx,
		cancel:            cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
	}
}

// Push enqueues one frame on the outbound channel. It never blocks: a full
// buffer tears the client down and reports the failure to the caller.
//
// The send channel is never closed; teardown is signaled through the client
// context. Broadcasts run on the hub loop and the gateway dispatcher
// concurrently, and a close would race a send from the other goroutine.
func (c *Client) Push(frame *PushFrame) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		slog.Warn("send buffer full, closing client", "connID", c.id)
		c.close()
		return ErrClientDisconnected
	}
}

func (c *Client) readPump() {
	c.wg.Add(1)
	defer func() {
		c.wg.Done()
		c.close()

		select {
		case c.hub.unregister <- c:
		case <-time.After(5 * time.Second):
			slog.Warn("timeout sending unregister request", "connID", c.id)
		}

		if err := c.conn.Close(); err != nil {
			slog.Debug("error closing connection", "connID", c.id, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("websocket error", "connID", c.id, "error", err)
			} else {
				slog.Debug("websocket connection closed", "connID", c.id, "error", err)
			}
			return
		}

		var frame CommandFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Malformed frames are dropped, not answered; replies carry
			// protocol semantics and a framing error has none.
			slog.Error("failed to unmarshal command frame", "connID", c.id, "error", err)
			continue
		}

		select {
		case c.hub.commands <- &clientCommand{client: c, frame: &frame}:
		case <-time.After(5 * time.Second):
			slog.Warn("timeout sending command to hub", "connID", c.id)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) writePump() {
	c.wg.Add(1)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		c.wg.Done()
		ticker.Stop()
	}()

	for {
		select {
		case data := <-c.send:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("error writing frame", "connID", c.id, "error", err)
				return
			}

		case <-ticker.C:
			if c.isClosed() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("error sending ping", "connID", c.id, "error", err)
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// ServeWS upgrades the HTTP request and hands the connection to the hub.
// identity is the result of the optional transport-level handshake; nil means
// the connection starts unauthenticated (fail open).
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade websocket connection", "error", err)
		return
	}

	client := NewClient(hub, conn, identity)
	slog.Info("new websocket connection established", "connID", client.id, "preauthenticated", identity != nil)

	select {
	case hub.register <- client:
	case <-time.After(5 * time.Second):
		slog.Error("timeout sending registration request", "connID", client.id)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
