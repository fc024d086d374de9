package ws

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
	"github.com/aussiebroadwan/rollcall/internal/attendance/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
	sendBuffer     = 64
)

var clientIDCounter atomic.Uint64

// Client is one WebSocket connection. Its subscription set is owned by the
// hub and guarded by the hub's lock.
type Client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subs    map[string]struct{}
	channel string

	userID string
	// manager clients see every student's check-in on their sessions.
	manager bool
}

func newClient(h *Hub, conn *websocket.Conn, channel, userID string, manager bool) *Client {
	return &Client{
		id:      clientIDCounter.Add(1),
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		subs:    make(map[string]struct{}),
		channel: channel,
		userID:  userID,
		manager: manager,
	}
}

// accepts reports whether ev may be shown to this client. Events about one
// student go to that student and to managers.
func (c *Client) accepts(ev domain.Event) bool {
	return ev.StudentID == "" || c.manager || ev.StudentID == c.userID
}

// enqueue must be called with the hub lock held so send is not closed
// underneath it.
func (c *Client) enqueue(typ string, data []byte) {
	select {
	case c.send <- data:
		metrics.WSMessagesSent.WithLabelValues(typ).Inc()
	default:
		metrics.WSMessagesDropped.Inc()
		c.hub.logger.Warn("client send buffer full, dropping message", "client_id", c.id, "type", typ)
	}
}

func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("unexpected websocket close", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			metrics.WSMessagesReceived.WithLabelValues("invalid").Inc()
			c.hub.sendTo(c, newMessage(TypeError, "", "Invalid message format."))
			continue
		}
		metrics.WSMessagesReceived.WithLabelValues(msg.Type).Inc()
		c.handle(msg)
	}
}

func (c *Client) handle(msg inbound) {
	sid := strings.TrimSpace(msg.SessionID)

	switch msg.Type {
	case TypePing:
		c.hub.sendTo(c, newMessage(TypePong, "", ""))

	case TypeSubscribeSession:
		if sid == "" {
			c.hub.sendTo(c, newMessage(TypeError, "", "session_id is required."))
			return
		}
		if c.hub.subscribe(c, sid) {
			c.hub.sendTo(c, newMessage(TypeSubscriptionConfirmed, sid, "Subscribed to session "+sid+"."))
		}

	case TypeUnsubscribeSession:
		if sid == "" {
			c.hub.sendTo(c, newMessage(TypeError, "", "session_id is required."))
			return
		}
		c.hub.unsubscribe(c, sid)
		c.hub.sendTo(c, newMessage(TypeUnsubscriptionConfirmed, sid, "Unsubscribed from session "+sid+"."))

	default:
		c.hub.sendTo(c, newMessage(TypeError, sid, "Unknown message type: "+msg.Type+"."))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub dropped us: shutting down or the reader already ended.
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
