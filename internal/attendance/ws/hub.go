// Package ws is the realtime side of the attendance server: a hub that fans
// domain events out to WebSocket clients subscribed to a session.
package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
	"github.com/aussiebroadwan/rollcall/internal/attendance/metrics"
)

const broadcastBuffer = 256

// Hub owns every connected client and the session subscription index. Run
// must be running for events to be delivered.
type Hub struct {
	logger    *slog.Logger
	broadcast chan domain.Event

	mu       sync.RWMutex
	stopped  bool
	clients  map[*Client]struct{}
	sessions map[string]map[*Client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:    logger.With("component", "ws-hub"),
		broadcast: make(chan domain.Event, broadcastBuffer),
		clients:   make(map[*Client]struct{}),
		sessions:  make(map[string]map[*Client]struct{}),
	}
}

// Run delivers published events until ctx is cancelled, then closes every
// client and refuses new ones.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n := h.closeAll()
			h.logger.Info("websocket hub stopped", "clients_closed", n)
			return ctx.Err()
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// Publish queues ev for delivery. It never blocks; when the queue is full
// the event is dropped and counted.
func (h *Hub) Publish(ev domain.Event) {
	select {
	case h.broadcast <- ev:
	default:
		metrics.WSMessagesDropped.Inc()
		h.logger.Warn("broadcast queue full, dropping event", "type", ev.Type, "session_id", ev.SessionID)
	}
}

// ClientCount is the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount is the number of clients subscribed to sessionID.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// join registers c. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnectionsActive.Inc()
	h.logger.Info("websocket client connected", "client_id", c.id, "user_id", c.userID, "channel", c.channel, "total_clients", n)
	return true
}

func (h *Hub) leave(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	h.dropLocked(c)
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnectionsActive.Dec()
	h.logger.Info("websocket client disconnected", "client_id", c.id, "user_id", c.userID, "total_clients", n)
}

// dropLocked forgets c and closes its send queue. h.mu must be held.
func (h *Hub) dropLocked(c *Client) {
	for sid := range c.subs {
		h.unindexLocked(c, sid)
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) unindexLocked(c *Client, sessionID string) {
	subs := h.sessions[sessionID]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.sessions, sessionID)
	}
	delete(c.subs, sessionID)
	metrics.WSSubscriptionsActive.Dec()
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	n := len(h.clients)
	for c := range h.clients {
		h.dropLocked(c)
		metrics.WSConnectionsActive.Dec()
	}
	return n
}

// subscribe adds c to sessionID. It reports false when c is no longer
// registered.
func (h *Hub) subscribe(c *Client, sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	if _, already := c.subs[sessionID]; already {
		return true
	}

	subs := h.sessions[sessionID]
	if subs == nil {
		subs = make(map[*Client]struct{})
		h.sessions[sessionID] = subs
	}
	subs[c] = struct{}{}
	c.subs[sessionID] = struct{}{}
	metrics.WSSubscriptionsActive.Inc()
	return true
}

func (h *Hub) unsubscribe(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := c.subs[sessionID]; ok {
		h.unindexLocked(c, sessionID)
	}
}

func (h *Hub) deliver(ev domain.Event) {
	data, err := json.Marshal(messageFromEvent(ev))
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.sessions[ev.SessionID] {
		if !c.accepts(ev) {
			continue
		}
		c.enqueue(ev.Type, data)
	}
}

// sendTo queues msg for c if it is still registered.
func (h *Hub) sendTo(c *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.enqueue(msg.Type, data)
	}
}
