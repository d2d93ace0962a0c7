// Package broadcast pushes server events to WebSocket clients. The hub owns
// the client table; the executor side turns broadcast effects into frames on
// per-client send queues. A client that cannot keep up is dropped.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"salon/pkg/effect"
	"salon/pkg/logx"
	"salon/pkg/metrics"
	"salon/pkg/proto"
)

const (
	// sendQueueSize bounds the per-client outbox. A full queue marks the
	// client dead.
	sendQueueSize = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// client is one connected WebSocket peer.
type client struct {
	id     proto.ClientID
	roomID proto.RoomID // empty subscribes to every room
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

// Hub is the client table plus the broadcast executor.
type Hub struct {
	logger *logx.Logger

	// Metrics, when set, tracks the connected client gauge.
	Metrics *metrics.Recorder

	mu      sync.RWMutex
	clients map[proto.ClientID]*client
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		logger:  logx.NewLogger("broadcast"),
		clients: make(map[proto.ClientID]*client),
	}
}

// Execute runs one broadcast effect.
func (h *Hub) Execute(_ context.Context, eff effect.Effect) error {
	switch ef := eff.(type) {
	case effect.BroadcastToRoom:
		h.broadcast(ef.RoomID, ef.Event)
		return nil
	case effect.BroadcastToAll:
		h.broadcast("", ef.Event)
		return nil
	case effect.SendToClient:
		h.sendTo(ef.ClientID, ef.Event)
		return nil
	default:
		return fmt.Errorf("unknown broadcast effect: %s", eff.EffectKind())
	}
}

// broadcast frames the event once and fans it out. A room-scoped event goes
// to clients in that room and to clients subscribed to everything; an
// unscoped event goes to everyone.
func (h *Hub) broadcast(roomID proto.RoomID, ev proto.Event) {
	frame, err := json.Marshal(ev.Frame())
	if err != nil {
		h.logger.Error("cannot frame event %s: %v", ev.Type, err)
		return
	}

	var dead []*client
	h.mu.RLock()
	for _, c := range h.clients {
		if roomID != "" && c.roomID != "" && c.roomID != roomID {
			continue
		}
		if !c.enqueue(frame) {
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		h.logger.Warn("dropping slow client %s", c.id)
		h.remove(c)
	}
}

// sendTo delivers an event to a single client; unknown ids are dropped, the
// client may have disconnected while the reply was in flight.
func (h *Hub) sendTo(id proto.ClientID, ev proto.Event) {
	frame, err := json.Marshal(ev.Frame())
	if err != nil {
		h.logger.Error("cannot frame event %s: %v", ev.Type, err)
		return
	}

	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if !c.enqueue(frame) {
		h.remove(c)
	}
}

// Subscribe registers an in-process client without a socket. Frames arrive on
// the returned channel; cancel unregisters it and closes the channel. Used by
// HTTP handlers that wait for a reply routed through SEND_TO_CLIENT.
func (h *Hub) Subscribe(id proto.ClientID, roomID proto.RoomID) (<-chan []byte, func(), error) {
	c := &client{
		id:     id,
		roomID: roomID,
		send:   make(chan []byte, sendQueueSize),
	}
	if err := h.add(c); err != nil {
		return nil, nil, err
	}
	return c.send, func() { h.remove(c) }, nil
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and rejects new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[proto.ClientID]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("hub is shut down")
	}
	if old, ok := h.clients[c.id]; ok {
		// Reconnect with the same id replaces the old socket.
		go old.close()
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	if h.Metrics != nil {
		h.Metrics.SetWSClients(n)
	}
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	n := len(h.clients)
	h.mu.Unlock()
	c.close()

	if h.Metrics != nil {
		h.Metrics.SetWSClients(n)
	}
}

// enqueue queues a frame without blocking; false means the client is dead or
// too slow.
func (c *client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings. Exits when the queue closes or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
