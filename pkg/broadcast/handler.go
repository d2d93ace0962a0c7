package broadcast

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"salon/pkg/proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served from the same origin in production; dev tooling
	// connects cross-origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and registers the client. Query parameters:
// room scopes the subscription to one room, client pins the client id so a
// reconnect replaces the old socket.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	id := proto.ClientID(r.URL.Query().Get("client"))
	if id == "" {
		id = proto.ClientID(uuid.NewString())
	}
	c := &client{
		id:     id,
		roomID: proto.RoomID(r.URL.Query().Get("room")),
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
	}

	if err := h.add(c); err != nil {
		_ = conn.Close()
		return
	}
	h.logger.Debug("client %s connected (room=%q)", c.id, c.roomID)

	go c.writePump()
	go h.readPump(c)
}

// readPump consumes the socket until it closes. Clients talk to the server
// over the HTTP API; inbound text frames only refresh the read deadline.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.logger.Debug("client %s disconnected: %v", c.id, err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
