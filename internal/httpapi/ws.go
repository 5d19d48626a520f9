package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendDepth  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The surface is read-only; any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one streamed message: a fresh composite or a fired alert.
type Event struct {
	Type      string      `json:"type"` // composite, alert
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans composite and alert events out to websocket subscribers. Slow
// clients are dropped rather than allowed to stall the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// BroadcastComposite streams a fused composite row.
func (h *Hub) BroadcastComposite(row *domain.CompositeScore) {
	h.broadcast(Event{Type: "composite", Timestamp: time.Now().UTC(), Payload: NewConfluenceResponse(row)})
}

// BroadcastAlert streams a fired alert.
func (h *Hub) BroadcastAlert(a domain.Alert) {
	h.broadcast(Event{Type: "alert", Timestamp: time.Now().UTC(), Payload: a})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Buffer full; the writer will notice the closed channel and exit.
			go h.drop(c)
		}
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Serve handles GET /ws, upgrading and attaching the subscriber.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan Event, wsSendDepth)}
	h.add(c)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop pushes events and pings until the client is dropped.
func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readLoop discards inbound frames; its only job is detecting disconnects.
func (h *Hub) readLoop(c *wsClient) {
	defer h.drop(c)
	c.conn.SetReadLimit(1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run keeps the hub alive until the context ends, then closes all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}
