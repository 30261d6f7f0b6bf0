// Package opsserver implements a push surface for live operational
// visibility: a WebSocket hub broadcasting periodic metrics snapshots
// plus liveness/readiness HTTP endpoints, used by `metrics-dump --watch`
// and any dashboard that wants to observe a running Processor without
// polling. Adapted from the teacher's consumer/websocket.go hub — kept
// instance-owned here instead of package-global so more than one
// Processor can run its own ops surface in-process (e.g. under test).
package opsserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected WebSocket subscriber.
type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans broadcast messages out to every connected client and manages
// client lifecycle via registration channels, exactly the teacher's
// WebSocketHub pattern.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	log        zerolog.Logger
}

// NewHub constructs a Hub. Call Run in its own goroutine before serving.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		log:        log.With().Str("component", "opsserver_hub").Logger(),
	}
}

// Run is the hub's event loop; blocks until done is closed.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", n).Msg("client connected")
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", n).Msg("client disconnected")
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount returns the number of currently-connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast JSON-encodes message and fans it out; a full broadcast
// buffer drops the message rather than blocking the caller.
func (h *Hub) Broadcast(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn().Msg("broadcast buffer full, message dropped")
	}
	return nil
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
