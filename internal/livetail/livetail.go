// Package livetail broadcasts newly appended log entries to loopback
// WebSocket clients, for debugging the proxy without tailing the JSONL
// file by hand. It is a debug facility wrapped around the log sink, not
// part of the data plane: a slow or absent client never affects writers.
package livetail

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anthropics/local-logger/internal/schema"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isLoopbackOrigin(origin)
	},
}

func isLoopbackOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1")
}

// Hub fans out appended entries to every connected client.
type Hub struct {
	logger     *slog.Logger
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan schema.Entry
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds an idle Hub; call Run to start its dispatch loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:    logger,
		clients:   make(map[*client]bool),
		broadcast: make(chan schema.Entry, 256),
	}
}

// Publish queues entry for delivery to connected clients. Non-blocking:
// if the internal buffer is full the entry is dropped and logged.
func (h *Hub) Publish(entry schema.Entry) {
	select {
	case h.broadcast <- entry:
	default:
		h.logger.Warn("livetail: broadcast buffer full, dropping entry")
	}
}

// Run drains the broadcast channel until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return
		case entry := <-h.broadcast:
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Handler upgrades loopback requests to a WebSocket live-tail stream.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("livetail: upgrade failed", "error", err)
			return
		}
		c := &client{conn: conn, send: make(chan []byte, 64)}
		h.mu.Lock()
		h.clients[c] = true
		h.mu.Unlock()

		go h.writePump(c)
		h.readPump(c)
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
