package main

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/scheduler"
)

const maxWSConnections = 200

// StatusHub manages WebSocket subscribers to the live scheduler status
// feed. A single broadcaster ticker serves every client.
type StatusHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	manager    *scheduler.Manager
	log        zerolog.Logger
}

// NewStatusHub creates a hub bound to the scheduler manager.
func NewStatusHub(mgr *scheduler.Manager, log zerolog.Logger) *StatusHub {
	return &StatusHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		manager:    mgr,
		log:        log,
	}
}

// Run is the hub's main loop: it admits and removes clients and pushes a
// status snapshot every second until the context is cancelled.
func (h *StatusHub) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				h.log.Warn().Int("max", maxWSConnections).Msg("websocket connection rejected, hub full")
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("total", total).Msg("websocket client registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("total", total).Msg("websocket client unregistered")

		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *StatusHub) broadcast() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	status := h.manager.GetStatus()
	for conn := range h.clients {
		// Write deadline so a dead connection cannot stall the broadcast.
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(status); err != nil {
			h.log.Debug().Err(err).Msg("websocket write failed")
			go h.Unregister(conn)
		}
	}
}

func (h *StatusHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log.Info().Int("clients", len(h.clients)).Msg("shutting down websocket hub")
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a client connection.
func (h *StatusHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *StatusHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
