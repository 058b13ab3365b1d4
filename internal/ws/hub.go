// Package ws fans item events out to connected WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/items"
)

const maxMessageSize = 4096

// ErrHubClosed is returned by ServeHTTP once Close has been called.
var ErrHubClosed = errors.New("websocket hub closed")

// Hub tracks live connections and broadcasts events to all of them. It
// implements http.Handler for the upgrade endpoint and items.Notifier for
// event delivery.
type Hub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration

	mu     sync.RWMutex
	conns  map[string]*Connection
	ready  chan struct{} // closed while at least one client is connected
	closed bool

	wg sync.WaitGroup
}

// NewHub creates a Hub with the heartbeat settings from cfg.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		writeWait:    cfg.WriteWait,
		conns:        make(map[string]*Connection),
		ready:        make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and holds the connection open until the
// client goes away. Client frames are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		slog.WarnContext(r.Context(), "websocket upgrade failed", "err", err)
		return
	}

	conn := newConnection(uuid.NewString(), raw, h.writeWait)
	if err := h.register(conn); err != nil {
		_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	slog.InfoContext(r.Context(), "websocket connected",
		"connection_id", conn.ID, "remote", r.RemoteAddr, "total", h.Count())

	go func() {
		defer h.wg.Done()
		h.heartbeat(conn)
	}()

	h.readLoop(conn)

	h.unregister(conn.ID)
	_ = conn.Close(websocket.CloseNormalClosure, "")
	slog.InfoContext(r.Context(), "websocket disconnected",
		"connection_id", conn.ID, "total", h.Count())
}

func (h *Hub) readLoop(conn *Connection) {
	conn.raw.SetReadLimit(maxMessageSize)
	if h.pongWait > 0 {
		_ = conn.raw.SetReadDeadline(time.Now().Add(h.pongWait))
		conn.raw.SetPongHandler(func(string) error {
			return conn.raw.SetReadDeadline(time.Now().Add(h.pongWait))
		})
	}

	for {
		if _, _, err := conn.raw.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "connection_id", conn.ID, "err", err)
			}
			return
		}
	}
}

func (h *Hub) heartbeat(conn *Connection) {
	if h.pingInterval <= 0 {
		<-conn.done
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				slog.Debug("websocket ping failed", "connection_id", conn.ID, "err", err)
				h.drop(conn)
				return
			}
		}
	}
}

func (h *Hub) register(conn *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.conns[conn.ID] = conn
	h.wg.Add(1) // heartbeat goroutine
	if len(h.conns) == 1 {
		close(h.ready)
	}
	return nil
}

func (h *Hub) unregister(id string) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[id]
	if !ok {
		return nil
	}
	delete(h.conns, id)
	if len(h.conns) == 0 && !h.closed {
		h.ready = make(chan struct{})
	}
	return conn
}

func (h *Hub) drop(conn *Connection) {
	if h.unregister(conn.ID) != nil {
		_ = conn.Close(websocket.CloseGoingAway, "")
	}
}

// Broadcast encodes ev once and writes it to every connection. Connections
// that fail to accept the write are removed and closed.
func (h *Hub) Broadcast(ctx context.Context, ev items.Event) error {
	h.mu.RLock()
	if len(h.conns) == 0 {
		h.mu.RUnlock()
		return nil
	}
	targets := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	var failed int
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			failed++
			slog.WarnContext(ctx, "removing dead websocket", "connection_id", c.ID, "err", err)
			h.drop(c)
		}
	}
	if failed > 0 {
		slog.InfoContext(ctx, "websocket broadcast incomplete",
			"type", ev.Type, "delivered", len(targets)-failed, "failed", failed)
	}
	return nil
}

// Notify implements items.Notifier.
func (h *Hub) Notify(ctx context.Context, ev items.Event) error {
	return h.Broadcast(ctx, ev)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// WaitForClients blocks until at least one client is connected. It returns
// false if ctx is done first or the hub is closed.
func (h *Hub) WaitForClients(ctx context.Context) bool {
	for {
		h.mu.RLock()
		if h.closed {
			h.mu.RUnlock()
			return false
		}
		if len(h.conns) > 0 {
			h.mu.RUnlock()
			return true
		}
		ready := h.ready
		h.mu.RUnlock()

		select {
		case <-ctx.Done():
			return false
		case <-ready:
		}
	}
}

// Close disconnects every client and rejects new upgrades. Safe to call more
// than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := h.conns
	if len(conns) == 0 {
		close(h.ready) // release WaitForClients
	}
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	h.wg.Wait()
	return nil
}
