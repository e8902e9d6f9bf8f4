package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/predifi/pool-ledger/internal/metrics"
	"github.com/predifi/pool-ledger/internal/model"
)

// subscriber is one connected client. A nil pool receives every event.
type subscriber struct {
	conn *websocket.Conn
	pool *uint64
}

func (s *subscriber) wants(ev *model.Event) bool {
	return s.pool == nil || (ev.PoolID != nil && *ev.PoolID == *s.pool)
}

// WSHub fans committed ledger events out to WebSocket clients. It
// implements ledger.EventSink.
type WSHub struct {
	clients    map[*websocket.Conn]*subscriber
	broadcast  chan model.Event
	register   chan *subscriber
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]*subscriber),
		broadcast:  make(chan model.Event, 256),
		register:   make(chan *subscriber),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is canceled, closing
// every client.
func (h *WSHub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return nil

		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = sub
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "total", n)

		case conn := <-h.unregister:
			h.drop(conn)

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("ws encode failed", "type", ev.Type, "err", err)
				continue
			}
			var failed []*websocket.Conn
			h.mu.RLock()
			for conn, sub := range h.clients {
				if !sub.wants(&ev) {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.drop(conn)
			}
		}
	}
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

// Publish queues a committed event for delivery. Events are dropped when
// the buffer is full so ledger calls never block on slow clients.
func (h *WSHub) Publish(ev model.Event) {
	select {
	case h.broadcast <- ev:
	default:
		slog.Warn("ws buffer full, event dropped", "type", ev.Type, "id", ev.ID)
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // CORS is enforced by the router.
	},
}

// HandleWS handles GET /api/v1/ws. ?pool_id=N limits the stream to one
// pool's events.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sub := &subscriber{}
	if v := r.URL.Query().Get("pool_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, "pool_id must be an unsigned integer", http.StatusBadRequest)
			return
		}
		sub.pool = &id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	sub.conn = conn
	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()
}
