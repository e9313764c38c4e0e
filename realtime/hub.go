// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/metrics"
)

// Event types pushed to browsers
const (
	EventTimerUpdate            = "appointment-timer-update"
	EventDeviceUpdate           = "device-update"
	EventDeviceControlCompleted = "device-control-completed"
	EventDeviceControlFailed    = "device-control-failed"
	EventConnectionStatus       = "connection-status"
)

const (
	// DefaultBufferSize is how many undelivered events a client may hold
	// before it is dropped.
	DefaultBufferSize = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxInbound = 512
)

// Event is one realtime notification scoped to a system.
type Event struct {
	Type      string    `json:"type"`
	SystemID  string    `json:"system_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType, systemID string, payload any) Event {
	return Event{Type: eventType, SystemID: systemID, Payload: payload, Timestamp: time.Now().UTC()}
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Client is one subscriber of a system's events.
type Client struct {
	systemID string
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

// Events returns the channel of encoded events for the client.
func (c *Client) Events() <-chan []byte { return c.send }

// Done is closed when the hub drops the client.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans events out to the clients of the event's system. A client
// whose buffer is full is dropped rather than blocking the publisher.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	bufferSize int
	log        *logging.Logger
	upgrader   websocket.Upgrader
	wg         sync.WaitGroup
}

func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		bufferSize: DefaultBufferSize,
		log:        log.Named("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetBufferSize changes the per-client buffer for clients registered later.
func (h *Hub) SetBufferSize(n int) {
	h.mu.Lock()
	h.bufferSize = n
	h.mu.Unlock()
}

// Register adds a client for systemID.
func (h *Hub) Register(systemID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &Client{
		systemID: systemID,
		send:     make(chan []byte, h.bufferSize),
		done:     make(chan struct{}),
	}
	h.clients[c] = struct{}{}
	metrics.RealtimeClients.Inc()
	return c
}

// Unregister removes the client. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	metrics.RealtimeClients.Dec()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements Publisher.
func (h *Hub) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.Type, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.systemID != e.SystemID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn(ctx, "dropping slow realtime client", zap.String("system.id", c.systemID))
			h.removeLocked(c)
		}
	}
	return nil
}

// Close drops every client and waits for their websocket pumps to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// ServeWS upgrades the request and streams the system's events to it
// until either side closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, systemID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.Warn(r.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	c := h.Register(systemID)
	h.wg.Add(2)
	go h.writePump(conn, c)
	go h.readPump(conn, c)
}

// readPump discards inbound messages and notices when the browser goes away.
func (h *Hub) readPump(conn *websocket.Conn, c *Client) {
	defer h.wg.Done()
	defer h.Unregister(c)

	conn.SetReadLimit(maxInbound)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		h.wg.Done()
	}()

	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.Unregister(c)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(c)
				return
			}
		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
