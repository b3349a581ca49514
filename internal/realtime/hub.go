package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"papertrade/internal/metrics"
	"papertrade/internal/models"
)

// writeWait bounds a single write; a client that stops reading is dropped
// once it elapses.
var writeWait = 10 * time.Second

type MessageType string

const (
	MessageMarket       MessageType = "market"
	MessageValuation    MessageType = "valuation"
	MessageNotification MessageType = "notification"
)

type Envelope struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*sync.Mutex)}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send writes one envelope to a single client.
func (h *Hub) Send(conn *websocket.Conn, t MessageType, data any) error {
	h.mu.RLock()
	writeMu, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(Envelope{Type: t, Data: data})
}

func (h *Hub) Broadcast(t MessageType, data any) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.RUnlock()

	for _, conn := range clients {
		if err := h.Send(conn, t, data); err != nil {
			h.RemoveClient(conn)
		}
	}
}

// Notify pushes a user-facing notification to every client.
func (h *Hub) Notify(n models.Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	h.Broadcast(MessageNotification, n)
}
