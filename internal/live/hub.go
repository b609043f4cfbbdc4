package live

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/apex-timing/internal/metrics"
)

const (
	writeWait      = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	sendBufferSize = 32
)

// Hub fans accepted-reading updates out to WebSocket subscribers grouped by
// stage. Delivery is best-effort: a subscriber whose send buffer is full
// loses the message, never stalls ingestion.
type Hub struct {
	mu     sync.RWMutex
	stages map[uuid.UUID]map[*subscriber]struct{}
	logger *logrus.Logger

	upgrader websocket.Upgrader
}

type subscriber struct {
	conn *websocket.Conn
	send chan interface{}
}

// NewHub creates a live update hub.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		stages: make(map[uuid.UUID]map[*subscriber]struct{}),
		logger: log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// Live timing is public read-only data.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish implements ingest.Notifier. It never blocks: slow subscribers are
// skipped and counted.
func (h *Hub) Publish(stageID uuid.UUID, payload interface{}) {
	h.mu.RLock()
	subs := h.stages[stageID]
	for sub := range subs {
		select {
		case sub.send <- payload:
		default:
			metrics.NotificationsDroppedTotal.Inc()
		}
	}
	h.mu.RUnlock()
}

// Subscribe upgrades the request and streams stage updates until the client
// disconnects.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, stageID uuid.UUID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := &subscriber{conn: conn, send: make(chan interface{}, sendBufferSize)}
	h.register(stageID, sub)
	h.logger.WithFields(logrus.Fields{
		"stage_id": stageID,
		"remote":   conn.RemoteAddr().String(),
	}).Debug("live subscriber connected")

	go h.writeLoop(stageID, sub)
	go h.readLoop(stageID, sub)

	return nil
}

func (h *Hub) register(stageID uuid.UUID, sub *subscriber) {
	h.mu.Lock()
	if h.stages[stageID] == nil {
		h.stages[stageID] = make(map[*subscriber]struct{})
	}
	h.stages[stageID][sub] = struct{}{}
	h.mu.Unlock()
	metrics.LiveSubscribers.Inc()
}

func (h *Hub) unregister(stageID uuid.UUID, sub *subscriber) {
	h.mu.Lock()
	subs := h.stages[stageID]
	if _, ok := subs[sub]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.stages, stageID)
		}
		metrics.LiveSubscribers.Dec()
		close(sub.send)
	}
	h.mu.Unlock()
}

// writeLoop drains the send buffer onto the socket and keeps the connection
// alive with pings.
func (h *Hub) writeLoop(stageID uuid.UUID, sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.send:
			if !ok {
				sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
				sub.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteJSON(payload); err != nil {
				h.unregister(stageID, sub)
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(stageID, sub)
				return
			}
		}
	}
}

// readLoop discards inbound frames; its job is detecting disconnects and
// answering pongs. Subscribers never send data.
func (h *Hub) readLoop(stageID uuid.UUID, sub *subscriber) {
	defer h.unregister(stageID, sub)

	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// SubscriberCount reports active subscribers for a stage.
func (h *Hub) SubscriberCount(stageID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.stages[stageID])
}

// CloseAll drops every subscriber, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for stageID, subs := range h.stages {
		for sub := range subs {
			close(sub.send)
			metrics.LiveSubscribers.Dec()
		}
		delete(h.stages, stageID)
	}
}
