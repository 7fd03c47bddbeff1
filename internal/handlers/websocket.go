package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // ops tooling connects cross-origin in development
	},
}

// wsEnvelope is the wire format for broadcast events.
type wsEnvelope struct {
	Type             string      `json:"type"`
	ServerInstanceID string      `json:"server_instance_id"`
	Timestamp        time.Time   `json:"timestamp"`
	Payload          interface{} `json:"payload,omitempty"`
}

// WebSocketHandler streams pipeline events to connected ops clients. Each
// connection gets its own write mutex (gorilla connections allow one
// concurrent writer); transition broadcasts share a rate limiter so a retry
// storm cannot flood clients. The server instance id lets clients detect a
// restart and resync.
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	events           interfaces.EventService
	throttler        *rate.Limiter
	allowedEvents    map[string]bool // empty = allow all
	serverInstanceID string
}

// NewWebSocketHandler creates the event stream handler and subscribes it to
// the pipeline event bus.
func NewWebSocketHandler(events interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		events:           events,
		allowedEvents:    make(map[string]bool),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		if config.ThrottlePerSecond > 0 {
			h.throttler = rate.NewLimiter(rate.Limit(config.ThrottlePerSecond), 1)
		}
	}

	return h
}

// SubscribeToPipelineEvents wires the handler into the event bus. Called once
// during app startup, after all services exist.
func (h *WebSocketHandler) SubscribeToPipelineEvents() error {
	types := []interfaces.EventType{
		interfaces.EventCommentReceived,
		interfaces.EventPipelineTransition,
		interfaces.EventMediaAnalyzed,
		interfaces.EventReplySent,
		interfaces.EventCommentFailed,
	}
	for _, eventType := range types {
		et := eventType
		if err := h.events.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(string(et), event.Payload)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// HandleWebSocket handles GET /ws connection upgrades.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	// Greet with the instance id so the client can detect restarts.
	h.send(conn, wsEnvelope{
		Type:             "connected",
		ServerInstanceID: h.serverInstanceID,
		Timestamp:        time.Now().UTC(),
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Drain client messages to keep the connection alive; clients only
	// listen.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			break
		}
	}
}

// broadcast fans an event out to every connected client, subject to the
// whitelist and the shared throttle. Slow or broken clients are dropped on
// write failure, not waited on.
func (h *WebSocketHandler) broadcast(eventType string, payload interface{}) {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
		return
	}
	if h.throttler != nil && eventType == string(interfaces.EventPipelineTransition) && !h.throttler.Allow() {
		return
	}

	envelope := wsEnvelope{
		Type:             eventType,
		ServerInstanceID: h.serverInstanceID,
		Timestamp:        time.Now().UTC(),
		Payload:          payload,
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.send(conn, envelope)
	}
}

// send writes one envelope under the connection's write mutex.
func (h *WebSocketHandler) send(conn *websocket.Conn, envelope wsEnvelope) {
	h.mu.RLock()
	connMu, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	connMu.Lock()
	err := conn.WriteJSON(envelope)
	connMu.Unlock()

	if err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket write failed; dropping client")
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}
}

// ClientCount reports connected clients, for the status endpoint.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
