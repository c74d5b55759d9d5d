// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one connected WebSocket peer.
type Client struct {
	ID          string
	Connection  *websocket.Conn
	Send        chan []byte
	RemoteAddr  string
	ConnectedAt time.Time
}

// WebSocketHandler streams query lifecycle events to connected clients.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	eventBus *EventBus
	logger   *zap.Logger

	mutex   sync.RWMutex
	clients map[string]*Client
}

// NewWebSocketHandler creates a WebSocket handler wired to the event
// bus and starts the broadcast pump.
func NewWebSocketHandler(eventBus *EventBus, logger *zap.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The server binds to localhost by default; origin
				// enforcement belongs to the CORS layer.
				return true
			},
		},
		eventBus: eventBus,
		logger:   logger.With(zap.String("component", "websocket")),
		clients:  make(map[string]*Client),
	}

	go h.broadcastEvents()
	return h
}

// HandleEventConnection upgrades the request and streams events until
// the peer disconnects.
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 64),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	h.register(client)
	h.logger.Info("WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.readPump(client)
	go h.writePump(client)
}

// broadcastEvents forwards bus events to every connected client.
func (h *WebSocketHandler) broadcastEvents() {
	for event := range h.eventBus.Subscribe() {
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("Failed to encode event", zap.Error(err))
			continue
		}

		h.mutex.RLock()
		for _, client := range h.clients {
			select {
			case client.Send <- payload:
			default:
				// Slow client, drop the event for it.
			}
		}
		h.mutex.RUnlock()
	}
}

// readPump drains client messages to keep pong handling alive. The
// event stream is one-way; inbound payloads are discarded.
func (h *WebSocketHandler) readPump(client *Client) {
	defer h.unregister(client)

	client.Connection.SetReadLimit(512)
	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		return client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.Connection.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case payload, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Connection.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) register(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[client.ID] = client
}

func (h *WebSocketHandler) unregister(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
		client.Connection.Close()
		h.logger.Info("WebSocket client disconnected", zap.String("client_id", client.ID))
	}
}
