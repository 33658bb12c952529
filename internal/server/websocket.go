package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Event types broadcast to WebSocket clients
const (
	EventCatalogRefreshStart    = "catalog_refresh_start"
	EventCatalogProgress        = "catalog_progress"
	EventCatalogRefreshComplete = "catalog_refresh_complete"
	EventCatalogRefreshError    = "catalog_refresh_error"
	EventSnapshotSaved          = "snapshot_saved"
)

// Event represents a WebSocket event
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *WebSocketHub
	mu   sync.Mutex
}

// WebSocketHub manages WebSocket connections and broadcasts
type WebSocketHub struct {
	clients    map[string]*WebSocketClient
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	broadcast  chan []byte
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[string]*WebSocketClient),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		broadcast:  make(chan []byte, 256),
		stop:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. It returns after Stop is called.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for _, client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Client is blocked, drop it
					close(client.Send)
					delete(h.clients, client.ID)
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for _, client := range h.clients {
				close(client.Send)
			}
			h.clients = make(map[string]*WebSocketClient)
			h.mu.Unlock()
			return
		}
	}
}

// Stop terminates the hub's event loop and disconnects all clients.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Emit broadcasts an event to all connected clients. Events are dropped
// rather than blocking when the broadcast queue is full.
func (h *WebSocketHub) Emit(eventType string, data interface{}) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(event)
	if err != nil {
		return
	}

	select {
	case h.broadcast <- bytes:
	default:
	}
}

// Register adds a new client. Clients arriving after Stop are
// disconnected immediately.
func (h *WebSocketHub) Register(client *WebSocketClient) {
	select {
	case h.register <- client:
	case <-h.stop:
		close(client.Send)
	}
}

// Unregister removes a client
func (h *WebSocketHub) Unregister(client *WebSocketClient) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *WebSocketClient) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.mu.Lock()
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}

			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-ticker.C:
			// Keepalive ping
			c.mu.Lock()
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *WebSocketClient) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}

// generateClientID generates a unique client ID
func generateClientID() string {
	return fmt.Sprintf("client-%d", time.Now().UnixNano())
}

// WebSocketUpgrader handles upgrading HTTP to WebSocket
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket handles WebSocket connection requests
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := WebSocketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &WebSocketClient{
		ID:   generateClientID(),
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  s.hub,
	}

	s.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
