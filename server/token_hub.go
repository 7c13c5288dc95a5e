package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"nodebench/internal/eventbus"
)

// Websocket message types
const (
	MessageTypeToken = "token"
	MessageTypePing  = "ping"
)

// WebSocketMessage is the envelope for messages sent over the token stream
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// TokenHub mirrors every event published on the node's token bus to all
// connected websocket clients, so a browser can watch generation live while
// a benchmark runs.
type TokenHub struct {
	bus      *eventbus.Bus
	upgrader websocket.Upgrader

	mutex sync.Mutex
	conns map[*websocket.Conn]bool
	stop  func()
}

// NewTokenHub creates a hub observing bus.
func NewTokenHub(bus *eventbus.Bus) *TokenHub {
	return &TokenHub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]bool),
	}
}

// Run starts mirroring bus events to clients until Stop is called.
func (h *TokenHub) Run() {
	events, cancel := h.bus.Observe(256)
	h.mutex.Lock()
	h.stop = cancel
	h.mutex.Unlock()

	go func() {
		for event := range events {
			h.broadcast(WebSocketMessage{
				Type:      MessageTypeToken,
				Timestamp: time.Now(),
				Data:      event,
			})
		}
	}()
}

// Stop detaches the hub from the bus and closes all client connections.
func (h *TokenHub) Stop() {
	h.mutex.Lock()
	stop := h.stop
	h.stop = nil
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]bool)
	h.mutex.Unlock()

	if stop != nil {
		stop()
	}
}

// ServeWS upgrades the request and registers the connection for broadcasts
func (h *TokenHub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		AppLogger.Error("Websocket upgrade failed: %v", err)
		return
	}

	h.mutex.Lock()
	h.conns[conn] = true
	h.mutex.Unlock()

	AppLogger.Info("Websocket client connected (%d total)", h.clientCount())

	// Reader loop: we never expect client messages, but reading detects
	// disconnects and consumes control frames.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *TokenHub) clientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.conns)
}

func (h *TokenHub) drop(conn *websocket.Conn) {
	h.mutex.Lock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		conn.Close()
	}
	h.mutex.Unlock()
}

func (h *TokenHub) broadcast(message WebSocketMessage) {
	h.mutex.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mutex.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(message); err != nil {
			h.drop(conn)
		}
	}
}
