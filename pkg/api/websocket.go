package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tcmartin/botrunner/pkg/execution"
	"github.com/tcmartin/botrunner/pkg/models"
)

// WebSocketManager manages WebSocket connections for real-time
// execution updates. It implements execution.Notifier so the state
// machine can push status changes and log entries as they happen.
type WebSocketManager struct {
	// upgrader for upgrading HTTP connections to WebSocket
	upgrader websocket.Upgrader

	// connections maps execution IDs to sets of WebSocket connections
	connections map[string]map[*websocket.Conn]bool

	// connectionMeta stores metadata for each connection
	connectionMeta map[*websocket.Conn]*ConnectionMetadata

	// writeMu serializes writes per connection
	writeMu map[*websocket.Conn]*sync.Mutex

	// mutex for thread-safe access
	mu sync.RWMutex

	// machine for access checks on subscribe
	machine *execution.StateMachine
}

// ConnectionMetadata stores metadata about a WebSocket connection
type ConnectionMetadata struct {
	UserID        string
	ConnectedAt   time.Time
	Subscriptions map[string]bool // execution IDs this connection is subscribed to
}

// ExecutionUpdate represents a real-time update for an execution
type ExecutionUpdate struct {
	Type        string               `json:"type"` // "status", "log"
	ExecutionID string               `json:"execution_id"`
	Timestamp   time.Time            `json:"timestamp"`
	Status      *models.Execution    `json:"status,omitempty"`
	Log         *models.ExecutionLog `json:"log,omitempty"`
}

// WebSocketMessage represents incoming WebSocket messages
type WebSocketMessage struct {
	Type        string `json:"type"` // "subscribe", "unsubscribe", "ping"
	ExecutionID string `json:"execution_id,omitempty"`
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(machine *execution.StateMachine) *WebSocketManager {
	return &WebSocketManager{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Browsers hit this from the app origin; tighten in deployments
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections:    make(map[string]map[*websocket.Conn]bool),
		connectionMeta: make(map[*websocket.Conn]*ConnectionMetadata),
		writeMu:        make(map[*websocket.Conn]*sync.Mutex),
		machine:        machine,
	}
}

// HandleWebSocket handles WebSocket connection upgrade and management
func (wsm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := wsm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	wsm.mu.Lock()
	wsm.connectionMeta[conn] = &ConnectionMetadata{
		UserID:        userID,
		ConnectedAt:   time.Now(),
		Subscriptions: make(map[string]bool),
	}
	wsm.writeMu[conn] = &sync.Mutex{}
	wsm.mu.Unlock()

	defer wsm.dropConnection(conn)

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "subscribe":
			wsm.subscribe(conn, userID, msg.ExecutionID)
		case "unsubscribe":
			wsm.unsubscribe(conn, msg.ExecutionID)
		case "ping":
			wsm.send(conn, map[string]string{"type": "pong"})
		}
	}
}

// NotifyStatus pushes a status change to all subscribers of the execution
func (wsm *WebSocketManager) NotifyStatus(exec models.Execution) {
	status := exec
	wsm.broadcast(exec.ID, ExecutionUpdate{
		Type:        "status",
		ExecutionID: exec.ID,
		Timestamp:   time.Now().UTC(),
		Status:      &status,
	})
}

// NotifyLog pushes a log entry to all subscribers of the execution
func (wsm *WebSocketManager) NotifyLog(entry models.ExecutionLog) {
	wsm.broadcast(entry.ExecutionID, ExecutionUpdate{
		Type:        "log",
		ExecutionID: entry.ExecutionID,
		Timestamp:   time.Now().UTC(),
		Log:         &entry,
	})
}

// subscribe adds the connection to an execution's subscriber set. The
// execution must exist and belong to the connecting user.
func (wsm *WebSocketManager) subscribe(conn *websocket.Conn, userID, executionID string) {
	exec, err := wsm.machine.Get(executionID)
	if err != nil || exec.UserID != userID {
		wsm.send(conn, map[string]string{
			"type":  "error",
			"error": "execution not found",
		})
		return
	}

	wsm.mu.Lock()
	if wsm.connections[executionID] == nil {
		wsm.connections[executionID] = make(map[*websocket.Conn]bool)
	}
	wsm.connections[executionID][conn] = true
	if meta, ok := wsm.connectionMeta[conn]; ok {
		meta.Subscriptions[executionID] = true
	}
	wsm.mu.Unlock()

	wsm.send(conn, map[string]string{
		"type":         "subscribed",
		"execution_id": executionID,
	})
}

// unsubscribe removes the connection from an execution's subscriber set
func (wsm *WebSocketManager) unsubscribe(conn *websocket.Conn, executionID string) {
	wsm.mu.Lock()
	if conns, ok := wsm.connections[executionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(wsm.connections, executionID)
		}
	}
	if meta, ok := wsm.connectionMeta[conn]; ok {
		delete(meta.Subscriptions, executionID)
	}
	wsm.mu.Unlock()
}

// broadcast sends an update to every subscriber of an execution
func (wsm *WebSocketManager) broadcast(executionID string, update ExecutionUpdate) {
	wsm.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(wsm.connections[executionID]))
	for conn := range wsm.connections[executionID] {
		conns = append(conns, conn)
	}
	wsm.mu.RUnlock()

	for _, conn := range conns {
		wsm.send(conn, update)
	}
}

// send writes one JSON message, serialized per connection
func (wsm *WebSocketManager) send(conn *websocket.Conn, payload interface{}) {
	wsm.mu.RLock()
	mu := wsm.writeMu[conn]
	wsm.mu.RUnlock()
	if mu == nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(payload); err != nil {
		log.Printf("WebSocket write failed: %v", err)
	}
}

// dropConnection removes all state for a closed connection
func (wsm *WebSocketManager) dropConnection(conn *websocket.Conn) {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()

	if meta, ok := wsm.connectionMeta[conn]; ok {
		for executionID := range meta.Subscriptions {
			if conns, ok := wsm.connections[executionID]; ok {
				delete(conns, conn)
				if len(conns) == 0 {
					delete(wsm.connections, executionID)
				}
			}
		}
	}
	delete(wsm.connectionMeta, conn)
	delete(wsm.writeMu, conn)
}
