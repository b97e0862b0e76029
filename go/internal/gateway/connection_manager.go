package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/models"
)

// ConnectionManager manages WebSocket connections grouped into rooms
type ConnectionManager struct {
	// Connection pools organized by room
	rooms map[string]map[*Connection]bool
	mu    sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Event broadcasting, processed in order by Start
	broadcastCh chan BroadcastMessage
}

// MessageHandler receives every message a client sends.
type MessageHandler func(c *Connection, message []byte)

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Room    string
	Actor   models.Actor
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	handler MessageHandler

	// Connection metadata
	ConnectedAt time.Time
	mu          sync.Mutex
	lastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	QueueSize       int           // pending broadcasts across all rooms
	EnqueueTimeout  time.Duration // how long Broadcast waits on a full queue before evicting
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	Room         string
	Payload      any
	ConnectionID string // Optional: if set, only send to this connection
}

// Stats summarizes the open connections.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // token lists travel in one frame
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		QueueSize:       1000,
		EnqueueTimeout:  2 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.EnqueueTimeout <= 0 {
		config.EnqueueTimeout = 2 * time.Second
	}
	return &ConnectionManager{
		rooms: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.QueueSize),
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			cm.closeAll()
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and registers it in room.
func (cm *ConnectionManager) UpgradeConnection(
	w http.ResponseWriter,
	r *http.Request,
	room string,
	who models.Actor,
	handler MessageHandler,
) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		Room:        room,
		Actor:       who,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		handler:     handler,
		ConnectedAt: now,
		lastPing:    now,
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", who.ID).
		Str("room", room).
		Msg("WebSocket connection established")

	return connection, nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.rooms[conn.Room] == nil {
		cm.rooms[conn.Room] = make(map[*Connection]bool)
	}
	cm.rooms[conn.Room][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room", conn.Room).
		Int("total_connections", len(cm.rooms[conn.Room])).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.rooms[conn.Room]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)

			if len(connections) == 0 {
				delete(cm.rooms, conn.Room)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("user_id", conn.Actor.ID).
				Str("room", conn.Room).
				Msg("connection unregistered")
		}
	}
}

// Broadcast sends payload to every connection in room
func (cm *ConnectionManager) Broadcast(room string, payload any) {
	cm.enqueue(BroadcastMessage{Room: room, Payload: payload})
}

// SendToConnection queues payload for a single connection behind any broadcast already queued.
func (cm *ConnectionManager) SendToConnection(conn *Connection, payload any) {
	cm.enqueue(BroadcastMessage{Room: conn.Room, Payload: payload, ConnectionID: conn.ID})
}

// enqueue never drops a message silently. When the queue stays full past EnqueueTimeout the
// recipients are disconnected instead; clients resync from init when they reconnect.
func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
		return
	default:
	}

	timer := time.NewTimer(cm.config.EnqueueTimeout)
	defer timer.Stop()
	select {
	case cm.broadcastCh <- message:
	case <-timer.C:
		log.Warn().
			Str("room", message.Room).
			Str("connection_id", message.ConnectionID).
			Msg("broadcast queue full, disconnecting recipients")
		cm.evict(message.Room, message.ConnectionID)
	}
}

// evict unregisters the connections of room, or only connectionID when set. Their write pumps
// send a close frame and exit.
func (cm *ConnectionManager) evict(room, connectionID string) {
	cm.mu.RLock()
	var targets []*Connection
	for conn := range cm.rooms[room] {
		if connectionID == "" || conn.ID == connectionID {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		cm.unregisterConnection(conn)
	}
}

// handleBroadcast processes a broadcast message. Sends happen under the read lock so a
// concurrent unregister cannot close a Send channel mid-write.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	data, err := json.Marshal(message.Payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal payload for broadcast")
		return
	}

	var slow []*Connection
	sent := 0
	cm.mu.RLock()
	for conn := range cm.rooms[message.Room] {
		if message.ConnectionID != "" && conn.ID != message.ConnectionID {
			continue
		}
		select {
		case conn.Send <- data:
			sent++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.Actor.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("room", message.Room).
		Int("connections", sent).
		Msg("message broadcasted")
}

// ConnectionStats returns statistics about active connections
func (cm *ConnectionManager) ConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{RoomConnections: make(map[string]int, len(cm.rooms))}
	for room, connections := range cm.rooms {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[room] = len(connections)
	}
	stats.ActiveRooms = len(cm.rooms)
	return stats
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.rooms {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// LastPing is when the client last answered a ping.
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage passes a client message to the room's handler
func (c *Connection) handleClientMessage(message []byte) {
	if c.handler == nil {
		log.Debug().
			Str("connection_id", c.ID).
			Str("user_id", c.Actor.ID).
			Msg("ignoring client message")
		return
	}
	c.handler(c, message)
}
