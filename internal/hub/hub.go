// Package hub provides connection management for live-feed WebSocket clients.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID         string
	ContractID string
	Conn       *websocket.Conn
	Send       chan []byte
	mu         sync.Mutex

	// closed is guarded by the hub's mutex.
	closed bool
}

// Hub manages all WebSocket connections and the contract each one follows.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Contracts maps contract_id to the set of subscribed connection IDs
	contracts map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *ContractMessage
	done       chan struct{}

	mu sync.RWMutex
}

// ContractMessage is used to broadcast a message to a contract's subscribers.
type ContractMessage struct {
	ContractID string
	Data       []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		contracts:   make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *ContractMessage, 256),
		done:        make(chan struct{}),
	}
}

// Run runs the hub's main loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			log.Printf("Connection registered: %s", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.unbindLocked(conn)
				conn.closed = true
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("Connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.contracts[msg.ContractID] {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					log.Printf("WARN: connection %s buffer full, closing", connID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection wraps ws in a Connection. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub. Unregistering twice is
// harmless.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindContract subscribes conn to contractID, replacing any previous
// subscription, and returns the contract it followed before.
func (h *Hub) BindContract(conn *Connection, contractID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.unbindLocked(conn)
	conn.ContractID = contractID
	if h.contracts[contractID] == nil {
		h.contracts[contractID] = make(map[string]bool)
	}
	h.contracts[contractID][conn.ID] = true
	return previous
}

// UnbindContract drops conn's subscription and returns the contract it
// followed, if any.
func (h *Hub) UnbindContract(conn *Connection) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unbindLocked(conn)
}

func (h *Hub) unbindLocked(conn *Connection) string {
	previous := conn.ContractID
	if previous == "" {
		return ""
	}
	if ids := h.contracts[previous]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.contracts, previous)
		}
	}
	conn.ContractID = ""
	return previous
}

// Broadcast sends data to every connection following contractID.
func (h *Hub) Broadcast(contractID string, data []byte) {
	select {
	case h.broadcast <- &ContractMessage{ContractID: contractID, Data: data}:
	case <-h.done:
	}
}

// BroadcastJSON sends a JSON message to every connection following contractID.
func (h *Hub) BroadcastJSON(contractID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(contractID, data)
	return nil
}

// SendToConnection queues data for a single connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn.closed {
		return ErrClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection queues a JSON message for a single connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetContractCount returns the number of contracts with at least one
// subscriber.
func (h *Hub) GetContractCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.contracts)
}

// HasSubscribers reports whether any connection follows contractID.
func (h *Hub) HasSubscribers(contractID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.contracts[contractID]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &SendError{reason: "send buffer full"}

// ErrClosed is returned when sending to an unregistered connection.
var ErrClosed = &SendError{reason: "connection closed"}

// SendError represents a failed queueing of an outbound message.
type SendError struct {
	reason string
}

func (e *SendError) Error() string {
	return e.reason
}
