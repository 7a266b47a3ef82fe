package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// errConnectionClosed is returned when sending on a closed connection.
var errConnectionClosed = errors.New("connection closed")

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn

	send   chan []byte
	hub    *Hub
	acked  bool
	closed bool
	subs   map[string]activeSub
	mu     sync.Mutex
	wmu    sync.Mutex
}

type activeSub struct {
	owner  string
	cancel func()
}

// Hub tracks open connections.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	done       chan struct{}

	sendBuffer int
	mu         sync.RWMutex
}

// NewHub creates a new Hub whose connections buffer up to sendBuffer frames.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		sendBuffer:  sendBuffer,
	}
}

// Run starts the hub's main loop. It closes every connection when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			slog.Debug("connection registered", "connection", conn.ID)

		case conn := <-h.unregister:
			h.remove(conn)

		case <-ctx.Done():
			h.mu.RLock()
			conns := make([]*Connection, 0, len(h.connections))
			for _, conn := range h.connections {
				conns = append(conns, conn)
			}
			h.mu.RUnlock()
			for _, conn := range conns {
				h.remove(conn)
				conn.Close()
			}
			return
		}
	}
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn.ID]
	delete(h.connections, conn.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	conn.shutdown()
	slog.Debug("connection unregistered", "connection", conn.ID)
}

// NewConnection wraps ws in a new connection.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		send: make(chan []byte, h.sendBuffer),
		hub:  h,
		subs: make(map[string]activeSub),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.shutdown()
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		conn.shutdown()
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// SendJSON queues a JSON frame. A connection whose buffer is full is
// unregistered.
func (c *Connection) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		slog.Warn("connection buffer full, closing", "connection", c.ID)
		go c.hub.Unregister(c)
		return ErrBufferFull
	}
}

// addSubscription records the cancel function of subscription id, owned by
// the bus subscription owner. It returns false if the id is in use or the
// connection is closed.
func (c *Connection) addSubscription(id, owner string, cancel func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.subs[id]; ok {
		return false
	}
	c.subs[id] = activeSub{owner: owner, cancel: cancel}
	return true
}

// dropSubscription forgets subscription id and returns its cancel function,
// or nil if it was not active. A non-empty owner only matches the entry it
// created, so a reused id is left alone.
func (c *Connection) dropSubscription(id, owner string) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, ok := c.subs[id]
	if !ok || (owner != "" && active.owner != owner) {
		return nil
	}
	delete(c.subs, id)
	return active.cancel
}

func (c *Connection) setAcked() {
	c.mu.Lock()
	c.acked = true
	c.mu.Unlock()
}

func (c *Connection) isAcked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked
}

// shutdown cancels all subscriptions and closes the send channel.
func (c *Connection) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]activeSub)
	close(c.send)
	c.mu.Unlock()

	for _, active := range subs {
		active.cancel()
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
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

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
