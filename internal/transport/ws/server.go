// Package ws serves the push channels over WebSocket. A client acknowledges
// the connection with connection_init and then holds any number of
// subscriptions, each forwarding one bus feed.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/controlplane/internal/bus"
	"github.com/xiaot623/gogo/controlplane/internal/config"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *Hub
	bus      *bus.Bus
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *Hub, b *bus.Bus) *Server {
	return &Server{
		cfg: cfg,
		hub: h,
		bus: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	return s.hub.ConnectionCount()
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
// GET /v1/ws
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("failed to upgrade websocket", "error", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "connection", conn.ID, "error", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("websocket write failed", "connection", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch msg.Type {
	case TypeConnectionInit:
		conn.setAcked()
		conn.SendJSON(Message{Type: TypeConnectionAck})
	case TypePing:
		conn.SendJSON(Message{Type: TypePong})
	case TypeSubscribe:
		s.handleSubscribe(conn, msg)
	case TypeComplete:
		if cancel := conn.dropSubscription(msg.ID, ""); cancel != nil {
			cancel()
		}
	default:
		sendError(conn, msg.ID, ErrorCodeInvalidMessage, "unknown message type: "+msg.Type)
	}
}

func (s *Server) handleSubscribe(conn *Connection, msg Message) {
	if !conn.isAcked() {
		sendError(conn, msg.ID, ErrorCodeNotAcked, "must send connection_init first")
		return
	}
	if msg.ID == "" {
		sendError(conn, "", ErrorCodeInvalidMessage, "subscription id is required")
		return
	}

	var p SubscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		sendError(conn, msg.ID, ErrorCodeInvalidMessage, "invalid subscribe payload")
		return
	}

	switch p.Channel {
	case bus.ChannelEvents:
		attach(conn, msg.ID, p.Channel, s.bus.SubscribeEvents())
	case bus.ChannelEventsForRun:
		if p.RunID == "" {
			sendError(conn, msg.ID, ErrorCodeRunIDRequired, "runId is required for "+p.Channel)
			return
		}
		attach(conn, msg.ID, p.Channel, s.bus.SubscribeRunEvents(p.RunID))
	case bus.ChannelCommandsForRun:
		if p.RunID == "" {
			sendError(conn, msg.ID, ErrorCodeRunIDRequired, "runId is required for "+p.Channel)
			return
		}
		attach(conn, msg.ID, p.Channel, s.bus.SubscribeRunCommands(p.RunID))
	default:
		sendError(conn, msg.ID, ErrorCodeUnknownChannel, "unknown channel: "+p.Channel)
	}
}

// attach forwards sub to conn as subscription id until the client completes
// it, the connection closes, or the bus evicts it. Only the last case is
// reported to the client with complete.
func attach[T any](conn *Connection, id, channel string, sub *bus.Subscription[T]) {
	if !conn.addSubscription(id, sub.ID, sub.Close) {
		sub.Close()
		sendError(conn, id, ErrorCodeDuplicateID, "subscription id already in use")
		return
	}
	slog.Debug("subscription started", "connection", conn.ID, "subscription", id, "channel", channel, "key", sub.Key)

	go func() {
		for v := range sub.C() {
			msg, err := newMessage(id, TypeNext, NextPayload{Data: map[string]interface{}{channel: v}})
			if err != nil {
				slog.Error("failed to encode push message", "channel", channel, "error", err)
				continue
			}
			if err := conn.SendJSON(msg); err != nil {
				break
			}
		}
		if cancel := conn.dropSubscription(id, sub.ID); cancel != nil {
			cancel()
			conn.SendJSON(Message{ID: id, Type: TypeComplete})
		}
	}()
}

func sendError(conn *Connection, id, code, message string) {
	msg, err := newMessage(id, TypeError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	conn.SendJSON(msg)
}

func newMessage(id, typ string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: id, Type: typ, Payload: raw}, nil
}
