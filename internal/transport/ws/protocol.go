package ws

import "encoding/json"

// Message types from client to server
const (
	TypeConnectionInit = "connection_init"
	TypeSubscribe      = "subscribe"
	TypePing           = "ping"
)

// Message types from server to client
const (
	TypeConnectionAck = "connection_ack"
	TypeNext          = "next"
	TypeError         = "error"
	TypePong          = "pong"
)

// TypeComplete is sent by the client to end a subscription, and by the
// server when it ends one.
const TypeComplete = "complete"

// Message is the envelope of every frame in both directions.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload selects a push channel.
type SubscribePayload struct {
	Channel string `json:"channel"`
	RunID   string `json:"runId,omitempty"`
}

// NextPayload carries one value, keyed by the channel it came from.
type NextPayload struct {
	Data map[string]interface{} `json:"data"`
}

// ErrorPayload describes why a message was rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnknownChannel = "unknown_channel"
	ErrorCodeRunIDRequired  = "run_id_required"
	ErrorCodeDuplicateID    = "duplicate_id"
	ErrorCodeNotAcked       = "connection_not_acknowledged"
)
