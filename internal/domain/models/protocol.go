package models

import (
	"fmt"
	"time"
)

// MessageType discriminates subscriber protocol frames. The set is closed;
// dispatch must switch over every constant and reject anything else.
type MessageType string

const (
	MessageConnection    MessageType = "connection"
	MessageSubscribe     MessageType = "subscribe"
	MessageConfirmed     MessageType = "subscription_confirmed"
	MessagePing          MessageType = "ping"
	MessagePong          MessageType = "pong"
	MessageStatus        MessageType = "status"
	MessageStockUpdates  MessageType = "stock_updates"
	MessageError         MessageType = "error"
)

// ParseMessageType validates a client-supplied type string.
func ParseMessageType(s string) (MessageType, error) {
	switch t := MessageType(s); t {
	case MessageConnection, MessageSubscribe, MessageConfirmed,
		MessagePing, MessagePong, MessageStatus, MessageStockUpdates, MessageError:
		return t, nil
	default:
		return "", fmt.Errorf("unknown message type %q", s)
	}
}

// ClientMessage is the inbound frame envelope.
type ClientMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"` // subscribe: symbols or ["all"]
}

// ConnectionMessage is sent once after handshake.
type ConnectionMessage struct {
	Type       MessageType `json:"type"`
	ClientID   string      `json:"client_id"`
	ServerTime time.Time   `json:"server_time"`
}

// ConfirmedMessage acknowledges a subscribe.
type ConfirmedMessage struct {
	Type    MessageType `json:"type"`
	Symbols []string    `json:"symbols"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type MessageType `json:"type"`
}

// StatusMessage carries a health snapshot to the client.
type StatusMessage struct {
	Type     MessageType    `json:"type"`
	Snapshot HealthSnapshot `json:"snapshot"`
}

// StockUpdate is one prediction record inside a stock_updates frame.
type StockUpdate struct {
	Symbol     string    `json:"symbol"`
	Predicted  []float64 `json:"predicted"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Session    string    `json:"session,omitempty"`
	Cached     bool      `json:"cached"`
}

// StockUpdatesMessage is the broadcast payload.
type StockUpdatesMessage struct {
	Type    MessageType   `json:"type"`
	Updates []StockUpdate `json:"updates"`
}

// ErrorMessage reports a per-client failure without closing the stream.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// NewStockUpdates wraps prediction results for the wire.
func NewStockUpdates(results ...*PredictionResult) StockUpdatesMessage {
	updates := make([]StockUpdate, 0, len(results))
	for _, r := range results {
		updates = append(updates, StockUpdate{
			Symbol:     r.Symbol,
			Predicted:  r.Predicted,
			Confidence: r.Confidence,
			Timestamp:  r.GeneratedAt,
			Session:    r.Session,
			Cached:     r.Cached,
		})
	}
	return StockUpdatesMessage{Type: MessageStockUpdates, Updates: updates}
}
