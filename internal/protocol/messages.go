// Package protocol defines the live-feed WebSocket messages exchanged with
// dashboard clients.
package protocol

import "github.com/thaveesi/blackRabbit/internal/domain"

// Message types from client to dashboard
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Message types from dashboard to client
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeEvents       = "events"
	TypeError        = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type       string `json:"type"`
	Ts         int64  `json:"ts,omitempty"`
	ContractID string `json:"contract_id,omitempty"`
}

// SubscribeMessage asks to follow one contract's events.
type SubscribeMessage struct {
	BaseMessage
}

// SubscribedMessage acknowledges a subscription.
type SubscribedMessage struct {
	BaseMessage
}

// EventsMessage carries a contract's full, current event list.
type EventsMessage struct {
	BaseMessage
	Events []domain.Event `json:"events"`
}

// ErrorMessage is sent when a client message cannot be served.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnavailable    = "unavailable"
)
