// Package protocol defines the JSON messages exchanged over the event socket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
)

// Client to server message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypeAuth        = "auth"
)

// Server to client message types.
const (
	TypeEvent        = "event"
	TypePong         = "pong"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
)

// Application close codes sent when the handshake fails.
const (
	CloseAuthRequired = 4001
	CloseAuthInvalid  = 4003
)

var (
	ErrMalformed          = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidPayload     = errors.New("invalid payload")
)

// Message is the outer frame of every socket message.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	ID         string             `json:"id,omitempty"`
	EventTypes []domain.EventType `json:"eventTypes"`
	Filters    *domain.Filter     `json:"filters,omitempty"`
}

type UnsubscribePayload struct {
	SubscriptionID string `json:"subscriptionId"`
}

type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type SubscribedPayload struct {
	SubscriptionID string             `json:"subscriptionId"`
	EventTypes     []domain.EventType `json:"eventTypes"`
}

type UnsubscribedPayload struct {
	SubscriptionID string `json:"subscriptionId"`
}

// IsAuthClose reports whether code is one of the handshake rejection codes.
func IsAuthClose(code int) bool {
	return code == CloseAuthRequired || code == CloseAuthInvalid
}

// Encode wraps payload in a Message of the given type.
func Encode(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		raw = b
	}

	data, err := json.Marshal(Message{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", msgType, err)
	}
	return data, nil
}

// EncodeEvent frames env as an event message.
func EncodeEvent(env domain.Envelope) ([]byte, error) {
	return Encode(TypeEvent, env)
}

// EncodePong frames a pong carrying ts.
func EncodePong(ts time.Time) ([]byte, error) {
	return Encode(TypePong, PongPayload{Timestamp: ts})
}

// Decode parses the outer frame only.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return msg, nil
}

// DecodePayload unmarshals the message payload into v.
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s payload is required", ErrInvalidPayload, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}
