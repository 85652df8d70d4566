package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope describes one occurrence broadcast to subscribers. Treat it as a
// value: it is never mutated after construction.
type Envelope struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Data      Payload   `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	UserID    string    `json:"userId,omitempty"`
	Priority  Priority  `json:"priority"`
}

type envelopeJSON struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	UserID    string          `json:"userId,omitempty"`
	Priority  Priority        `json:"priority"`
}

// UnmarshalJSON decodes data into the concrete payload for the envelope's type.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	data, err := DecodePayload(raw.Type, raw.Data)
	if err != nil {
		return err
	}

	*e = Envelope{
		ID:        raw.ID,
		Type:      raw.Type,
		Data:      data,
		Timestamp: raw.Timestamp,
		Source:    raw.Source,
		UserID:    raw.UserID,
		Priority:  raw.Priority,
	}
	return nil
}

// Validate checks the envelope against the event schema.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEnvelope)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if !e.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPriority, e.Priority)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEnvelope)
	}
	if e.Data == nil {
		return fmt.Errorf("%w: data is required", ErrInvalidEnvelope)
	}
	if e.Data.Domain() != e.Type.Domain() {
		return fmt.Errorf("%w: %s data for %s", ErrPayloadMismatch, e.Data.Domain(), e.Type)
	}
	return nil
}

