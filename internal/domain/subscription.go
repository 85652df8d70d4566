package domain

import (
	"fmt"
	"slices"
)

// Filter narrows a subscription. A zero Filter matches everything.
type Filter struct {
	UserID string `json:"userId,omitempty"`
}

// Matches reports whether env passes the filter.
func (f Filter) Matches(env Envelope) bool {
	if f.UserID != "" && f.UserID != env.UserID {
		return false
	}
	return true
}

// Subscription is a client-declared interest in one or more event types.
type Subscription struct {
	ID         string      `json:"id"`
	EventTypes []EventType `json:"eventTypes"`
	Filter     Filter      `json:"filters"`
}

// Validate requires an id and a non-empty list of known event types.
func (s Subscription) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSubscription)
	}
	if len(s.EventTypes) == 0 {
		return fmt.Errorf("%w: at least one event type is required", ErrInvalidSubscription)
	}
	for _, t := range s.EventTypes {
		if !t.Valid() {
			return fmt.Errorf("%w: %w: %q", ErrInvalidSubscription, ErrUnknownEventType, t)
		}
	}
	return nil
}

// Covers reports whether t is one of the subscription's event types.
func (s Subscription) Covers(t EventType) bool {
	return slices.Contains(s.EventTypes, t)
}
