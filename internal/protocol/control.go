package protocol

import (
	"fmt"

	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
)

// Control is a parsed and validated client message.
type Control interface{ isControl() }

type baseControl struct{}

func (baseControl) isControl() {}

type Subscribe struct {
	baseControl
	Subscription domain.Subscription
}

type Unsubscribe struct {
	baseControl
	SubscriptionID string
}

type Ping struct{ baseControl }

type Auth struct{ baseControl }

// ParseControl decodes and validates a client message. newID supplies a
// subscription id when the client did not send one.
func ParseControl(raw []byte, newID func() string) (Control, error) {
	msg, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	switch msg.Type {
	case TypeSubscribe:
		var p SubscribePayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		sub := domain.Subscription{ID: p.ID, EventTypes: p.EventTypes}
		if sub.ID == "" {
			sub.ID = newID()
		}
		if p.Filters != nil {
			sub.Filter = *p.Filters
		}
		if err := sub.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return Subscribe{Subscription: sub}, nil

	case TypeUnsubscribe:
		var p UnsubscribePayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		if p.SubscriptionID == "" {
			return nil, fmt.Errorf("%w: subscriptionId is required", ErrInvalidPayload)
		}
		return Unsubscribe{SubscriptionID: p.SubscriptionID}, nil

	case TypePing:
		return Ping{}, nil

	case TypeAuth:
		return Auth{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
}
