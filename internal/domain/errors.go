package domain

import "errors"

var (
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrUnknownPriority     = errors.New("unknown priority")
	ErrInvalidEnvelope     = errors.New("invalid envelope")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrPayloadMismatch     = errors.New("payload does not match event type")
	ErrMissingToken        = errors.New("missing auth token")
	ErrInvalidToken        = errors.New("invalid auth token")
	ErrNotAdmin            = errors.New("identity is not an admin")
)
