package domain

import "context"

// Publisher accepts envelopes for fan-out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}
