// Package eventpublisher combines local fan-out with the cross-node relay.
package eventpublisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
)

// EventPublisher implements domain.Publisher by delivering to this node's
// pool and then forwarding to the other nodes. Local delivery decides the
// result; a relay failure only means other nodes miss the event.
type EventPublisher struct {
	local  domain.Publisher
	remote domain.Publisher
}

// New builds a publisher. remote may be nil when running a single node.
func New(local, remote domain.Publisher) *EventPublisher {
	return &EventPublisher{local: local, remote: remote}
}

func (ep *EventPublisher) Publish(ctx context.Context, env domain.Envelope) error {
	if err := ep.local.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s locally: %w", env.ID, err)
	}
	if ep.remote == nil {
		return nil
	}
	if err := ep.remote.Publish(ctx, env); err != nil {
		slog.WarnContext(ctx, "Failed to relay event to other nodes", "event_id", env.ID, "type", env.Type, "error", err)
	}
	return nil
}
