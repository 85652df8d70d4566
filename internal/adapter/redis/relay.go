package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/metrics"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// relayMessage is what travels on the relay channel. Node lets the sender
// skip its own messages.
type relayMessage struct {
	Node     string          `json:"node"`
	Envelope domain.Envelope `json:"envelope"`
}

// Relay shares one event stream between processes over Redis Pub/Sub.
// Publish sends to every other node; Run delivers what other nodes send to
// the local publisher.
type Relay struct {
	rdb     *goredis.Client
	channel string
	nodeID  string
	local   domain.Publisher
	metrics *metrics.RedisMetrics
}

func NewRelay(rdb *goredis.Client, prefix, nodeID string, local domain.Publisher, redisMetrics *metrics.RedisMetrics) *Relay {
	return &Relay{
		rdb:     rdb,
		channel: prefix + ":events",
		nodeID:  nodeID,
		local:   local,
		metrics: redisMetrics,
	}
}

// Channel is the Pub/Sub channel the relay uses.
func (r *Relay) Channel() string {
	return r.channel
}

func (r *Relay) Publish(ctx context.Context, env domain.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(relayMessage{Node: r.nodeID, Envelope: env})
	if err != nil {
		r.metrics.RelayErrors.Inc()
		return fmt.Errorf("marshal relay message: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.metrics.RelayErrors.Inc()
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}

	r.metrics.RelayPublished.Inc()
	return nil
}

// Run subscribes to the relay channel and blocks until ctx is cancelled.
// go-redis reconnects the subscription on its own after network errors.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	slog.Info("Event relay subscribed", "channel", r.channel, "node_id", r.nodeID)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, payload string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.metrics.RelayErrors.Inc()
		slog.Warn("Dropping undecodable relay message", "error", err)
		return
	}
	if msg.Node == r.nodeID {
		return
	}

	r.metrics.RelayReceived.Inc()
	if err := r.local.Publish(ctx, msg.Envelope); err != nil {
		r.metrics.RelayErrors.Inc()
		slog.Warn("Dropping relayed envelope", "event_id", msg.Envelope.ID, "from_node", msg.Node, "error", err)
	}
}
