package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/metrics"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/muzlik-gm/Portfolio-sub000/internal/protocol"
)

const (
	commandTimeout     = 5 * time.Second  // Actor command timeout
	stopTimeout        = 10 * time.Second // Graceful shutdown timeout
	commandChannelSize = 256
	eventSource        = "broadcaster"
)

var (
	ErrStopped    = errors.New("broadcaster stopped")
	ErrAtCapacity = errors.New("broadcaster at capacity")
	ErrTimeout    = errors.New("broadcaster command timed out")
)

// Config tunes one broadcaster instance.
type Config struct {
	InstanceID               string
	HeartbeatInterval        time.Duration
	HeartbeatTimeoutMultiple int
	MaxConnections           int
}

// DefaultConfig pings every 30s and evicts sockets silent for a minute.
func DefaultConfig() Config {
	return Config{
		InstanceID:               "main",
		HeartbeatInterval:        30 * time.Second,
		HeartbeatTimeoutMultiple: 2,
		MaxConnections:           1000,
	}
}

func (c Config) heartbeatTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.HeartbeatTimeoutMultiple)
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	InstanceID    string `json:"instanceId"`
	Connections   int    `json:"connections"`
	Subscriptions int    `json:"subscriptions"`
	IndexedTypes  int    `json:"indexedTypes"`
}

// broadcasterCmd is the command interface for the Broadcaster actor.
type broadcasterCmd interface{ isBroadcasterCmd() }

type baseBroadcasterCmd struct{}

func (baseBroadcasterCmd) isBroadcasterCmd() {}

type registerCmd struct {
	baseBroadcasterCmd
	connection   *connection
	errorChannel chan error
}

type unregisterCmd struct {
	baseBroadcasterCmd
	connection *connection
}

type subscribeCmd struct {
	baseBroadcasterCmd
	connection   *connection
	subscription domain.Subscription
}

type unsubscribeCmd struct {
	baseBroadcasterCmd
	connection     *connection
	subscriptionID string
}

type touchCmd struct {
	baseBroadcasterCmd
	connection *connection
}

type broadcastCmd struct {
	baseBroadcasterCmd
	envelope domain.Envelope
	data     []byte
}

type statsCmd struct {
	baseBroadcasterCmd
	eventType    domain.EventType
	replyChannel chan statsReply
}

type statsReply struct {
	stats       Stats
	subscribers int
}

type stopCmd struct {
	baseBroadcasterCmd
}

// Broadcaster manages authenticated WebSocket connections, their
// subscriptions, and fans envelopes out to matching subscribers.
type Broadcaster struct {
	cfg      Config
	verifier domain.TokenVerifier
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics

	cmdCh    chan broadcasterCmd
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the run goroutine.
	connections map[*connection]struct{}
	index       subscriptionIndex
}

// NewBroadcaster creates a broadcaster and starts its loop.
// verifier authenticates tokens at connect time.
func NewBroadcaster(cfg Config, verifier domain.TokenVerifier, clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics) *Broadcaster {
	b := &Broadcaster{
		cfg:         cfg,
		verifier:    verifier,
		clock:       clock,
		metrics:     wsMetrics,
		cmdCh:       make(chan broadcasterCmd, commandChannelSize),
		done:        make(chan struct{}),
		connections: make(map[*connection]struct{}),
		index:       make(subscriptionIndex),
	}
	go b.run()
	return b
}

// ID returns the instance identifier.
func (b *Broadcaster) ID() string {
	return b.cfg.InstanceID
}

// Broadcast validates env and fans it out. Invalid envelopes are logged and
// dropped; nothing is returned to the caller.
func (b *Broadcaster) Broadcast(env domain.Envelope) {
	if err := env.Validate(); err != nil {
		slog.Warn("Dropping invalid envelope", "instance_id", b.cfg.InstanceID, "event_type", string(env.Type), "error", err)
		b.metrics.EventsDropped.WithLabelValues("invalid").Inc()
		return
	}

	data, err := protocol.EncodeEvent(env)
	if err != nil {
		slog.Error("Failed to marshal envelope", "event_type", string(env.Type), "error", err)
		b.metrics.EventsDropped.WithLabelValues("marshal").Inc()
		return
	}

	b.metrics.EventsBroadcast.WithLabelValues(string(env.Type.Domain())).Inc()
	b.send(broadcastCmd{envelope: env, data: data})
}

// Stats returns registry counts. Returns ErrTimeout if the loop is stuck.
func (b *Broadcaster) Stats() (Stats, error) {
	reply, err := b.query("")
	return reply.stats, err
}

// ConnectionCount returns the number of registered connections, or -1 on timeout.
func (b *Broadcaster) ConnectionCount() int {
	reply, err := b.query("")
	if err != nil {
		return -1
	}
	return reply.stats.Connections
}

// SubscriberCount returns how many connections the index holds for t.
func (b *Broadcaster) SubscriberCount(t domain.EventType) int {
	reply, err := b.query(t)
	if err != nil {
		return -1
	}
	return reply.subscribers
}

func (b *Broadcaster) query(t domain.EventType) (statsReply, error) {
	replyCh := make(chan statsReply, 1)

	// One timeout covers both the enqueue and the reply, so a loop that is
	// stuck with a full command channel cannot block the caller.
	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case b.cmdCh <- statsCmd{eventType: t, replyChannel: replyCh}:
	case <-b.done:
		return statsReply{}, ErrStopped
	case <-timer.Chan():
		slog.Warn("Stats query not accepted in time", "instance_id", b.cfg.InstanceID, "timeout", commandTimeout)
		return statsReply{}, ErrTimeout
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-b.done:
		return statsReply{}, ErrStopped
	case <-timer.Chan():
		slog.Warn("Stats query timed out", "instance_id", b.cfg.InstanceID, "timeout", commandTimeout)
		return statsReply{}, ErrTimeout
	}
}

// Stop closes every connection with a going-away frame and waits for the
// loop to exit, bounded by a timeout. Safe to call more than once.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.send(stopCmd{})

		timeout := b.clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-b.done:
			slog.Info("Broadcaster stopped gracefully", "instance_id", b.cfg.InstanceID)
		case <-timeout.Chan():
			slog.Warn("Broadcaster stop timeout exceeded", "instance_id", b.cfg.InstanceID, "timeout", stopTimeout)
		}
	})
}

// send delivers cmd to the loop unless it has exited.
func (b *Broadcaster) send(cmd broadcasterCmd) bool {
	select {
	case b.cmdCh <- cmd:
		return true
	case <-b.done:
		return false
	}
}

func (b *Broadcaster) register(conn *connection) error {
	errCh := make(chan error, 1)
	if !b.send(registerCmd{connection: conn, errorChannel: errCh}) {
		return ErrStopped
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-b.done:
		return ErrStopped
	case <-timer.Chan():
		return fmt.Errorf("register: %w after %v", ErrTimeout, commandTimeout)
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)

	// Panic recovery wrapper
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "instance_id", b.cfg.InstanceID, "panic", r)
			b.metrics.Panics.Inc()
			b.closeAll(websocket.CloseInternalServerErr, "broadcaster failure")
		}
	}()

	heartbeat := b.clock.NewTicker(b.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case cmd := <-b.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				b.handleRegister(c)
			case unregisterCmd:
				b.removeConnection(c.connection, "disconnected")
			case subscribeCmd:
				b.handleSubscribe(c)
			case unsubscribeCmd:
				b.handleUnsubscribe(c)
			case touchCmd:
				if _, ok := b.connections[c.connection]; ok {
					c.connection.lastSeen = b.clock.Now()
				}
			case broadcastCmd:
				b.handleBroadcast(c)
			case statsCmd:
				c.replyChannel <- statsReply{stats: b.stats(), subscribers: len(b.index[c.eventType])}
			case stopCmd:
				b.handleStop()
				return
			default:
				slog.Warn("Broadcaster received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-heartbeat.Chan():
			b.handleHeartbeat()
		}
	}
}

func (b *Broadcaster) handleRegister(c registerCmd) {
	if b.cfg.MaxConnections > 0 && len(b.connections) >= b.cfg.MaxConnections {
		slog.Warn("Rejecting client: max connections reached", "instance_id", b.cfg.InstanceID, "max_connections", b.cfg.MaxConnections)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity")
		_ = c.connection.socket.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeDeadline))
		_ = c.connection.socket.Close()
		c.errorChannel <- fmt.Errorf("%w (%d connections)", ErrAtCapacity, b.cfg.MaxConnections)
		return
	}

	conn := c.connection
	conn.writer = newClientWriter(conn.socket)
	conn.lastSeen = b.clock.Now()
	b.connections[conn] = struct{}{}
	b.metrics.ActiveConnections.Inc()

	if welcome, err := protocol.EncodeEvent(b.welcomeEnvelope(conn)); err == nil {
		conn.writer.enqueue(welcome)
	} else {
		slog.Error("Failed to marshal welcome envelope", "error", err)
	}

	slog.Debug("Client registered",
		"instance_id", b.cfg.InstanceID,
		"connection_id", conn.id,
		"user_id", conn.identity.UserID,
		"total_clients", len(b.connections),
	)
	c.errorChannel <- nil
}

func (b *Broadcaster) handleSubscribe(c subscribeCmd) {
	conn := c.connection
	if _, ok := b.connections[conn]; !ok {
		return
	}

	// Re-subscribing with a known id replaces the old subscription.
	if old, ok := conn.subscriptions[c.subscription.ID]; ok {
		b.dropSubscription(conn, old)
	}

	conn.subscriptions[c.subscription.ID] = c.subscription
	for _, t := range c.subscription.EventTypes {
		b.index.add(t, conn)
	}
	b.metrics.ActiveSubscriptions.Inc()

	b.reply(conn, protocol.TypeSubscribed, protocol.SubscribedPayload{
		SubscriptionID: c.subscription.ID,
		EventTypes:     c.subscription.EventTypes,
	})

	slog.Debug("Subscription added",
		"connection_id", conn.id,
		"subscription_id", c.subscription.ID,
		"event_types", c.subscription.EventTypes,
	)
}

func (b *Broadcaster) handleUnsubscribe(c unsubscribeCmd) {
	conn := c.connection
	if _, ok := b.connections[conn]; !ok {
		return
	}

	sub, ok := conn.subscriptions[c.subscriptionID]
	if !ok {
		b.sendError(conn, "unknown_subscription", fmt.Errorf("subscription %q not found", c.subscriptionID))
		return
	}

	b.dropSubscription(conn, sub)
	b.reply(conn, protocol.TypeUnsubscribed, protocol.UnsubscribedPayload{SubscriptionID: sub.ID})
	slog.Debug("Subscription removed", "connection_id", conn.id, "subscription_id", sub.ID)
}

// dropSubscription removes sub from the connection and from the index in one
// step. An event type stays indexed while another subscription still covers it.
func (b *Broadcaster) dropSubscription(conn *connection, sub domain.Subscription) {
	delete(conn.subscriptions, sub.ID)
	for _, t := range sub.EventTypes {
		if !conn.covers(t) {
			b.index.remove(t, conn)
		}
	}
	b.metrics.ActiveSubscriptions.Dec()
}

func (b *Broadcaster) handleBroadcast(c broadcastCmd) {
	subscribers := b.index[c.envelope.Type]
	if len(subscribers) == 0 {
		return
	}

	delivered := 0
	for conn := range subscribers {
		if !conn.wants(c.envelope) {
			continue
		}
		if !conn.writer.enqueue(c.data) {
			slog.Warn("Dropping event for slow client",
				"connection_id", conn.id,
				"event_id", c.envelope.ID,
				"event_type", string(c.envelope.Type),
			)
			b.metrics.EventsDropped.WithLabelValues("slow_client").Inc()
			continue
		}
		delivered++
	}

	b.metrics.EventsDelivered.Add(float64(delivered))
}

func (b *Broadcaster) handleHeartbeat() {
	b.metrics.CommandChannelDepth.Set(float64(len(b.cmdCh)))

	now := b.clock.Now()
	timeout := b.cfg.heartbeatTimeout()

	for conn := range b.connections {
		if silent := now.Sub(conn.lastSeen); silent > timeout {
			slog.Info("Terminating unresponsive client",
				"instance_id", b.cfg.InstanceID,
				"connection_id", conn.id,
				"silent_for", silent,
			)
			b.metrics.HeartbeatTerminations.Inc()
			b.removeConnection(conn, "heartbeat timeout")
			continue
		}
		conn.writer.ping()
	}
}

// removeConnection destroys the record and every index entry pointing at it.
func (b *Broadcaster) removeConnection(conn *connection, reason string) {
	if _, ok := b.connections[conn]; !ok {
		return
	}

	b.index.removeConnection(conn)
	b.metrics.ActiveSubscriptions.Sub(float64(len(conn.subscriptions)))
	delete(b.connections, conn)
	b.metrics.ActiveConnections.Dec()
	conn.writer.stop()

	slog.Debug("Client unregistered",
		"instance_id", b.cfg.InstanceID,
		"connection_id", conn.id,
		"reason", reason,
		"remaining_clients", len(b.connections),
	)
}

func (b *Broadcaster) handleStop() {
	total := len(b.connections)
	slog.Info("Broadcaster shutting down", "instance_id", b.cfg.InstanceID, "total_clients", total)

	b.closeAll(websocket.CloseGoingAway, "server shutting down")

	slog.Info("Broadcaster shutdown complete", "instance_id", b.cfg.InstanceID, "disconnected_clients", total)
}

// closeAll closes every connection with the given close code and reason.
// Used during panic recovery and graceful shutdown.
func (b *Broadcaster) closeAll(code int, reason string) {
	for conn := range b.connections {
		conn.writer.stopGraceful(code, reason)
		b.metrics.ActiveSubscriptions.Sub(float64(len(conn.subscriptions)))
		b.metrics.ActiveConnections.Dec()
		delete(b.connections, conn)
	}
	b.index = make(subscriptionIndex)
}

func (b *Broadcaster) stats() Stats {
	subs := 0
	for conn := range b.connections {
		subs += len(conn.subscriptions)
	}
	return Stats{
		InstanceID:    b.cfg.InstanceID,
		Connections:   len(b.connections),
		Subscriptions: subs,
		IndexedTypes:  len(b.index),
	}
}

func (b *Broadcaster) reply(conn *connection, msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		slog.Error("Failed to marshal reply", "type", msgType, "error", err)
		return
	}
	conn.writer.enqueue(data)
}

// sendError reports a problem to one client as a system.error envelope.
// Called from both the loop and reader goroutines; it only touches the writer.
func (b *Broadcaster) sendError(conn *connection, code string, cause error) {
	env := domain.Envelope{
		ID:   uuid.NewString(),
		Type: domain.SystemError,
		Data: domain.SystemData{
			Status:    "error",
			Component: eventSource,
			Code:      code,
			Message:   cause.Error(),
		},
		Timestamp: b.clock.Now(),
		Source:    eventSource,
		UserID:    conn.identity.UserID,
		Priority:  domain.PriorityHigh,
	}
	data, err := protocol.EncodeEvent(env)
	if err != nil {
		slog.Error("Failed to marshal error envelope", "error", err)
		return
	}
	conn.writer.enqueue(data)
}

func (b *Broadcaster) welcomeEnvelope(conn *connection) domain.Envelope {
	return domain.Envelope{
		ID:   uuid.NewString(),
		Type: domain.SystemHealthCheck,
		Data: domain.SystemData{
			Status:    "connected",
			Component: eventSource,
			Message:   "Connected to live updates",
			Details: map[string]any{
				"connectionId": conn.id,
				"instanceId":   b.cfg.InstanceID,
			},
		},
		Timestamp: b.clock.Now(),
		Source:    eventSource,
		UserID:    conn.identity.UserID,
		Priority:  domain.PriorityLow,
	}
}
