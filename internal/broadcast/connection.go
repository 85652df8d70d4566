package broadcast

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
)

// connection is the registry record for one authenticated socket.
// Only the broadcaster goroutine reads or mutates subscriptions and lastSeen.
type connection struct {
	id            string
	identity      domain.Identity
	socket        *websocket.Conn
	writer        *clientWriter
	subscriptions map[string]domain.Subscription
	lastSeen      time.Time
}

func newConnection(id string, identity domain.Identity, socket *websocket.Conn) *connection {
	return &connection{
		id:            id,
		identity:      identity,
		socket:        socket,
		subscriptions: make(map[string]domain.Subscription),
	}
}

// wants reports whether any subscription covering env.Type accepts env.
func (c *connection) wants(env domain.Envelope) bool {
	for _, sub := range c.subscriptions {
		if sub.Covers(env.Type) && sub.Filter.Matches(env) {
			return true
		}
	}
	return false
}

// covers reports whether any remaining subscription still names t.
func (c *connection) covers(t domain.EventType) bool {
	for _, sub := range c.subscriptions {
		if sub.Covers(t) {
			return true
		}
	}
	return false
}

// subscriptionIndex maps an event type to the connections interested in it.
// It holds references only; the registry owns the records.
type subscriptionIndex map[domain.EventType]map[*connection]struct{}

func (idx subscriptionIndex) add(t domain.EventType, c *connection) {
	set, ok := idx[t]
	if !ok {
		set = make(map[*connection]struct{})
		idx[t] = set
	}
	set[c] = struct{}{}
}

func (idx subscriptionIndex) remove(t domain.EventType, c *connection) {
	set, ok := idx[t]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(idx, t)
	}
}

// removeConnection drops c from every set it appears in.
func (idx subscriptionIndex) removeConnection(c *connection) {
	for _, sub := range c.subscriptions {
		for _, t := range sub.EventTypes {
			idx.remove(t, c)
		}
	}
}
