package client

import (
	"slices"
	"sync"

	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
)

// Item pairs a received envelope with its typed payload.
type Item[T domain.Payload] struct {
	Envelope domain.Envelope
	Data     T
}

// Buffer keeps the most recent envelopes of selected types whose payload is a T.
type Buffer[T domain.Payload] struct {
	limit int
	types []domain.EventType

	mu    sync.Mutex
	items []Item[T]
}

// Watch attaches a buffer holding up to limit envelopes. With no types it
// watches every event type of T's domain.
func Watch[T domain.Payload](c *Client, limit int, types ...domain.EventType) *Buffer[T] {
	if len(types) == 0 {
		var zero T
		types = domain.EventTypesIn(zero.Domain())
	}
	if limit <= 0 {
		limit = 100
	}
	b := &Buffer[T]{limit: limit, types: types}
	c.addHandler(b.add)
	return b
}

func AnalyticsEvents(c *Client, limit int) *Buffer[domain.AnalyticsData] {
	return Watch[domain.AnalyticsData](c, limit)
}

func ContentEvents(c *Client, limit int) *Buffer[domain.ContentData] {
	return Watch[domain.ContentData](c, limit)
}

func UserEvents(c *Client, limit int) *Buffer[domain.UserData] {
	return Watch[domain.UserData](c, limit)
}

func SettingsEvents(c *Client, limit int) *Buffer[domain.SettingsData] {
	return Watch[domain.SettingsData](c, limit)
}

func ProjectEvents(c *Client, limit int) *Buffer[domain.ProjectData] {
	return Watch[domain.ProjectData](c, limit)
}

func SystemEvents(c *Client, limit int) *Buffer[domain.SystemData] {
	return Watch[domain.SystemData](c, limit)
}

func (b *Buffer[T]) add(env domain.Envelope) {
	if !slices.Contains(b.types, env.Type) {
		return
	}
	data, ok := env.Data.(T)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, Item[T]{Envelope: env, Data: data})
	if over := len(b.items) - b.limit; over > 0 {
		b.items = slices.Delete(b.items, 0, over)
	}
}

// Items returns a copy, oldest first.
func (b *Buffer[T]) Items() []Item[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.items)
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Buffer[T]) Latest() (Item[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return Item[T]{}, false
	}
	return b.items[len(b.items)-1], true
}

func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
}
