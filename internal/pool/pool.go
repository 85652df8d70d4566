// Package pool spreads WebSocket connections over several broadcaster
// instances in one process. New connections go to the least-loaded instance;
// idle extras are retired by a periodic reaper.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/metrics"
	"github.com/muzlik-gm/Portfolio-sub000/internal/broadcast"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
)

var ErrStopped = errors.New("pool stopped")

// Instance is one broadcaster as seen by the pool.
type Instance interface {
	ID() string
	Serve(ctx context.Context, socket *websocket.Conn, token string) error
	Broadcast(env domain.Envelope)
	Stats() (broadcast.Stats, error)
	ConnectionCount() int
	Stop()
}

var _ Instance = (*broadcast.Broadcaster)(nil)

// Factory builds a running instance with the given id.
type Factory func(id string) Instance

type Config struct {
	MinInstances           int
	MaxInstances           int
	ConnectionsPerInstance int
	IdleTimeout            time.Duration
	ReapInterval           time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinInstances:           1,
		MaxInstances:           4,
		ConnectionsPerInstance: 1000,
		IdleTimeout:            5 * time.Minute,
		ReapInterval:           time.Minute,
	}
}

type member struct {
	instance  Instance
	idleSince time.Time
}

// Stats aggregates every instance.
type Stats struct {
	Instances          []broadcast.Stats `json:"instances"`
	TotalConnections   int               `json:"totalConnections"`
	TotalSubscriptions int               `json:"totalSubscriptions"`
}

type Pool struct {
	cfg     Config
	factory Factory
	clock   clockwork.Clock
	metrics *metrics.PoolMetrics

	mu      sync.Mutex
	members []*member
	nextID  int
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts MinInstances instances and the reaper.
func New(cfg Config, factory Factory, clock clockwork.Clock, poolMetrics *metrics.PoolMetrics) *Pool {
	if cfg.MinInstances < 1 {
		cfg.MinInstances = 1
	}
	if cfg.MaxInstances < cfg.MinInstances {
		cfg.MaxInstances = cfg.MinInstances
	}

	p := &Pool{
		cfg:     cfg,
		factory: factory,
		clock:   clock,
		metrics: poolMetrics,
	}
	for range cfg.MinInstances {
		p.spawnLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.reapLoop(ctx)

	return p
}

// Acquire returns the instance a new connection should be served by: the
// least-loaded one with spare capacity, a newly spawned one when all are full,
// or the least-loaded one anyway once MaxInstances is reached.
func (p *Pool) Acquire() (Instance, error) {
	// Counts are read without the lock: a slow instance must not hold up
	// other callers for longer than its own query timeout.
	loads := p.loads()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ErrStopped
	}

	var best *member
	bestCount := 0
	for _, m := range p.members {
		count, ok := loads[m]
		if !ok || count < 0 {
			// Spawned meanwhile, or unresponsive; skip it.
			continue
		}
		if best == nil || count < bestCount {
			best, bestCount = m, count
		}
	}

	if (best == nil || bestCount >= p.cfg.ConnectionsPerInstance) && len(p.members) < p.cfg.MaxInstances {
		best = p.spawnLocked()
	}
	if best == nil {
		return nil, fmt.Errorf("acquire: no responsive instance among %d", len(p.members))
	}

	best.idleSince = time.Time{}
	return best.instance, nil
}

// Broadcast hands env to every instance; subscribers may live on any of them.
func (p *Pool) Broadcast(env domain.Envelope) {
	for _, inst := range p.snapshot() {
		inst.Broadcast(env)
	}
}

// Publish implements domain.Publisher for in-process fan-out.
func (p *Pool) Publish(_ context.Context, env domain.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	p.Broadcast(env)
	return nil
}

func (p *Pool) Stats() Stats {
	var s Stats
	for _, inst := range p.snapshot() {
		is, err := inst.Stats()
		if err != nil {
			slog.Warn("Skipping instance in pool stats", "instance_id", inst.ID(), "error", err)
			continue
		}
		s.Instances = append(s.Instances, is)
		s.TotalConnections += is.Connections
		s.TotalSubscriptions += is.Subscriptions
	}
	return s
}

// Size returns the number of running instances.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// Stop halts the reaper and every instance. Safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	members := p.members
	p.members = nil
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.instance.Stop()
		}()
	}
	wg.Wait()
	p.metrics.Instances.Set(0)
	slog.Info("Pool stopped", "instances", len(members))
}

func (p *Pool) snapshot() []Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Instance, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m.instance)
	}
	return out
}

// loads returns each current member's connection count, -1 for instances
// that did not answer in time. Instances are queried outside the lock.
func (p *Pool) loads() map[*member]int {
	p.mu.Lock()
	members := append([]*member(nil), p.members...)
	p.mu.Unlock()

	out := make(map[*member]int, len(members))
	for _, m := range members {
		out[m] = m.instance.ConnectionCount()
	}
	return out
}

func (p *Pool) spawnLocked() *member {
	p.nextID++
	id := fmt.Sprintf("ws-%d", p.nextID)
	m := &member{instance: p.factory(id)}
	p.members = append(p.members, m)

	p.metrics.InstancesSpawned.Inc()
	p.metrics.Instances.Set(float64(len(p.members)))
	slog.Info("Broadcaster instance spawned", "instance_id", id, "instances", len(p.members))
	return m
}

func (p *Pool) reapLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.reap()
		}
	}
}

// reap retires instances that have had no connections for IdleTimeout,
// keeping at least MinInstances.
func (p *Pool) reap() {
	now := p.clock.Now()
	loads := p.loads()

	p.mu.Lock()
	var retired []*member
	kept := p.members[:0]
	for i, m := range p.members {
		if count, ok := loads[m]; !ok || count != 0 {
			m.idleSince = time.Time{}
			kept = append(kept, m)
			continue
		}
		if m.idleSince.IsZero() {
			m.idleSince = now
		}
		remaining := len(kept) + len(p.members) - i
		if now.Sub(m.idleSince) >= p.cfg.IdleTimeout && remaining > p.cfg.MinInstances {
			retired = append(retired, m)
			continue
		}
		kept = append(kept, m)
	}
	p.members = kept
	size := len(p.members)
	p.mu.Unlock()

	for _, m := range retired {
		m.instance.Stop()
		p.metrics.InstancesRetired.Inc()
		slog.Info("Idle broadcaster instance retired", "instance_id", m.instance.ID(), "instances", size)
	}
	p.metrics.Instances.Set(float64(size))
}
