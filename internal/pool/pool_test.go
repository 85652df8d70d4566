package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/metrics"
	"github.com/muzlik-gm/Portfolio-sub000/internal/broadcast"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct {
	id string

	// When set, ConnectionCount signals querying and waits for release.
	querying chan struct{}
	release  chan struct{}

	mu          sync.Mutex
	connections int
	received    []domain.Envelope
	stopped     bool
}

func (f *fakeInstance) ID() string { return f.id }

func (f *fakeInstance) Serve(context.Context, *websocket.Conn, string) error { return nil }

func (f *fakeInstance) Broadcast(env domain.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, env)
}

func (f *fakeInstance) Stats() (broadcast.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return broadcast.Stats{}, broadcast.ErrStopped
	}
	return broadcast.Stats{InstanceID: f.id, Connections: f.connections, Subscriptions: f.connections * 2}, nil
}

func (f *fakeInstance) ConnectionCount() int {
	if f.release != nil {
		f.querying <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return -1
	}
	return f.connections
}

func (f *fakeInstance) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeInstance) setConnections(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections = n
}

func (f *fakeInstance) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeFactory struct {
	mu        sync.Mutex
	instances []*fakeInstance
}

func (ff *fakeFactory) build(id string) Instance {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	inst := &fakeInstance{id: id}
	ff.instances = append(ff.instances, inst)
	return inst
}

func (ff *fakeFactory) get(i int) *fakeInstance {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.instances[i]
}

func testPool(t *testing.T, cfg Config, clock clockwork.Clock) (*Pool, *fakeFactory, *metrics.PoolMetrics) {
	t.Helper()
	ff := &fakeFactory{}
	m := metrics.NewPoolMetrics(prometheus.NewRegistry())
	p := New(cfg, ff.build, clock, m)
	t.Cleanup(p.Stop)
	return p, ff, m
}

func smallConfig() Config {
	return Config{
		MinInstances:           1,
		MaxInstances:           3,
		ConnectionsPerInstance: 2,
		IdleTimeout:            5 * time.Minute,
		ReapInterval:           24 * time.Hour,
	}
}

func TestNew_StartsMinInstances(t *testing.T) {
	cfg := smallConfig()
	cfg.MinInstances = 2
	p, ff, m := testPool(t, cfg, clockwork.NewFakeClock())

	assert.Equal(t, 2, p.Size())
	assert.Equal(t, "ws-1", ff.get(0).ID())
	assert.Equal(t, "ws-2", ff.get(1).ID())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Instances))
}

func TestNew_ClampsConfig(t *testing.T) {
	p, _, _ := testPool(t, Config{MinInstances: 0, MaxInstances: 0, ReapInterval: time.Hour}, clockwork.NewFakeClock())
	assert.Equal(t, 1, p.Size())
	assert.Equal(t, 1, p.cfg.MaxInstances)
}

func TestAcquire_LeastLoaded(t *testing.T) {
	cfg := smallConfig()
	cfg.MinInstances = 3
	p, ff, _ := testPool(t, cfg, clockwork.NewFakeClock())

	ff.get(0).setConnections(2)
	ff.get(1).setConnections(0)
	ff.get(2).setConnections(1)

	inst, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "ws-2", inst.ID())
}

func TestAcquire_SpawnsWhenFull(t *testing.T) {
	p, ff, m := testPool(t, smallConfig(), clockwork.NewFakeClock())

	ff.get(0).setConnections(2)

	inst, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "ws-2", inst.ID())
	assert.Equal(t, 2, p.Size())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.InstancesSpawned))
}

func TestAcquire_AtMaxReturnsLeastLoaded(t *testing.T) {
	cfg := smallConfig()
	cfg.MinInstances = 3
	p, ff, _ := testPool(t, cfg, clockwork.NewFakeClock())

	ff.get(0).setConnections(5)
	ff.get(1).setConnections(3)
	ff.get(2).setConnections(4)

	inst, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "ws-2", inst.ID())
	assert.Equal(t, 3, p.Size(), "must not exceed MaxInstances")
}

func TestAcquire_SkipsUnresponsive(t *testing.T) {
	cfg := smallConfig()
	cfg.MinInstances = 2
	p, ff, _ := testPool(t, cfg, clockwork.NewFakeClock())

	ff.get(0).Stop()
	ff.get(1).setConnections(1)

	inst, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "ws-2", inst.ID())
}

func TestAcquire_AfterStop(t *testing.T) {
	p, _, _ := testPool(t, smallConfig(), clockwork.NewFakeClock())
	p.Stop()

	_, err := p.Acquire()
	assert.ErrorIs(t, err, ErrStopped)
}

func TestBroadcast_ReachesEveryInstance(t *testing.T) {
	cfg := smallConfig()
	cfg.MinInstances = 3
	p, ff, _ := testPool(t, cfg, clockwork.NewFakeClock())

	env := domain.Envelope{
		ID:        "e1",
		Type:      domain.SystemError,
		Data:      domain.SystemData{Status: "error"},
		Timestamp: time.Now(),
		Source:    "test",
		Priority:  domain.PriorityCritical,
	}
	require.NoError(t, p.Publish(context.Background(), env))

	for i := range 3 {
		inst := ff.get(i)
		inst.mu.Lock()
		assert.Equal(t, []domain.Envelope{env}, inst.received)
		inst.mu.Unlock()
	}
}

func TestPublish_RejectsInvalid(t *testing.T) {
	p, ff, _ := testPool(t, smallConfig(), clockwork.NewFakeClock())

	err := p.Publish(context.Background(), domain.Envelope{ID: "x", Type: "bogus"})
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)

	inst := ff.get(0)
	inst.mu.Lock()
	assert.Empty(t, inst.received)
	inst.mu.Unlock()
}

func TestStats_Aggregates(t *testing.T) {
	cfg := smallConfig()
	cfg.MinInstances = 2
	p, ff, _ := testPool(t, cfg, clockwork.NewFakeClock())

	ff.get(0).setConnections(1)
	ff.get(1).setConnections(2)

	s := p.Stats()
	assert.Len(t, s.Instances, 2)
	assert.Equal(t, 3, s.TotalConnections)
	assert.Equal(t, 6, s.TotalSubscriptions)
}

func TestReap_RetiresIdleAboveMinimum(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := smallConfig()
	cfg.MinInstances = 1
	cfg.MaxInstances = 3
	p, ff, m := testPool(t, cfg, clock)

	// Grow to three instances.
	ff.get(0).setConnections(2)
	_, err := p.Acquire()
	require.NoError(t, err)
	ff.get(1).setConnections(2)
	_, err = p.Acquire()
	require.NoError(t, err)
	require.Equal(t, 3, p.Size())

	// ws-2 still has a connection; the others go idle.
	ff.get(0).setConnections(0)
	ff.get(1).setConnections(1)

	p.reap()
	assert.Equal(t, 3, p.Size(), "idle clock starts on first sweep")

	clock.Advance(4 * time.Minute)
	p.reap()
	assert.Equal(t, 3, p.Size(), "not idle long enough")

	clock.Advance(2 * time.Minute)
	p.reap()
	assert.Equal(t, 1, p.Size(), "both idle instances retired")

	assert.True(t, ff.get(0).isStopped())
	assert.False(t, ff.get(1).isStopped())
	assert.True(t, ff.get(2).isStopped())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.InstancesRetired))
}

func TestReap_KeepsMinimum(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := smallConfig()
	cfg.MinInstances = 2
	p, _, _ := testPool(t, cfg, clock)

	p.reap()
	clock.Advance(time.Hour)
	p.reap()

	assert.Equal(t, 2, p.Size())
}

func TestReap_ActivityResetsIdleClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := smallConfig()
	cfg.MinInstances = 2
	cfg.MaxInstances = 3
	p, ff, _ := testPool(t, cfg, clock)

	ff.get(0).setConnections(2)
	ff.get(1).setConnections(2)
	_, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, 3, p.Size())

	third := ff.get(2)
	p.reap()
	clock.Advance(4 * time.Minute)

	third.setConnections(1)
	p.reap()
	third.setConnections(0)

	clock.Advance(4 * time.Minute)
	p.reap()
	assert.Equal(t, 3, p.Size())
	assert.False(t, third.isStopped())
}

func TestReapLoop_RunsOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := smallConfig()
	cfg.MinInstances = 1
	cfg.IdleTimeout = 0
	cfg.ReapInterval = time.Minute
	p, ff, _ := testPool(t, cfg, clock)

	ff.get(0).setConnections(2)
	_, err := p.Acquire()
	require.NoError(t, err)
	ff.get(0).setConnections(0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return p.Size() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStop_StopsInstances(t *testing.T) {
	cfg := smallConfig()
	cfg.MinInstances = 2
	p, ff, m := testPool(t, cfg, clockwork.NewFakeClock())

	p.Stop()
	p.Stop()

	assert.True(t, ff.get(0).isStopped())
	assert.True(t, ff.get(1).isStopped())
	assert.Equal(t, 0, p.Size())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Instances))
}

func TestAcquire_SlowInstanceDoesNotBlockPool(t *testing.T) {
	cfg := smallConfig()
	cfg.MinInstances = 2
	ff := &fakeFactory{}
	p := New(cfg, ff.build, clockwork.NewFakeClock(), metrics.NewPoolMetrics(prometheus.NewRegistry()))
	t.Cleanup(p.Stop)

	slow := ff.get(0)
	slow.querying = make(chan struct{}, 1)
	slow.release = make(chan struct{})

	acquired := make(chan Instance, 1)
	go func() {
		inst, err := p.Acquire()
		assert.NoError(t, err)
		acquired <- inst
	}()
	<-slow.querying

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Broadcast(domain.Envelope{ID: "e1"})
		assert.Equal(t, 2, p.Size())
		assert.Len(t, p.Stats().Instances, 2)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool blocked behind a slow instance")
	}

	close(slow.release)
	select {
	case inst := <-acquired:
		assert.NotNil(t, inst)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return")
	}
}
