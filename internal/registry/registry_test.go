package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/edgemesh/internal/testutil/testlog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1760000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAddGetRemove(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	r := New(WithClock(clock.Now))
	if err := r.Add(Record{ID: "node.1", IP: "10.0.0.5", Port: 6001}); err != nil {
		t.Fatalf("add: %v", err)
	}
	rec, ok := r.Get("node.1")
	if !ok {
		t.Fatalf("missing record")
	}
	if rec.Priority != PriorityCritical || rec.KeepAliveTimeout != DefaultKeepAliveTimeout {
		t.Fatalf("defaults not applied: %+v", rec)
	}
	if !rec.CreatedAt.Equal(clock.Now()) || !rec.LastActivity.Equal(clock.Now()) {
		t.Fatalf("timestamps not set: %+v", rec)
	}
	if rec.Addr() != "10.0.0.5:6001" {
		t.Fatalf("unexpected addr: %q", rec.Addr())
	}
	if err := r.Add(Record{ID: "node.1", IP: "10.0.0.6", Port: 6002}); !errors.Is(err, ErrDuplicatePeer) {
		t.Fatalf("expected ErrDuplicatePeer, got %v", err)
	}
	if !r.Remove("node.1") || r.Remove("node.1") {
		t.Fatalf("remove should succeed exactly once")
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestAddRejectsInvalidRecords(t *testing.T) {
	testlog.Start(t)
	r := New()
	cases := []Record{
		{IP: "10.0.0.5", Port: 6001},
		{ID: "a", Port: 6001},
		{ID: "a", IP: "10.0.0.5", Port: 0},
		{ID: "a", IP: "10.0.0.5", Port: 70000},
		{ID: "a", IP: "10.0.0.5", Port: 6001, Priority: "LOW"},
	}
	for _, rec := range cases {
		if err := r.Add(rec); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord for %+v, got %v", rec, err)
		}
	}
}

func TestIDsAndInCluster(t *testing.T) {
	testlog.Start(t)
	r := New()
	_ = r.Add(Record{ID: "c", IP: "10.0.0.3", Port: 1, ClusterID: "x"})
	_ = r.Add(Record{ID: "a", IP: "10.0.0.1", Port: 1, ClusterID: "x"})
	_ = r.Add(Record{ID: "b", IP: "10.0.0.2", Port: 1, ClusterID: "y"})

	ids := r.IDs()
	if fmt.Sprint(ids) != "[a b c]" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	x := r.InCluster("x")
	if len(x) != 2 || x[0].ID != "a" || x[1].ID != "c" {
		t.Fatalf("unexpected cluster members: %+v", x)
	}
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	r := New(WithClock(clock.Now))
	_ = r.Add(Record{ID: "p", IP: "10.0.0.5", Port: 6001})

	later := clock.Now().Add(10 * time.Second)
	earlier := clock.Now().Add(5 * time.Second)
	if !r.TouchAt("p", later) || !r.TouchAt("p", earlier) {
		t.Fatalf("touch should find the peer")
	}
	rec, _ := r.Get("p")
	if !rec.LastActivity.Equal(later) {
		t.Fatalf("lastActivity regressed: %v", rec.LastActivity)
	}

	clock.Advance(20 * time.Second)
	r.Touch("p")
	r.Touch("p")
	rec, _ = r.Get("p")
	if !rec.LastActivity.Equal(clock.Now()) {
		t.Fatalf("expected lastActivity=%v got %v", clock.Now(), rec.LastActivity)
	}
	if r.Touch("missing") {
		t.Fatalf("touch of unknown peer should report false")
	}
}

func TestConcurrentTouchSettlesOnNewest(t *testing.T) {
	testlog.Start(t)
	base := time.Unix(1760000000, 0)
	r := New(WithClock(func() time.Time { return base }))
	_ = r.Add(Record{ID: "p", IP: "10.0.0.5", Port: 6001})

	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.TouchAt("p", base.Add(time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()
	rec, _ := r.Get("p")
	if !rec.LastActivity.Equal(base.Add(64 * time.Millisecond)) {
		t.Fatalf("unexpected lastActivity: %v", rec.LastActivity)
	}
}

func expiredRecord(clock *fakeClock, id string, priority Priority) Record {
	timeout := DefaultKeepAliveTimeout
	last := clock.Now().Add(-timeout - time.Second)
	return Record{
		ID:               id,
		IP:               "10.0.0.5",
		Port:             6001,
		Priority:         priority,
		KeepAliveTimeout: timeout,
		CreatedAt:        last,
		LastActivity:     last,
	}
}

func TestSweepEvictsUnreachableCriticalPeer(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	var evicted []EvictReason
	r := New(
		WithClock(clock.Now),
		WithProber(ProberFunc(func(ctx context.Context, rec Record) error {
			return errors.New("retries exhausted")
		})),
		WithEvictHook(func(rec Record, reason EvictReason) { evicted = append(evicted, reason) }),
	)
	_ = r.Add(expiredRecord(clock, "node.1", PriorityCritical))

	report := r.SweepExpired(context.Background())
	if _, ok := r.Get("node.1"); ok {
		t.Fatalf("unreachable critical peer should be removed")
	}
	if len(report.Evicted) != 1 || len(evicted) != 1 || evicted[0] != EvictUnreachable {
		t.Fatalf("unexpected eviction: report=%+v hook=%v", report, evicted)
	}
}

func TestSweepKeepsReachableCriticalPeer(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	var probes atomic.Int32
	r := New(
		WithClock(clock.Now),
		WithProber(ProberFunc(func(ctx context.Context, rec Record) error {
			probes.Add(1)
			return nil
		})),
	)
	rec := expiredRecord(clock, "node.1", PriorityCritical)
	_ = r.Add(rec)

	report := r.SweepExpired(context.Background())
	got, ok := r.Get("node.1")
	if !ok {
		t.Fatalf("reachable critical peer should remain")
	}
	if !got.LastActivity.After(rec.LastActivity) || !got.LastActivity.Equal(clock.Now()) {
		t.Fatalf("lastActivity not refreshed: %v", got.LastActivity)
	}
	if probes.Load() != 1 || len(report.Refreshed) != 1 {
		t.Fatalf("unexpected probes=%d report=%+v", probes.Load(), report)
	}
}

func TestSweepEvictsGenericPeerWithoutProbe(t *testing.T) {
	testlog.Start(t)
	for _, probeErr := range []error{nil, errors.New("down")} {
		clock := newFakeClock()
		var probes atomic.Int32
		r := New(
			WithClock(clock.Now),
			WithProber(ProberFunc(func(ctx context.Context, rec Record) error {
				probes.Add(1)
				return probeErr
			})),
		)
		_ = r.Add(expiredRecord(clock, "client.1", PriorityGeneric))
		r.SweepExpired(context.Background())
		if _, ok := r.Get("client.1"); ok {
			t.Fatalf("generic peer should be removed (probeErr=%v)", probeErr)
		}
		if probes.Load() != 0 {
			t.Fatalf("generic peer must not be probed")
		}
	}
}

func TestSweepIgnoresFreshPeers(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	r := New(WithClock(clock.Now), WithProber(ProberFunc(func(ctx context.Context, rec Record) error {
		t.Fatalf("fresh peer %s probed", rec.ID)
		return nil
	})))
	_ = r.Add(Record{ID: "fresh", IP: "10.0.0.5", Port: 6001, Priority: PriorityGeneric})
	clock.Advance(DefaultKeepAliveTimeout)

	report := r.SweepExpired(context.Background())
	if len(report.Expired) != 0 || r.Count() != 1 {
		t.Fatalf("peer at exactly the timeout is not expired: %+v", report)
	}
}

func TestSweepKeepsPeerRefreshedDuringProbe(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	var r *Registry
	r = New(
		WithClock(clock.Now),
		WithProber(ProberFunc(func(ctx context.Context, rec Record) error {
			clock.Advance(time.Second)
			r.Touch(rec.ID)
			return errors.New("probe lost")
		})),
	)
	_ = r.Add(expiredRecord(clock, "node.1", PriorityCritical))
	report := r.SweepExpired(context.Background())
	if _, ok := r.Get("node.1"); !ok {
		t.Fatalf("peer refreshed mid-probe should remain")
	}
	if len(report.Evicted) != 0 {
		t.Fatalf("unexpected eviction: %+v", report)
	}
}

func TestSweepWithoutProberEvictsCriticalPeer(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	r := New(WithClock(clock.Now))
	_ = r.Add(expiredRecord(clock, "node.1", PriorityCritical))
	r.SweepExpired(context.Background())
	if r.Count() != 0 {
		t.Fatalf("critical peer without a prober should be evicted")
	}
}

func TestSweepCancelledMidProbeKeepsPeers(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var probes atomic.Int32
	var hooks atomic.Int32
	r := New(
		WithClock(clock.Now),
		WithProber(ProberFunc(func(ctx context.Context, rec Record) error {
			probes.Add(1)
			cancel()
			return ctx.Err()
		})),
		WithEvictHook(func(rec Record, reason EvictReason) { hooks.Add(1) }),
	)
	_ = r.Add(expiredRecord(clock, "up", PriorityCritical))
	_ = r.Add(expiredRecord(clock, "node.2", PriorityCritical))

	report := r.SweepExpired(ctx)
	if !r.Contains("up") || !r.Contains("node.2") {
		t.Fatalf("cancelled sweep evicted a peer: %+v", report)
	}
	if len(report.Evicted) != 0 || hooks.Load() != 0 {
		t.Fatalf("unexpected eviction: report=%+v hooks=%d", report, hooks.Load())
	}
	if probes.Load() != 1 {
		t.Fatalf("sweep should stop after the cancelled probe, probes=%d", probes.Load())
	}
}
