package registry

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidRecord = errors.New("registry: invalid record")
	ErrDuplicatePeer = errors.New("registry: duplicate peer id")

	errNoProber = errors.New("registry: no prober configured")
)

// DefaultKeepAliveTimeout is how long a peer may stay silent before a sweep
// looks at it.
const DefaultKeepAliveTimeout = 60 * time.Second

// Priority decides what a sweep does with an expired peer.
type Priority string

const (
	// PriorityCritical peers are probed and only evicted when unreachable.
	PriorityCritical Priority = "CRITICAL"
	// PriorityGeneric peers are dropped on expiry and expected to re-register.
	PriorityGeneric Priority = "GENERIC"
)

// Record is one known peer.
type Record struct {
	ID               string        `json:"id"`
	IP               string        `json:"ip"`
	Port             int           `json:"port"`
	ClusterID        string        `json:"clusterId,omitempty"`
	Priority         Priority      `json:"priority"`
	KeepAliveTimeout time.Duration `json:"keepAliveTimeout"`
	CreatedAt        time.Time     `json:"createdAt"`
	LastActivity     time.Time     `json:"lastActivity"`
}

// Addr is the peer's listening endpoint.
func (r Record) Addr() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// Expired reports whether now is past lastActivity + keepAliveTimeout.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.LastActivity.Add(r.KeepAliveTimeout))
}

func (r Record) validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.IP) == "" {
		return fmt.Errorf("%w: missing ip", ErrInvalidRecord)
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidRecord, r.Port)
	}
	switch r.Priority {
	case PriorityCritical, PriorityGeneric:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRecord, r.Priority)
	}
	return nil
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithProber sets the keep-alive probe used for expired critical peers.
func WithProber(p Prober) Option {
	return func(r *Registry) {
		r.prober = p
	}
}

// WithEvictHook is called after every eviction.
func WithEvictHook(fn func(Record, EvictReason)) Option {
	return func(r *Registry) {
		r.onEvict = fn
	}
}

// Registry is a concurrency-safe map of peer id to Record.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record

	now     func() time.Time
	prober  Prober
	onEvict func(Record, EvictReason)
}

func New(opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Add registers a new peer. Zero timestamps and timeout are filled in.
func (r *Registry) Add(rec Record) error {
	rec = r.normalize(rec)
	if err := rec.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePeer, rec.ID)
	}
	r.records[rec.ID] = rec
	return nil
}

// Put registers or replaces a peer.
func (r *Registry) Put(rec Record) error {
	rec = r.normalize(rec)
	if err := rec.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	return nil
}

func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

func (r *Registry) Contains(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}

// IDs returns every known peer id in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.records))
	for id := range r.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Touch refreshes lastActivity to the registry clock.
func (r *Registry) Touch(id string) bool {
	return r.TouchAt(id, r.now())
}

// TouchAt moves lastActivity forward to at. It never moves backwards, so
// concurrent refreshes settle on the newest timestamp.
func (r *Registry) TouchAt(id string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	if at.After(rec.LastActivity) {
		rec.LastActivity = at
		r.records[id] = rec
	}
	return true
}

// Snapshot returns copies of every record ordered by id.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// InCluster returns the records of one cluster ordered by id.
func (r *Registry) InCluster(clusterID string) []Record {
	all := r.Snapshot()
	out := all[:0]
	for _, rec := range all {
		if rec.ClusterID == clusterID {
			out = append(out, rec)
		}
	}
	return out
}

// removeIfIdle deletes id only when nothing refreshed it after seen.
func (r *Registry) removeIfIdle(id string, seen time.Time) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.LastActivity.After(seen) {
		return Record{}, false
	}
	delete(r.records, id)
	return rec, true
}

func (r *Registry) normalize(rec Record) Record {
	now := r.now()
	if rec.Priority == "" {
		rec.Priority = PriorityCritical
	}
	if rec.KeepAliveTimeout <= 0 {
		rec.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastActivity.IsZero() {
		rec.LastActivity = rec.CreatedAt
	}
	return rec
}
