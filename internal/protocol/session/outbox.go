package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgemesh/internal/protocol"
)

// PendingSend tracks one packet whose delivery is still being retried.
type PendingSend struct {
	PacketID      string
	PacketType    protocol.PacketType
	Addr          string
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	LastError     string
}

// Outbox stores in-flight sends by packet id.
type Outbox struct {
	mu    sync.RWMutex
	items map[string]PendingSend
}

func NewOutbox() *Outbox {
	return &Outbox{
		items: make(map[string]PendingSend),
	}
}

func (o *Outbox) Upsert(item PendingSend) {
	key := strings.TrimSpace(item.PacketID)
	if key == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[key] = item
}

func (o *Outbox) MarkAttempt(packetID string, at time.Time, lastErr string) (PendingSend, bool) {
	key := strings.TrimSpace(packetID)
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingSend{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.LastError = strings.TrimSpace(lastErr)
	o.items[key] = item
	return item, true
}

func (o *Outbox) Remove(packetID string) {
	key := strings.TrimSpace(packetID)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

func (o *Outbox) Get(packetID string) (PendingSend, bool) {
	key := strings.TrimSpace(packetID)
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[key]
	return item, ok
}

func (o *Outbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

func (o *Outbox) List() []PendingSend {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingSend, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PacketID < out[j].PacketID
	})
	return out
}
