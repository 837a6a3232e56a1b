package tier

import "sync"

// IdentitySnapshot is a copy of an Identity at one point in time.
type IdentitySnapshot struct {
	ID        string `json:"id"`
	ClusterID string `json:"clusterId"`
	ParentID  string `json:"parentId,omitempty"`
	Token     string `json:"-"`
}

// Identity is who this service is. Lower tiers learn it from their upstream
// at registration and may learn a new one on re-registration.
type Identity struct {
	mu  sync.RWMutex
	cur IdentitySnapshot
}

func NewIdentity(id, clusterID string) *Identity {
	return &Identity{cur: IdentitySnapshot{ID: id, ClusterID: clusterID}}
}

func (i *Identity) ID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cur.ID
}

func (i *Identity) ClusterID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cur.ClusterID
}

func (i *Identity) Snapshot() IdentitySnapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cur
}

// Adopt replaces the whole identity at once.
func (i *Identity) Adopt(s IdentitySnapshot) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cur = s
}
