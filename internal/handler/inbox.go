package handler

import (
	"sync"
	"time"
)

const DefaultInboxCapacity = 256

// Message is one payload value delivered by a MESSAGE packet.
type Message struct {
	PacketID   string    `json:"packetId"`
	SenderID   string    `json:"senderId"`
	ClusterID  string    `json:"clusterId"`
	Key        string    `json:"key"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Inbox keeps the most recent messages, dropping the oldest beyond capacity.
type Inbox struct {
	mu       sync.RWMutex
	capacity int
	messages []Message
}

func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{capacity: capacity}
}

func (b *Inbox) Append(msgs ...Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msgs...)
	if over := len(b.messages) - b.capacity; over > 0 {
		b.messages = append([]Message(nil), b.messages[over:]...)
	}
}

// Recent returns up to limit messages, oldest first. limit <= 0 returns all.
func (b *Inbox) Recent(limit int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || len(b.messages) <= limit {
		out := make([]Message, len(b.messages))
		copy(out, b.messages)
		return out
	}
	out := make([]Message, limit)
	copy(out, b.messages[len(b.messages)-limit:])
	return out
}

func (b *Inbox) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}
