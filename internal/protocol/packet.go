package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Packet is the unit of communication between tiers. Handlers never mutate a
// received packet; they build a new response packet instead.
type Packet struct {
	ID          string
	Type        PacketType
	SenderID    string
	ClusterID   string
	RecipientID string
	Timestamp   int64
	Payload     Payload
}

// NewPacket stamps a fresh packet id and creation time.
func NewPacket(t PacketType, senderID, clusterID string, payload Payload) Packet {
	return Packet{
		ID:        uuid.NewString(),
		Type:      t,
		SenderID:  senderID,
		ClusterID: clusterID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload.Clone(),
	}
}

// WithRecipient returns a copy addressed to recipientID.
func (p Packet) WithRecipient(recipientID string) Packet {
	p.Payload = p.Payload.Clone()
	p.RecipientID = recipientID
	return p
}

// Time returns the creation timestamp.
func (p Packet) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}
