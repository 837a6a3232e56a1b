package schema

import (
	"fmt"

	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Well-known payload keys.
const (
	KeyPort      = "port"
	KeyID        = "id"
	KeyClusterID = "clusterId"
	KeyParentID  = "parentId"
	KeyToken     = "token"
)

// Contract is the payload shape accepted for one packet type.
type Contract struct {
	AllowEmpty   bool
	ExactEntries int
	RequiredKeys []string
}

type ValidationError struct {
	PacketType protocol.PacketType
	Key        string
	Reason     string
}

func (e ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("schema: packet_type=%s: %s", e.PacketType, e.Reason)
	}
	return fmt.Sprintf("schema: packet_type=%s key=%s: %s", e.PacketType, e.Key, e.Reason)
}

var contracts = map[protocol.PacketType]Contract{
	protocol.TypeInitialization:    {ExactEntries: 1},
	protocol.TypeInitializationRes: {RequiredKeys: []string{KeyID}},
	protocol.TypeMessage:           {},
	protocol.TypeKeepAlive:         {AllowEmpty: true},
	protocol.TypeError:             {},
	protocol.TypeAck:               {AllowEmpty: true},
	protocol.TypePeerListReq:       {AllowEmpty: true},
	protocol.TypePeerListRes:       {AllowEmpty: true},
}

// ContractFor returns the payload contract of t.
func ContractFor(t protocol.PacketType) (Contract, bool) {
	c, ok := contracts[t]
	return c, ok
}

// AllowsEmpty reports whether packets of type t may carry no payload entries.
func AllowsEmpty(t protocol.PacketType) bool {
	c, ok := contracts[t]
	return ok && c.AllowEmpty
}

// Validate enforces the payload contract of p's type. Unknown keys are ignored.
func Validate(p protocol.Packet) error {
	log.Debug().Str("packet_type", string(p.Type)).Int("entries", p.Payload.Len()).Msg("schema.Validate")
	c, ok := contracts[p.Type]
	if !ok {
		return ValidationError{PacketType: p.Type, Reason: "unknown packet_type"}
	}
	if p.Payload.Empty() {
		if c.AllowEmpty {
			return nil
		}
		return ValidationError{PacketType: p.Type, Reason: "empty payload"}
	}
	if c.ExactEntries > 0 && p.Payload.Len() != c.ExactEntries {
		return ValidationError{
			PacketType: p.Type,
			Reason:     fmt.Sprintf("expected %d entries, got %d", c.ExactEntries, p.Payload.Len()),
		}
	}
	for _, key := range c.RequiredKeys {
		v, found := p.Payload.Get(key)
		if !found || v == "" {
			return ValidationError{PacketType: p.Type, Key: key, Reason: "missing required key"}
		}
	}
	return nil
}
