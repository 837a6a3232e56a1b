package handler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/edgemesh/internal/auth"
	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/danmuck/edgemesh/internal/protocol/schema"
	"github.com/danmuck/edgemesh/internal/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// invalidFormat is the only detail a malformed registration gets back.
	invalidFormat = "invalid format"
	// notReady answers registrations while this peer has no identity of its
	// own to hand down.
	notReady = "not ready"
)

// Initialization registers a new peer. The payload carries exactly one value,
// the peer's listening port; the address is taken from the socket.
type Initialization struct {
	Registry *registry.Registry
	Self     Self
	// Issuer, when set, mints an identity token returned under "token".
	Issuer auth.Issuer
	// AssignClusters gives every registering peer a fresh cluster id instead
	// of this peer's own.
	AssignClusters   bool
	Priority         registry.Priority
	KeepAliveTimeout time.Duration
	NewID            func() string
}

func (h *Initialization) Type() protocol.PacketType { return protocol.TypeInitialization }

func (h *Initialization) ResponseType() protocol.PacketType {
	return protocol.TypeInitializationRes
}

func (h *Initialization) Handle(ctx context.Context, req Request) Response {
	p := req.Packet
	if h.Self.ID() == "" || (!h.AssignClusters && h.Self.ClusterID() == "") {
		log.Warn().Str("packet_id", p.ID).Msg("handler.Initialization before own registration")
		return Failed(notReady)
	}
	entry, ok := p.Payload.First()
	if !ok || p.Payload.Len() != 1 {
		log.Debug().Str("packet_id", p.ID).Int("entries", p.Payload.Len()).Msg("handler.Initialization rejected entry count")
		return Failed(invalidFormat)
	}
	port, err := strconv.Atoi(strings.TrimSpace(entry.Value))
	if err != nil || port <= 0 || port > 65535 {
		log.Debug().Str("packet_id", p.ID).Str("value", entry.Value).Msg("handler.Initialization rejected port")
		return Failed(invalidFormat)
	}
	ip := req.RemoteIP()
	if ip == "" {
		log.Warn().Str("packet_id", p.ID).Msg("handler.Initialization missing remote address")
		return Failed(invalidFormat)
	}

	newID := h.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	id := newID()
	cluster := h.Self.ClusterID()
	if h.AssignClusters {
		cluster = newID()
	}
	priority := h.Priority
	if priority == "" {
		priority = registry.PriorityCritical
	}

	rec := registry.Record{
		ID:               id,
		IP:               ip,
		Port:             port,
		ClusterID:        cluster,
		Priority:         priority,
		KeepAliveTimeout: h.KeepAliveTimeout,
	}
	h.dropSuperseded(p.SenderID, ip)
	if err := h.Registry.Add(rec); err != nil {
		return FailedWith(err)
	}

	resp := Succeeded()
	resp.SetMessage(schema.KeyID, id)
	resp.SetMessage(schema.KeyClusterID, cluster)
	resp.SetMessage(schema.KeyParentID, h.Self.ID())
	if h.Issuer != nil {
		token, err := h.Issuer.IssueToken(id, h.Self.ID(), cluster)
		if err != nil {
			h.Registry.Remove(id)
			log.Error().Err(err).Str("peer_id", id).Msg("handler.Initialization issue token")
			return FailedWith(err)
		}
		resp.SetMessage(schema.KeyToken, token)
	}
	resp.Recipient = id

	log.Info().
		Str("peer_id", id).
		Str("addr", rec.Addr()).
		Str("cluster_id", cluster).
		Str("priority", string(priority)).
		Msg("handler.Initialization registered peer")
	return resp
}

// dropSuperseded removes the record a peer held before it registered again
// from the same address.
func (h *Initialization) dropSuperseded(previousID, ip string) {
	if previousID == "" {
		return
	}
	old, ok := h.Registry.Get(previousID)
	if !ok || old.IP != ip {
		return
	}
	h.Registry.Remove(previousID)
	log.Info().
		Str("peer_id", previousID).
		Str("addr", old.Addr()).
		Msg("handler.Initialization replaced previous registration")
}

// KeepAlive always succeeds; the dispatcher already refreshed the sender.
type KeepAlive struct{}

func (KeepAlive) Type() protocol.PacketType         { return protocol.TypeKeepAlive }
func (KeepAlive) ResponseType() protocol.PacketType { return protocol.TypeAck }

func (KeepAlive) Handle(ctx context.Context, req Request) Response {
	return Succeeded()
}

// MessageHandler logs every payload value and keeps it in Inbox.
type MessageHandler struct {
	Inbox *Inbox
	Now   func() time.Time
}

func (h *MessageHandler) Type() protocol.PacketType         { return protocol.TypeMessage }
func (h *MessageHandler) ResponseType() protocol.PacketType { return protocol.TypeAck }

func (h *MessageHandler) Handle(ctx context.Context, req Request) Response {
	p := req.Packet
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	received := now()
	msgs := make([]Message, 0, p.Payload.Len())
	for _, e := range p.Payload.Entries() {
		log.Info().
			Str("sender_id", p.SenderID).
			Str("packet_id", p.ID).
			Str("key", e.Key).
			Str("body", e.Value).
			Msg("handler.Message")
		msgs = append(msgs, Message{
			PacketID:   p.ID,
			SenderID:   p.SenderID,
			ClusterID:  p.ClusterID,
			Key:        e.Key,
			Body:       e.Value,
			ReceivedAt: received,
		})
	}
	if h.Inbox != nil {
		h.Inbox.Append(msgs...)
	}
	return Succeeded()
}

// PeerList answers with the requester's cluster as id -> "ip:port",
// excluding the requester itself.
type PeerList struct {
	Registry *registry.Registry
}

func (h *PeerList) Type() protocol.PacketType         { return protocol.TypePeerListReq }
func (h *PeerList) ResponseType() protocol.PacketType { return protocol.TypePeerListRes }

func (h *PeerList) Handle(ctx context.Context, req Request) Response {
	requester, ok := h.Registry.Get(req.Packet.SenderID)
	if !ok {
		return Failed(msgUnrecognizedSender)
	}
	resp := Succeeded()
	for _, rec := range h.Registry.InCluster(requester.ClusterID) {
		if rec.ID == requester.ID {
			continue
		}
		resp.SetMessage(rec.ID, rec.Addr())
	}
	return resp
}
