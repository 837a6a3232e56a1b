package handler

import (
	"context"
	"net"

	"github.com/danmuck/edgemesh/internal/protocol"
)

// Handler processes one packet type.
type Handler interface {
	Type() protocol.PacketType
	// ResponseType is the packet type sent back on success.
	ResponseType() protocol.PacketType
	Handle(ctx context.Context, req Request) Response
}

// Request is an inbound packet together with the socket it arrived on.
type Request struct {
	Packet     protocol.Packet
	RemoteAddr net.Addr
}

// RemoteIP is the host part of the socket peer address, never a value
// claimed in the payload.
func (r Request) RemoteIP() string {
	if r.RemoteAddr == nil {
		return ""
	}
	if addr, ok := r.RemoteAddr.(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr.String())
	if err != nil {
		return ""
	}
	return host
}

// Self is the identity of the peer answering requests.
type Self interface {
	ID() string
	ClusterID() string
}

// StaticSelf is a fixed Self.
type StaticSelf struct {
	PeerID  string
	Cluster string
}

func (s StaticSelf) ID() string        { return s.PeerID }
func (s StaticSelf) ClusterID() string { return s.Cluster }
