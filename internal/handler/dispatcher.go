package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/danmuck/edgemesh/internal/observability"
	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/danmuck/edgemesh/internal/protocol/schema"
	"github.com/danmuck/edgemesh/internal/registry"
	"github.com/rs/zerolog/log"
)

const (
	msgNoPayload          = "No payload sent"
	msgUnrecognizedSender = "unrecognized sender"
	msgUnsupportedType    = "unsupported packet type"
	msgWrongRecipient     = "recipient mismatch"
)

// Dispatcher routes packets to their Handler. Handlers are registered before
// serving starts and never change afterwards.
type Dispatcher struct {
	role     string
	self     Self
	registry *registry.Registry
	handlers map[protocol.PacketType]Handler
}

func NewDispatcher(role string, self Self, reg *registry.Registry, handlers ...Handler) *Dispatcher {
	d := &Dispatcher{
		role:     role,
		self:     self,
		registry: reg,
		handlers: make(map[protocol.PacketType]Handler, len(handlers)),
	}
	for _, h := range handlers {
		d.Register(h)
	}
	return d
}

// Register installs h, replacing any handler of the same type.
func (d *Dispatcher) Register(h Handler) {
	d.handlers[h.Type()] = h
}

func (d *Dispatcher) Handler(t protocol.PacketType) (Handler, bool) {
	h, ok := d.handlers[t]
	return h, ok
}

// Dispatch always returns exactly one response packet.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) protocol.Packet {
	start := time.Now()
	p := req.Packet
	remote := ""
	if req.RemoteAddr != nil {
		remote = req.RemoteAddr.String()
	}
	ctx, span := observability.StartPacketSpan(ctx, "handler.Dispatch", observability.PacketSpan{
		Role:       d.role,
		PacketID:   p.ID,
		PacketType: string(p.Type),
		SenderID:   p.SenderID,
		Remote:     remote,
	})

	resp, okType := d.Evaluate(ctx, req)
	respType := protocol.TypeError
	if resp.Success {
		respType = okType
	}
	out := d.reply(req, resp, respType)

	observability.EndPacketSpan(span, string(respType), resp.Err())
	observability.RecordPacket(d.role, string(p.Type), resp.Success, time.Since(start))
	event := log.Debug()
	if !resp.Success {
		event = log.Warn()
	}
	event.
		Str("remote", remote).
		Str("packet_id", p.ID).
		Str("packet_type", string(p.Type)).
		Str("sender_id", p.SenderID).
		Str("response_type", string(respType)).
		Str("detail", out.Payload.String()).
		Msg("handler.Dispatch")
	return out
}

// Evaluate runs the shared checks and the type handler. The returned type is
// the one to answer with if the response succeeded.
func (d *Dispatcher) Evaluate(ctx context.Context, req Request) (Response, protocol.PacketType) {
	p := req.Packet
	if p.Payload.Empty() && !schema.AllowsEmpty(p.Type) {
		return Failed(msgNoPayload), protocol.TypeAck
	}
	if p.Type != protocol.TypeInitialization {
		if !d.registry.Contains(p.SenderID) {
			return Failed(msgUnrecognizedSender), protocol.TypeAck
		}
		// A packet addressed to an id this peer no longer holds must fail so
		// the sender's record of that id can expire.
		if p.RecipientID != "" && p.RecipientID != d.self.ID() {
			return Failed(msgWrongRecipient), protocol.TypeAck
		}
		d.registry.Touch(p.SenderID)
	}
	h, ok := d.handlers[p.Type]
	if !ok {
		return Failed(fmt.Sprintf("%s: %s", msgUnsupportedType, p.Type)), protocol.TypeAck
	}
	return d.invoke(ctx, h, req), h.ResponseType()
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("packet_id", req.Packet.ID).
				Str("packet_type", string(req.Packet.Type)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler.Dispatch recovered panic")
			resp = FailedWith(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.Handle(ctx, req)
}

// ErrorReply builds an ERROR packet for a request that never reached a
// handler, such as a frame that failed to decode.
func (d *Dispatcher) ErrorReply(recipientID string, messages ...string) protocol.Packet {
	resp := Failed(messages...)
	resp.Recipient = recipientID
	return d.reply(Request{}, resp, protocol.TypeError)
}

func (d *Dispatcher) reply(req Request, resp Response, t protocol.PacketType) protocol.Packet {
	out := protocol.NewPacket(t, d.self.ID(), d.self.ClusterID(), resp.Payload())
	out.RecipientID = req.Packet.SenderID
	if resp.Recipient != "" {
		out.RecipientID = resp.Recipient
	}
	return out
}
