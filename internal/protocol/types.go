package protocol

import "strings"

// PacketType is the wire tag selecting how a packet is handled.
type PacketType string

const (
	TypeInitialization    PacketType = "INITIALIZATION"
	TypeInitializationRes PacketType = "INITIALIZATION_RES"
	TypeMessage           PacketType = "MESSAGE"
	TypeKeepAlive         PacketType = "KEEP_ALIVE"
	TypeError             PacketType = "ERROR"
	TypeAck               PacketType = "ACK"
	TypePeerListReq       PacketType = "PEER_LIST_REQ"
	TypePeerListRes       PacketType = "PEER_LIST_RES"
)

var packetTypes = map[string]PacketType{
	string(TypeInitialization):    TypeInitialization,
	string(TypeInitializationRes): TypeInitializationRes,
	string(TypeMessage):           TypeMessage,
	string(TypeKeepAlive):         TypeKeepAlive,
	string(TypeError):             TypeError,
	string(TypeAck):               TypeAck,
	string(TypePeerListReq):       TypePeerListReq,
	string(TypePeerListRes):       TypePeerListRes,
}

// ParsePacketType resolves a case-sensitive wire value. Unknown values never
// default to a type.
func ParsePacketType(raw string) (PacketType, error) {
	t, ok := packetTypes[raw]
	if !ok {
		return "", &UnknownTypeError{Value: raw}
	}
	return t, nil
}

// Valid reports whether t is one of the enumerated packet types.
func (t PacketType) Valid() bool {
	_, ok := packetTypes[string(t)]
	return ok
}

func (t PacketType) String() string {
	return string(t)
}

// IsResponse reports whether t only ever travels as the answer to a request.
func (t PacketType) IsResponse() bool {
	switch t {
	case TypeAck, TypeError, TypeInitializationRes, TypePeerListRes:
		return true
	default:
		return false
	}
}

// PacketTypes returns every known type in declaration order.
func PacketTypes() []PacketType {
	return []PacketType{
		TypeInitialization,
		TypeInitializationRes,
		TypeMessage,
		TypeKeepAlive,
		TypeError,
		TypeAck,
		TypePeerListReq,
		TypePeerListRes,
	}
}

// UnknownTypeError reports a packetType value outside the enumeration.
type UnknownTypeError struct {
	Value string
}

func (e *UnknownTypeError) Error() string {
	v := e.Value
	if strings.TrimSpace(v) == "" {
		v = "<empty>"
	}
	return "protocol: unknown packet type " + v
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownPacketType
}
