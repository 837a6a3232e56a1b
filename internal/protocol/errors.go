package protocol

import "errors"

var (
	ErrUnknownPacketType = errors.New("protocol: unknown packet type")
	ErrMissingPayloadKey = errors.New("protocol: missing payload key")
	ErrInvalidPayload    = errors.New("protocol: invalid payload")
	ErrEmptyPayload      = errors.New("protocol: empty payload")
)
