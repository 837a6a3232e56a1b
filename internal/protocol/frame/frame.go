package frame

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/danmuck/edgemesh/internal/protocol"
)

// Terminator closes every frame body. The stream carries no length prefix,
// so a body without it is treated as incomplete and never parsed.
const Terminator = "||END||"

var (
	ErrUntruncated   = errors.New("frame: untruncated frame")
	ErrUnknownType   = errors.New("frame: unknown packet type")
	ErrMalformed     = errors.New("frame: malformed frame")
	ErrFrameTooLarge = errors.New("frame: frame too large")
)

// Limits constrains frame decode memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 1024 * 1024,
	}
}

func (l Limits) WithDefaults() Limits {
	if l.MaxFrameBytes <= 0 {
		l.MaxFrameBytes = DefaultLimits().MaxFrameBytes
	}
	return l
}

// wirePacket is the JSON field set of one packet.
type wirePacket struct {
	PacketType  string           `json:"packetType"`
	SenderID    string           `json:"senderId"`
	ClusterID   string           `json:"clusterId"`
	RecipientID string           `json:"recipientId,omitempty"`
	PacketID    string           `json:"packetId"`
	TimeStamp   string           `json:"timeStamp"`
	Payload     protocol.Payload `json:"payload"`
}

// Encode renders p as `<json>||END||` without the trailing newline.
func Encode(p protocol.Packet) ([]byte, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, p.Type)
	}
	body, err := json.Marshal(wirePacket{
		PacketType:  string(p.Type),
		SenderID:    p.SenderID,
		ClusterID:   p.ClusterID,
		RecipientID: p.RecipientID,
		PacketID:    p.ID,
		TimeStamp:   strconv.FormatInt(p.Timestamp, 10),
		Payload:     p.Payload,
	})
	if err != nil {
		return nil, err
	}
	return append(body, Terminator...), nil
}

// Decode parses one frame. A trailing line ending is tolerated; a missing
// terminator fails with ErrUntruncated before any JSON parsing happens.
func Decode(raw []byte) (protocol.Packet, error) {
	raw = bytes.TrimRight(raw, "\r\n")
	if !bytes.HasSuffix(raw, []byte(Terminator)) {
		return protocol.Packet{}, ErrUntruncated
	}
	body := bytes.TrimSpace(raw[:len(raw)-len(Terminator)])
	if len(body) == 0 {
		return protocol.Packet{}, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	var w wirePacket
	if err := json.Unmarshal(body, &w); err != nil {
		return protocol.Packet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	t, err := protocol.ParsePacketType(w.PacketType)
	if err != nil {
		return protocol.Packet{}, fmt.Errorf("%w: %q", ErrUnknownType, w.PacketType)
	}
	var ts int64
	if w.TimeStamp != "" {
		ts, err = strconv.ParseInt(w.TimeStamp, 10, 64)
		if err != nil {
			return protocol.Packet{}, fmt.Errorf("%w: invalid timeStamp %q", ErrMalformed, w.TimeStamp)
		}
	}
	return protocol.Packet{
		ID:          w.PacketID,
		Type:        t,
		SenderID:    w.SenderID,
		ClusterID:   w.ClusterID,
		RecipientID: w.RecipientID,
		Timestamp:   ts,
		Payload:     w.Payload,
	}, nil
}

// ReadFrame reads one newline-delimited frame. A final unterminated line
// before EOF is returned as-is so the caller can reject it via Decode.
func ReadFrame(r *bufio.Reader, limits Limits) ([]byte, error) {
	limits = limits.WithDefaults()
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > limits.MaxFrameBytes {
			return nil, ErrFrameTooLarge
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, nil
		default:
			return nil, err
		}
	}
}

// ReadPacket reads and decodes exactly one frame.
func ReadPacket(r *bufio.Reader, limits Limits) (protocol.Packet, error) {
	raw, err := ReadFrame(r, limits)
	if err != nil {
		return protocol.Packet{}, err
	}
	return Decode(raw)
}

// WritePacket writes p as one newline-terminated frame in a single write.
func WritePacket(w io.Writer, p protocol.Packet) error {
	buf, err := Encode(p)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	_, err = w.Write(buf)
	return err
}
