package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/danmuck/edgemesh/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired  = errors.New("session: peer address required")
	ErrNotAcknowledged  = errors.New("session: response not acknowledged")
	ErrRetriesExhausted = errors.New("session: retries exhausted")
)

// Dialer opens transport connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// AttemptObserver is told about every finished attempt.
type AttemptObserver func(addr string, p protocol.Packet, attempt int, err error)

type SenderOption func(*Sender)

func WithDialer(d Dialer) SenderOption {
	return func(s *Sender) {
		s.dialer = d
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) SenderOption {
	return func(s *Sender) {
		s.sleep = fn
	}
}

func WithObserver(fn AttemptObserver) SenderOption {
	return func(s *Sender) {
		s.observe = fn
	}
}

func WithOutbox(o *Outbox) SenderOption {
	return func(s *Sender) {
		s.outbox = o
	}
}

// Sender delivers one packet per connection and waits for the framed answer.
// Connections are never pooled or reused across attempts.
type Sender struct {
	cfg     Config
	dialer  Dialer
	outbox  *Outbox
	sleep   func(ctx context.Context, d time.Duration) error
	observe AttemptObserver

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewSender(cfg Config, opts ...SenderOption) *Sender {
	cfg = cfg.WithDefaults()
	s := &Sender{
		cfg:    cfg,
		dialer: &net.Dialer{Timeout: cfg.ConnectTimeout},
		outbox: NewOutbox(),
		sleep:  SleepContext,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) Config() Config {
	return s.cfg
}

func (s *Sender) Outbox() *Outbox {
	return s.outbox
}

// Send performs one exchange and succeeds only on a well-formed ACK.
func (s *Sender) Send(ctx context.Context, addr string, p protocol.Packet) error {
	_, err := s.Request(ctx, addr, p, protocol.TypeAck)
	return err
}

// Retry repeats Send up to MaxRetries times with the configured pause between
// attempts. Exhaustion is reported as ErrRetriesExhausted; deciding what that
// means for the peer is the caller's job.
func (s *Sender) Retry(ctx context.Context, addr string, p protocol.Packet) error {
	_, err := s.RetryRequest(ctx, addr, p, protocol.TypeAck)
	return err
}

// Request performs one exchange and requires the response to be of type want.
func (s *Sender) Request(ctx context.Context, addr string, p protocol.Packet, want protocol.PacketType) (protocol.Packet, error) {
	resp, err := s.Exchange(ctx, addr, p)
	if err != nil {
		return protocol.Packet{}, err
	}
	if resp.Type != want {
		return resp, fmt.Errorf("%w: want=%s got=%s detail=%s", ErrNotAcknowledged, want, resp.Type, resp.Payload)
	}
	return resp, nil
}

// RetryRequest is Request with the retry policy of Retry.
func (s *Sender) RetryRequest(ctx context.Context, addr string, p protocol.Packet, want protocol.PacketType) (protocol.Packet, error) {
	maxAttempts := s.cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	s.outbox.Upsert(PendingSend{
		PacketID:   p.ID,
		PacketType: p.Type,
		Addr:       addr,
		QueuedAt:   time.Now(),
	})
	defer s.outbox.Remove(p.ID)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := s.Request(ctx, addr, p, want)
		errText := ""
		if err != nil {
			errText = err.Error()
		}
		s.outbox.MarkAttempt(p.ID, time.Now(), errText)
		if s.observe != nil {
			s.observe(addr, p, attempt, err)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		log.Debug().
			Err(err).
			Str("addr", addr).
			Str("packet_id", p.ID).
			Str("packet_type", string(p.Type)).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("session.Sender attempt failed")
		if attempt == maxAttempts {
			break
		}
		if err := s.sleep(ctx, s.nextDelay(attempt)); err != nil {
			return protocol.Packet{}, err
		}
	}
	return protocol.Packet{}, fmt.Errorf("%w: addr=%s attempts=%d: %v", ErrRetriesExhausted, addr, maxAttempts, lastErr)
}

// Exchange opens a connection, writes p, reads exactly one response frame and
// closes the connection regardless of outcome.
func (s *Sender) Exchange(ctx context.Context, addr string, p protocol.Packet) (protocol.Packet, error) {
	if strings.TrimSpace(addr) == "" {
		return protocol.Packet{}, ErrAddressRequired
	}
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return protocol.Packet{}, err
	}
	defer conn.Close()

	deadline := time.Now().Add(s.cfg.ResponseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return protocol.Packet{}, err
	}
	if err := frame.WritePacket(conn, p); err != nil {
		return protocol.Packet{}, err
	}
	return frame.ReadPacket(bufio.NewReader(conn), s.cfg.Limits)
}

func (s *Sender) dial(ctx context.Context, addr string) (net.Conn, error) {
	if err := s.cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	rawConn, err := s.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !s.cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := s.cfg.ClientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	if err := conn.HandshakeContext(dialCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Sender) nextDelay(attempt int) time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
}
