package tier

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgemesh/internal/auth"
	"github.com/danmuck/edgemesh/internal/handler"
	"github.com/danmuck/edgemesh/internal/observability"
	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/danmuck/edgemesh/internal/protocol/frame"
	"github.com/danmuck/edgemesh/internal/protocol/session"
	"github.com/danmuck/edgemesh/internal/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrIssuerRequired   = errors.New("tier: token issuer required for role")
	ErrUpstreamRequired = errors.New("tier: upstream address required for role")
)

type ServiceOption func(*Service)

// WithIssuer sets the identity token issuer used by registering roles.
func WithIssuer(i auth.Issuer) ServiceOption {
	return func(s *Service) {
		s.issuer = i
	}
}

// WithUpstreamValidator checks tokens received from the upstream.
func WithUpstreamValidator(v auth.Validator) ServiceOption {
	return func(s *Service) {
		s.upstreamValidator = v
	}
}

// WithAdminValidator guards the admin routes that expose peer data.
func WithAdminValidator(v auth.Validator) ServiceOption {
	return func(s *Service) {
		s.adminValidator = v
	}
}

// WithRegistryClock replaces the clock of the connection registry.
func WithRegistryClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.clock = now
	}
}

// WithSenderOptions forwards options to the reliable sender.
func WithSenderOptions(opts ...session.SenderOption) ServiceOption {
	return func(s *Service) {
		s.senderOpts = append(s.senderOpts, opts...)
	}
}

// Service is one running tier.
type Service struct {
	cfg ServiceConfig

	identity   *Identity
	registry   *registry.Registry
	sender     *session.Sender
	dispatcher *handler.Dispatcher
	inbox      *handler.Inbox
	client     *Client

	issuer            auth.Issuer
	upstreamValidator auth.Validator
	adminValidator    auth.Validator
	clock             func() time.Time
	senderOpts        []session.SenderOption

	startedAt time.Time
	boundPort atomic.Int32

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	active  atomic.Int64
}

func NewService(cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	cfg = cfg.WithDefaults()
	if !cfg.Role.NeedsUpstream && strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
	}
	s := &Service{
		cfg:       cfg,
		identity:  NewIdentity(strings.TrimSpace(cfg.ID), strings.TrimSpace(cfg.ClusterID)),
		inbox:     handler.NewInbox(cfg.InboxCapacity),
		clock:     time.Now,
		startedAt: time.Now(),
		conns:     make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.adminValidator == nil && strings.TrimSpace(cfg.AdminToken) != "" {
		s.adminValidator = auth.StaticToken{Token: strings.TrimSpace(cfg.AdminToken)}
	}
	if cfg.Role.IssuesTokens && s.issuer == nil {
		return nil, fmt.Errorf("%w: %s", ErrIssuerRequired, cfg.Role)
	}
	if cfg.Role.NeedsUpstream && strings.TrimSpace(cfg.UpstreamAddr) == "" {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamRequired, cfg.Role)
	}

	senderOpts := append([]session.SenderOption{
		session.WithObserver(func(addr string, p protocol.Packet, attempt int, err error) {
			observability.RecordSendAttempt(cfg.Role.Name, string(p.Type), err)
		}),
	}, s.senderOpts...)
	s.sender = session.NewSender(cfg.Session, senderOpts...)

	s.registry = registry.New(
		registry.WithClock(s.clock),
		registry.WithProber(registry.ProberFunc(s.probe)),
		registry.WithEvictHook(s.onEvict),
	)

	handlers := []handler.Handler{
		handler.KeepAlive{},
		&handler.MessageHandler{Inbox: s.inbox},
		&handler.PeerList{Registry: s.registry},
	}
	if cfg.Role.AcceptsRegistrations {
		initHandler := &handler.Initialization{
			Registry:         s.registry,
			Self:             s.identity,
			AssignClusters:   cfg.Role.AssignsClusters,
			Priority:         cfg.PeerPriority,
			KeepAliveTimeout: cfg.KeepAliveTimeout,
		}
		if cfg.Role.IssuesTokens {
			initHandler.Issuer = s.issuer
		}
		handlers = append(handlers, initHandler)
	}
	s.dispatcher = handler.NewDispatcher(cfg.Role.Name, s.identity, s.registry, handlers...)

	if strings.TrimSpace(cfg.UpstreamAddr) != "" {
		s.client = NewClient(ClientConfig{
			UpstreamAddr:       cfg.UpstreamAddr,
			AdvertisePort:      s.advertisePort,
			KeepAliveTimeout:   cfg.KeepAliveTimeout,
			ReregisterInterval: cfg.ReregisterInterval,
		}, s.sender, s.identity, s.registry, s.upstreamValidator)
	}
	return s, nil
}

func (s *Service) Config() ServiceConfig           { return s.cfg }
func (s *Service) Identity() *Identity             { return s.identity }
func (s *Service) Registry() *registry.Registry    { return s.registry }
func (s *Service) Sender() *session.Sender         { return s.sender }
func (s *Service) Dispatcher() *handler.Dispatcher { return s.dispatcher }
func (s *Service) Inbox() *handler.Inbox           { return s.inbox }
func (s *Service) Client() *Client                 { return s.client }
func (s *Service) ActiveConnections() int64        { return s.active.Load() }

// Run binds the listener and the admin surface, then serves until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	// Known before the client's first registration attempt.
	s.bindPort(ln)
	log.Info().
		Str("role", s.cfg.Role.Name).
		Str("addr", ln.Addr().String()).
		Bool("tls", s.cfg.Session.TLS.Enabled).
		Msg("tier.Service.Run listening")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           s.AdminRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			log.Info().Str("addr", addr).Msg("tier.Service.Run admin listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("admin: %w", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SweepLoop(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	if s.client != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.client.Run(ctx)
		}()
	}

	select {
	case err = <-serveErr:
	case err = <-errs:
		cancel()
		<-serveErr
	}
	cancel()
	wg.Wait()
	return err
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// Serve accepts connections on ln until ctx is cancelled. Accept waits are
// bounded by AcceptTimeout when the listener supports deadlines. Every
// connection runs in its own goroutine.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	var tlsCfg *tls.Config
	if s.cfg.Session.TLS.Enabled {
		var err error
		if tlsCfg, err = s.cfg.Session.ServerTLSConfig(); err != nil {
			return err
		}
	}
	s.bindPort(ln)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		s.closeAllConns()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	dl, _ := ln.(deadlineListener)
	for {
		if dl != nil {
			_ = dl.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if tlsCfg != nil {
			conn = tls.Server(conn, tlsCfg)
		}
		s.trackConn(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn reads one frame, answers it with one frame and closes.
func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	s.active.Add(1)
	defer s.active.Add(-1)

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Session.ReadTimeout))
	raw, err := frame.ReadFrame(bufio.NewReader(conn), s.cfg.Session.Limits)
	if err != nil {
		log.Debug().Err(err).Str("remote", remote).Msg("tier.handleConn read frame")
		return
	}

	var out protocol.Packet
	pkt, err := frame.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("tier.handleConn decode frame")
		observability.RecordPacket(s.cfg.Role.Name, "undecodable", false, 0)
		out = s.dispatcher.ErrorReply("", "invalid frame")
	} else {
		out = s.dispatcher.Dispatch(ctx, handler.Request{Packet: pkt, RemoteAddr: conn.RemoteAddr()})
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
	if err := frame.WritePacket(conn, out); err != nil {
		log.Warn().Err(err).Str("remote", remote).Str("packet_id", out.ID).Msg("tier.handleConn write response")
	}
}

func (s *Service) bindPort(ln net.Listener) {
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.boundPort.Store(int32(tcpAddr.Port))
	}
}

func (s *Service) advertisePort() int {
	if s.cfg.AdvertisePort > 0 {
		return s.cfg.AdvertisePort
	}
	return int(s.boundPort.Load())
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
