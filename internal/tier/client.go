package tier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgemesh/internal/auth"
	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/danmuck/edgemesh/internal/protocol/schema"
	"github.com/danmuck/edgemesh/internal/protocol/session"
	"github.com/danmuck/edgemesh/internal/registry"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotRegistered      = errors.New("tier: not registered with upstream")
	ErrUpstreamIdentity   = errors.New("tier: upstream did not identify itself")
	ErrAdvertisePortUnset = errors.New("tier: advertise port unknown")
)

type ClientConfig struct {
	UpstreamAddr string
	// AdvertisePort is read at every registration so a listener bound to
	// port 0 can report its real port.
	AdvertisePort      func() int
	KeepAliveTimeout   time.Duration
	ReregisterInterval time.Duration
}

// Client keeps one service registered with its upstream tier.
type Client struct {
	cfg       ClientConfig
	sender    *session.Sender
	identity  *Identity
	registry  *registry.Registry
	validator auth.Validator

	mu         sync.RWMutex
	upstreamID string

	reregister chan struct{}
}

func NewClient(
	cfg ClientConfig,
	sender *session.Sender,
	identity *Identity,
	reg *registry.Registry,
	validator auth.Validator,
) *Client {
	if cfg.ReregisterInterval <= 0 {
		cfg.ReregisterInterval = 5 * time.Second
	}
	return &Client{
		cfg:        cfg,
		sender:     sender,
		identity:   identity,
		registry:   reg,
		validator:  validator,
		reregister: make(chan struct{}, 1),
	}
}

// Register sends INITIALIZATION upstream and adopts the identity it returns.
// The upstream is recorded as a critical peer so its keep-alive probes are
// recognised and answered.
func (c *Client) Register(ctx context.Context) (IdentitySnapshot, error) {
	port := 0
	if c.cfg.AdvertisePort != nil {
		port = c.cfg.AdvertisePort()
	}
	if port <= 0 {
		return IdentitySnapshot{}, ErrAdvertisePortUnset
	}
	self := c.identity.Snapshot()
	req := protocol.NewPacket(
		protocol.TypeInitialization,
		self.ID,
		self.ClusterID,
		protocol.NewPayload(schema.KeyPort, strconv.Itoa(port)),
	)
	resp, err := c.sender.RetryRequest(ctx, c.cfg.UpstreamAddr, req, protocol.TypeInitializationRes)
	if err != nil {
		return IdentitySnapshot{}, err
	}
	if err := schema.Validate(resp); err != nil {
		return IdentitySnapshot{}, err
	}

	next := IdentitySnapshot{}
	next.ID, _ = resp.Payload.Get(schema.KeyID)
	next.ClusterID, _ = resp.Payload.Get(schema.KeyClusterID)
	next.ParentID, _ = resp.Payload.Get(schema.KeyParentID)
	next.Token, _ = resp.Payload.Get(schema.KeyToken)
	if next.ParentID == "" {
		next.ParentID = resp.SenderID
	}
	if next.ParentID == "" {
		return IdentitySnapshot{}, ErrUpstreamIdentity
	}
	if next.Token != "" && c.validator != nil {
		if err := c.validator.Validate(next.Token); err != nil {
			return IdentitySnapshot{}, fmt.Errorf("tier: upstream token: %w", err)
		}
	}

	host, portRaw, err := net.SplitHostPort(c.cfg.UpstreamAddr)
	if err != nil {
		return IdentitySnapshot{}, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	upstreamPort, err := strconv.Atoi(portRaw)
	if err != nil {
		return IdentitySnapshot{}, fmt.Errorf("tier: upstream port %q: %w", portRaw, err)
	}
	if err := c.registry.Put(registry.Record{
		ID:               next.ParentID,
		IP:               host,
		Port:             upstreamPort,
		ClusterID:        resp.ClusterID,
		Priority:         registry.PriorityCritical,
		KeepAliveTimeout: c.cfg.KeepAliveTimeout,
	}); err != nil {
		return IdentitySnapshot{}, err
	}

	c.mu.Lock()
	previous := c.upstreamID
	c.upstreamID = next.ParentID
	c.mu.Unlock()
	if previous != "" && previous != next.ParentID {
		c.registry.Remove(previous)
	}
	c.identity.Adopt(next)

	log.Info().
		Str("id", next.ID).
		Str("cluster_id", next.ClusterID).
		Str("upstream_id", next.ParentID).
		Str("upstream_addr", c.cfg.UpstreamAddr).
		Bool("token", next.Token != "").
		Msg("tier.Client registered")
	return next, nil
}

// Run registers and stays registered until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	for {
		if _, err := c.Register(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("upstream_addr", c.cfg.UpstreamAddr).Msg("tier.Client register failed")
			if err := session.SleepContext(ctx, c.cfg.ReregisterInterval); err != nil {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-c.reregister:
		}
	}
}

// Reregister asks Run for a fresh registration.
func (c *Client) Reregister() {
	select {
	case c.reregister <- struct{}{}:
	default:
	}
}

func (c *Client) UpstreamID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.upstreamID
}

func (c *Client) IsUpstream(id string) bool {
	return id != "" && id == c.UpstreamID()
}

func (c *Client) Registered() bool {
	return c.UpstreamID() != "" && c.identity.ID() != ""
}

// Send delivers kv as a MESSAGE to the upstream.
func (c *Client) Send(ctx context.Context, kv ...string) error {
	if !c.Registered() {
		return ErrNotRegistered
	}
	self := c.identity.Snapshot()
	p := protocol.NewPacket(protocol.TypeMessage, self.ID, self.ClusterID, protocol.NewPayload(kv...)).
		WithRecipient(self.ParentID)
	return c.sender.Retry(ctx, c.cfg.UpstreamAddr, p)
}

// PeerAddr is one entry of a PEER_LIST_RES.
type PeerAddr struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Peers asks the upstream for the other members of this cluster.
func (c *Client) Peers(ctx context.Context) ([]PeerAddr, error) {
	if !c.Registered() {
		return nil, ErrNotRegistered
	}
	self := c.identity.Snapshot()
	p := protocol.NewPacket(protocol.TypePeerListReq, self.ID, self.ClusterID, protocol.Payload{}).
		WithRecipient(self.ParentID)
	resp, err := c.sender.RetryRequest(ctx, c.cfg.UpstreamAddr, p, protocol.TypePeerListRes)
	if err != nil {
		return nil, err
	}
	out := make([]PeerAddr, 0, resp.Payload.Len())
	for _, e := range resp.Payload.Entries() {
		out = append(out, PeerAddr{ID: e.Key, Addr: strings.TrimSpace(e.Value)})
	}
	return out, nil
}
