package tier

import (
	"time"

	"github.com/danmuck/edgemesh/internal/handler"
	"github.com/danmuck/edgemesh/internal/protocol/session"
	"github.com/danmuck/edgemesh/internal/registry"
)

// ServiceConfig is the runtime configuration of one tier.
type ServiceConfig struct {
	Role Role
	// ID is this peer's id. Lower tiers may leave it empty until their
	// upstream assigns one.
	ID        string
	ClusterID string

	ListenAddr string
	// AdvertisePort is the port sent in INITIALIZATION. Zero means the
	// port of the bound listener.
	AdvertisePort int
	AdminAddr     string
	AdminToken    string
	UpstreamAddr  string

	KeepAliveTimeout   time.Duration
	PeerPriority       registry.Priority
	SweepInterval      time.Duration
	AcceptTimeout      time.Duration
	ReregisterInterval time.Duration
	InboxCapacity      int

	Session session.Config
}

func DefaultServiceConfig(role Role) ServiceConfig {
	cfg := ServiceConfig{
		Role:               role,
		KeepAliveTimeout:   registry.DefaultKeepAliveTimeout,
		PeerPriority:       registry.PriorityCritical,
		SweepInterval:      10 * time.Second,
		AcceptTimeout:      time.Second,
		ReregisterInterval: 5 * time.Second,
		InboxCapacity:      handler.DefaultInboxCapacity,
		Session:            session.DefaultConfig(),
	}
	switch role.Name {
	case Coordinator.Name:
		cfg.ListenAddr = ":7000"
	case Server.Name:
		cfg.ListenAddr = ":7100"
	default:
		cfg.ListenAddr = ":7200"
	}
	return cfg
}

// WithDefaults fills zero durations and limits from DefaultServiceConfig.
func (c ServiceConfig) WithDefaults() ServiceConfig {
	def := DefaultServiceConfig(c.Role)
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = def.KeepAliveTimeout
	}
	if c.PeerPriority == "" {
		c.PeerPriority = def.PeerPriority
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = def.AcceptTimeout
	}
	if c.ReregisterInterval <= 0 {
		c.ReregisterInterval = def.ReregisterInterval
	}
	if c.InboxCapacity <= 0 {
		c.InboxCapacity = def.InboxCapacity
	}
	c.Session = c.Session.WithDefaults()
	return c
}
