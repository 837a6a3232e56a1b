// Package config loads the TOML file of one tier and the YAML peer directory
// it points at.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgemesh/internal/observability"
	"github.com/danmuck/edgemesh/internal/protocol/session"
	"github.com/danmuck/edgemesh/internal/registry"
	"github.com/danmuck/edgemesh/internal/tier"
)

// fileConfig maps config.toml keys. Durations are Go duration strings.
type fileConfig struct {
	Role               string `toml:"role"`
	ID                 string `toml:"id"`
	ClusterID          string `toml:"cluster_id"`
	ListenAddr         string `toml:"listen_addr"`
	AdvertisePort      int    `toml:"advertise_port"`
	AdminAddr          string `toml:"admin_addr"`
	AdminToken         string `toml:"admin_token"`
	Upstream           string `toml:"upstream"`
	UpstreamAddr       string `toml:"upstream_addr"`
	PeersFile          string `toml:"peers_file"`
	KeepAliveTimeout   string `toml:"keep_alive_timeout"`
	PeerPriority       string `toml:"peer_priority"`
	SweepInterval      string `toml:"sweep_interval"`
	AcceptTimeout      string `toml:"accept_timeout"`
	ReregisterInterval string `toml:"reregister_interval"`
	ResponseTimeout    string `toml:"response_timeout"`
	ConnectTimeout     string `toml:"connect_timeout"`
	MaxRetries         int    `toml:"max_retries"`
	RetryDelay         string `toml:"retry_delay"`
	InboxCapacity      int    `toml:"inbox_capacity"`
	Tracing            string `toml:"tracing"`

	TokenIssuer         string `toml:"token_issuer"`
	TokenSecret         string `toml:"token_secret"`
	TokenPrivateKeyFile string `toml:"token_private_key_file"`
	TokenPublicKeyFile  string `toml:"token_public_key_file"`
	TokenTTL            string `toml:"token_ttl"`

	SecurityMode  string `toml:"security_mode"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	TLSMutual     bool   `toml:"tls_mutual"`
	TLSCertFile   string `toml:"tls_cert_file"`
	TLSKeyFile    string `toml:"tls_key_file"`
	TLSCAFile     string `toml:"tls_ca_file"`
	TLSServerName string `toml:"tls_server_name"`
}

// TokenConfig selects the key material for identity tokens. A coordinator
// signs with it; lower tiers use it to verify what their upstream sends.
type TokenConfig struct {
	Issuer         string
	Secret         string
	PrivateKeyFile string
	PublicKeyFile  string
	TTL            time.Duration
}

// Runtime is a fully resolved configuration.
type Runtime struct {
	Path    string
	Service tier.ServiceConfig
	Token   TokenConfig
	Peers   Directory
	// Tracing names the span exporter: off or stdout.
	Tracing string
}

// Load reads path as the config of role. A role key in the file must match.
func Load(path string, role tier.Role) (Runtime, error) {
	fail := func(format string, args ...any) (Runtime, error) {
		return Runtime{}, fmt.Errorf("load %s config: "+format, append([]any{role.Name}, args...)...)
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fail("%w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fail("unknown key %q", undecoded[0].String())
	}
	if meta.IsDefined("role") {
		parsed, err := tier.ParseRole(raw.Role)
		if err != nil {
			return fail("%w", err)
		}
		if parsed.Name != role.Name {
			return fail("file is for role %q", parsed.Name)
		}
	}

	cfg := tier.DefaultServiceConfig(role)
	out := Runtime{Path: path, Token: TokenConfig{Issuer: "edgemesh"}}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("cluster_id") {
		cfg.ClusterID = strings.TrimSpace(raw.ClusterID)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("advertise_port") {
		cfg.AdvertisePort = raw.AdvertisePort
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("upstream_addr") {
		cfg.UpstreamAddr = strings.TrimSpace(raw.UpstreamAddr)
	}
	if meta.IsDefined("peer_priority") {
		cfg.PeerPriority = registry.Priority(strings.ToUpper(strings.TrimSpace(raw.PeerPriority)))
	}
	if meta.IsDefined("max_retries") {
		cfg.Session.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("inbox_capacity") {
		cfg.InboxCapacity = raw.InboxCapacity
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"keep_alive_timeout", raw.KeepAliveTimeout, &cfg.KeepAliveTimeout},
		{"sweep_interval", raw.SweepInterval, &cfg.SweepInterval},
		{"accept_timeout", raw.AcceptTimeout, &cfg.AcceptTimeout},
		{"reregister_interval", raw.ReregisterInterval, &cfg.ReregisterInterval},
		{"response_timeout", raw.ResponseTimeout, &cfg.Session.ResponseTimeout},
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"token_ttl", raw.TokenTTL, &out.Token.TTL},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || v <= 0 {
			return fail("%s must be a positive duration, got %q", d.key, d.raw)
		}
		*d.dst = v
	}
	if meta.IsDefined("retry_delay") {
		v, err := time.ParseDuration(strings.TrimSpace(raw.RetryDelay))
		if err != nil || v < 0 {
			return fail("retry_delay must be a duration, got %q", raw.RetryDelay)
		}
		cfg.Session.Backoff = session.BackoffConfig{InitialDelay: v, Multiplier: 1.0, MaxDelay: v}
	}

	if meta.IsDefined("tracing") {
		out.Tracing = strings.ToLower(strings.TrimSpace(raw.Tracing))
	}

	if meta.IsDefined("token_issuer") {
		out.Token.Issuer = strings.TrimSpace(raw.TokenIssuer)
	}
	if meta.IsDefined("token_secret") {
		out.Token.Secret = raw.TokenSecret
	}
	if meta.IsDefined("token_private_key_file") {
		out.Token.PrivateKeyFile = resolvePath(path, raw.TokenPrivateKeyFile)
	}
	if meta.IsDefined("token_public_key_file") {
		out.Token.PublicKeyFile = resolvePath(path, raw.TokenPublicKeyFile)
	}

	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("tls_enabled") {
		cfg.Session.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_mutual") {
		cfg.Session.TLS.Mutual = raw.TLSMutual
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Session.TLS.CertFile = resolvePath(path, raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Session.TLS.KeyFile = resolvePath(path, raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Session.TLS.CAFile = resolvePath(path, raw.TLSCAFile)
	}
	if meta.IsDefined("tls_server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}

	if peersFile := strings.TrimSpace(raw.PeersFile); peersFile != "" {
		dir, err := LoadDirectory(resolvePath(path, peersFile))
		if err != nil {
			return fail("%w", err)
		}
		out.Peers = dir
	}
	if name := strings.TrimSpace(raw.Upstream); name != "" {
		if cfg.UpstreamAddr != "" {
			return fail("set either upstream or upstream_addr, not both")
		}
		addr, err := out.Peers.Resolve(name)
		if err != nil {
			return fail("%w", err)
		}
		cfg.UpstreamAddr = addr
	}

	out.Service = cfg.WithDefaults()
	if err := Validate(out); err != nil {
		return fail("%w", err)
	}
	return out, nil
}

// Validate checks the role rules of a resolved configuration.
func Validate(rt Runtime) error {
	cfg := rt.Service
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if cfg.AdvertisePort < 0 || cfg.AdvertisePort > 65535 {
		return fmt.Errorf("advertise_port %d out of range", cfg.AdvertisePort)
	}
	switch cfg.PeerPriority {
	case registry.PriorityCritical, registry.PriorityGeneric:
	default:
		return fmt.Errorf("peer_priority must be CRITICAL or GENERIC, got %q", cfg.PeerPriority)
	}
	if !observability.ValidTracing(rt.Tracing) {
		return fmt.Errorf("tracing must be off or stdout, got %q", rt.Tracing)
	}
	if cfg.Role.NeedsUpstream && strings.TrimSpace(cfg.UpstreamAddr) == "" {
		return fmt.Errorf("%s requires upstream or upstream_addr", cfg.Role)
	}
	if !cfg.Role.NeedsUpstream && strings.TrimSpace(cfg.UpstreamAddr) != "" {
		return fmt.Errorf("%s has no upstream", cfg.Role)
	}
	if cfg.Role.IssuesTokens && rt.Token.Secret == "" && rt.Token.PrivateKeyFile == "" {
		return fmt.Errorf("%s requires token_secret or token_private_key_file", cfg.Role)
	}
	if rt.Token.Secret != "" && rt.Token.PrivateKeyFile != "" {
		return fmt.Errorf("set either token_secret or token_private_key_file, not both")
	}
	if err := cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	if cfg.Role.NeedsUpstream {
		if err := cfg.Session.ValidateClientTransport(); err != nil {
			return err
		}
	}
	return nil
}

func resolvePath(configPath, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// exists is used by template writers to refuse silent overwrites.
func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
