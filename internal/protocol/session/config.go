package session

import (
	"time"

	"github.com/danmuck/edgemesh/internal/protocol/frame"
)

// SecurityMode selects how strictly transport security is enforced.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig is the optional transport security layer around plain TCP.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRetries      int
	Backoff         BackoffConfig
	Limits          frame.Limits
	SecurityMode    SecurityMode
	TLS             TLSConfig
}

// DefaultConfig returns the protocol defaults: one second to answer, three
// attempts, a fixed one second pause between attempts.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  5 * time.Second,
		ResponseTimeout: time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxRetries:      3,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   1.0,
			MaxDelay:     time.Second,
			Jitter:       false,
		},
		Limits:       frame.DefaultLimits(),
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = def.ResponseTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	c.Limits = c.Limits.WithDefaults()
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
