package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds the lifetime of an identity token.
const DefaultTokenTTL = 24 * time.Hour

// Claims is the body of an identity token. The subject is the peer id.
type Claims struct {
	ParentID  string `json:"pid,omitempty"`
	ClusterID string `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

type JWTOption func(*jwtOptions)

type jwtOptions struct {
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// WithTokenIssuer sets the iss claim written and required.
func WithTokenIssuer(iss string) JWTOption {
	return func(o *jwtOptions) {
		o.issuer = strings.TrimSpace(iss)
	}
}

func WithTokenTTL(ttl time.Duration) JWTOption {
	return func(o *jwtOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithTokenClock(now func() time.Time) JWTOption {
	return func(o *jwtOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []JWTOption) jwtOptions {
	o := jwtOptions{ttl: DefaultTokenTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// JWTIssuer signs identity tokens with HS256 or RS256.
type JWTIssuer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	opts      jwtOptions
}

// NewHMACIssuer signs with a shared secret.
func NewHMACIssuer(secret []byte, opts ...JWTOption) (*JWTIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrSigningKeyRequired
	}
	key := append([]byte(nil), secret...)
	return &JWTIssuer{
		method:    jwt.SigningMethodHS256,
		signKey:   key,
		verifyKey: key,
		opts:      buildOptions(opts),
	}, nil
}

// NewRSAIssuer signs with an RSA private key.
func NewRSAIssuer(key *rsa.PrivateKey, opts ...JWTOption) (*JWTIssuer, error) {
	if key == nil {
		return nil, ErrSigningKeyRequired
	}
	return &JWTIssuer{
		method:    jwt.SigningMethodRS256,
		signKey:   key,
		verifyKey: &key.PublicKey,
		opts:      buildOptions(opts),
	}, nil
}

// LoadRSAIssuer reads a PEM encoded RSA private key from path.
func LoadRSAIssuer(path string, opts ...JWTOption) (*JWTIssuer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read signing key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("auth: parse signing key %s: %w", path, err)
	}
	return NewRSAIssuer(key, opts...)
}

func (i *JWTIssuer) IssueToken(subjectID, parentID, clusterID string) (string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", errors.New("auth: token subject required")
	}
	now := i.opts.now()
	claims := Claims{
		ParentID:  parentID,
		ClusterID: clusterID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.opts.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.opts.ttl)),
		},
	}
	return jwt.NewWithClaims(i.method, claims).SignedString(i.signKey)
}

// Validator returns a JWTValidator that accepts this issuer's tokens.
func (i *JWTIssuer) Validator() *JWTValidator {
	return &JWTValidator{method: i.method, key: i.verifyKey, opts: i.opts}
}

// JWTValidator checks signature, algorithm, expiry and issuer of a token.
type JWTValidator struct {
	method jwt.SigningMethod
	key    any
	opts   jwtOptions
}

func NewHMACValidator(secret []byte, opts ...JWTOption) (*JWTValidator, error) {
	if len(secret) == 0 {
		return nil, ErrSigningKeyRequired
	}
	return &JWTValidator{
		method: jwt.SigningMethodHS256,
		key:    append([]byte(nil), secret...),
		opts:   buildOptions(opts),
	}, nil
}

// LoadRSAValidator reads a PEM encoded RSA public key from path.
func LoadRSAValidator(path string, opts ...JWTOption) (*JWTValidator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read verify key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("auth: parse verify key %s: %w", path, err)
	}
	return &JWTValidator{method: jwt.SigningMethodRS256, key: key, opts: buildOptions(opts)}, nil
}

func (v *JWTValidator) Validate(token string) error {
	_, err := v.Parse(token)
	return err
}

// Parse verifies token and returns its claims. Every failure wraps
// ErrUnauthorized.
func (v *JWTValidator) Parse(token string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithTimeFunc(v.opts.now),
		jwt.WithExpirationRequired(),
	}
	if v.opts.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.opts.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}
