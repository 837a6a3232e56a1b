// Package auth holds the token checks used by the admin surface and the
// identity tokens the coordinator hands out during onboarding.
package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrSigningKeyRequired = errors.New("auth: signing key required")
)

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// Issuer mints an identity token binding a peer to its parent and cluster.
type Issuer interface {
	IssueToken(subjectID, parentID, clusterID string) (string, error)
}

// StaticToken accepts exactly one shared token. An empty Token denies all.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// IssuerFunc adapts a function into an Issuer.
type IssuerFunc func(subjectID, parentID, clusterID string) (string, error)

func (f IssuerFunc) IssueToken(subjectID, parentID, clusterID string) (string, error) {
	return f(subjectID, parentID, clusterID)
}
