package config

import (
	"github.com/danmuck/edgemesh/internal/auth"
	"github.com/danmuck/edgemesh/internal/tier"
)

// ServiceOptions turns the token settings into tier options: an issuer for
// roles that sign tokens, an upstream validator for the others when key
// material is configured.
func (rt Runtime) ServiceOptions() ([]tier.ServiceOption, error) {
	jwtOpts := []auth.JWTOption{auth.WithTokenIssuer(rt.Token.Issuer), auth.WithTokenTTL(rt.Token.TTL)}
	if rt.Service.Role.IssuesTokens {
		issuer, err := rt.issuer(jwtOpts)
		if err != nil {
			return nil, err
		}
		return []tier.ServiceOption{tier.WithIssuer(issuer)}, nil
	}

	var validator auth.Validator
	switch {
	case rt.Token.Secret != "":
		v, err := auth.NewHMACValidator([]byte(rt.Token.Secret), jwtOpts...)
		if err != nil {
			return nil, err
		}
		validator = v
	case rt.Token.PublicKeyFile != "":
		v, err := auth.LoadRSAValidator(rt.Token.PublicKeyFile, jwtOpts...)
		if err != nil {
			return nil, err
		}
		validator = v
	}
	if validator == nil {
		return nil, nil
	}
	return []tier.ServiceOption{tier.WithUpstreamValidator(validator)}, nil
}

func (rt Runtime) issuer(opts []auth.JWTOption) (*auth.JWTIssuer, error) {
	if rt.Token.PrivateKeyFile != "" {
		return auth.LoadRSAIssuer(rt.Token.PrivateKeyFile, opts...)
	}
	return auth.NewHMACIssuer([]byte(rt.Token.Secret), opts...)
}
