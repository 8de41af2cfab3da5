// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package mechanisms

import (
	"context"

	gosasl "github.com/emersion/go-sasl"

	"github.com/ergochat/saslserv/irc/jwt"
	"github.com/ergochat/saslserv/irc/oauth2"
	"github.com/ergochat/saslserv/irc/sasl"
)

// TokenValidator maps a bearer token to the account it was issued for.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (account string, err error)
}

// BearerValidator accepts locally verifiable JWTs first, then falls back to
// asking the authorization server.
type BearerValidator struct {
	JWT           *jwt.BearerConfig
	Introspection *oauth2.IntrospectionConfig
}

// Enabled reports whether any validation method is configured.
func (b *BearerValidator) Enabled() bool {
	return (b.JWT != nil && b.JWT.Enabled) || (b.Introspection != nil && b.Introspection.Enabled)
}

func (b *BearerValidator) ValidateToken(ctx context.Context, token string) (account string, err error) {
	err = oauth2.ErrAuthDisabled
	if b.JWT != nil && b.JWT.Enabled {
		if account, err = b.JWT.Validate(token); err == nil {
			return
		}
	}
	if b.Introspection != nil && b.Introspection.Enabled {
		return b.Introspection.Introspect(ctx, token)
	}
	return "", err
}

// OAuthBearer implements RFC 7628 OAUTHBEARER.
type OAuthBearer struct {
	validator TokenValidator
}

type oauthState struct {
	server   gosasl.Server
	rejected bool
}

func (m *OAuthBearer) Name() string {
	return gosasl.OAuthBearer
}

func (m *OAuthBearer) Start(s *sasl.Session) (sasl.Result, []byte) {
	state := &oauthState{}
	state.server = gosasl.NewOAuthBearerServer(func(opts gosasl.OAuthBearerOptions) *gosasl.OAuthBearerError {
		account, err := m.validator.ValidateToken(context.Background(), opts.Token)
		if err != nil || account == "" {
			state.rejected = true
			return &gosasl.OAuthBearerError{Status: "invalid_token", Schemes: "bearer"}
		}
		s.SetAuthcid(account)
		if opts.Username != "" {
			s.SetAuthzid(opts.Username)
		}
		return nil
	})
	s.MechState = state
	return sasl.More, nil
}

func (m *OAuthBearer) Step(s *sasl.Session, input []byte) (sasl.Result, []byte) {
	state, ok := s.MechState.(*oauthState)
	if !ok {
		return sasl.Fail, nil
	}
	// after the error challenge, whatever the client sends ends the exchange
	if state.rejected {
		return sasl.Fail, nil
	}
	return next(state.server, input)
}

func (m *OAuthBearer) Finish(s *sasl.Session) {}

