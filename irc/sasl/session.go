// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

import (
	"time"
)

type sessionPhase uint

const (
	// mechanism negotiation and exchange in progress
	phaseNegotiating sessionPhase = iota
	// authentication and authorization succeeded, waiting for the network
	// to introduce the user before the login is final
	phaseAuthPending
	// login completed; the session is about to be destroyed
	phaseLoggedIn
)

func (p sessionPhase) String() string {
	switch p {
	case phaseNegotiating:
		return "negotiating"
	case phaseAuthPending:
		return "auth-pending"
	case phaseLoggedIn:
		return "logged-in"
	default:
		return "unknown"
	}
}

// Session is the state of one SASL exchange. Sessions are owned by the
// Manager; mechanisms only see them while a Start, Step or Finish call
// is in progress.
type Session struct {
	id      string
	server  string
	created time.Time

	mechanism Mechanism
	// MechState is private to the bound mechanism.
	MechState any

	buf []byte

	authcid string
	authzid string
	certfp  string
	host    string
	ip      string

	phase     sessionPhase
	marked    bool
	destroyed bool
}

// ID returns the connection id of the client.
func (s *Session) ID() string {
	return s.id
}

// Server returns the name of the relaying server.
func (s *Session) Server() string {
	return s.server
}

// Mechanism returns the bound mechanism, or nil.
func (s *Session) Mechanism() Mechanism {
	return s.mechanism
}

func (s *Session) mechanismName() string {
	if s.mechanism == nil {
		return "*"
	}
	return s.mechanism.Name()
}

// SetAuthcid records the account whose credentials are being verified.
// Mechanisms should call this as soon as the account is known, so that
// failures can be attributed to it.
func (s *Session) SetAuthcid(account string) {
	s.authcid = account
}

// Authcid returns the authentication identity, or "".
func (s *Session) Authcid() string {
	return s.authcid
}

// SetAuthzid records the account the client asked to log in as.
func (s *Session) SetAuthzid(account string) {
	s.authzid = account
}

// Authzid returns the authorization identity; it defaults to the
// authentication identity.
func (s *Session) Authzid() string {
	if s.authzid == "" {
		return s.authcid
	}
	return s.authzid
}

// SetCertfp records the client certificate fingerprint.
func (s *Session) SetCertfp(certfp string) {
	s.certfp = certfp
}

// Certfp returns the client certificate fingerprint, or "".
func (s *Session) Certfp() string {
	return s.certfp
}

// Host returns the hostname reported by the relaying server, or "".
func (s *Session) Host() string {
	return s.host
}

// IP returns the IP address reported by the relaying server, or "".
func (s *Session) IP() string {
	return s.ip
}

// description used in log lines
func (s *Session) describe() string {
	if s.host != "" {
		return s.id + " (" + s.host + ")"
	}
	return s.id
}
