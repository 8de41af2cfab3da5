// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package mechanisms

import (
	gosasl "github.com/emersion/go-sasl"

	"github.com/ergochat/saslserv/irc/sasl"
)

// Plain implements RFC 4616 PLAIN.
type Plain struct {
	credentials Credentials
}

func (m *Plain) Name() string {
	return gosasl.Plain
}

func (m *Plain) Start(s *sasl.Session) (sasl.Result, []byte) {
	s.MechState = gosasl.NewPlainServer(func(identity, username, password string) error {
		// set before verifying, so a wrong passphrase is charged to the account
		s.SetAuthcid(username)
		if identity != "" {
			s.SetAuthzid(identity)
		}
		return m.credentials.CheckPassphrase(username, password)
	})
	// no initial response: ask for one
	return sasl.More, nil
}

func (m *Plain) Step(s *sasl.Session, input []byte) (sasl.Result, []byte) {
	server, ok := s.MechState.(gosasl.Server)
	if !ok {
		return sasl.Fail, nil
	}
	result, challenge := next(server, input)
	if result == sasl.More {
		// PLAIN is a single round trip
		return sasl.Fail, nil
	}
	return result, challenge
}

func (m *Plain) Finish(s *sasl.Session) {}
