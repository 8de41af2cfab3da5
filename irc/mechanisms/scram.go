// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package mechanisms

import (
	"github.com/xdg-go/scram"

	"github.com/ergochat/saslserv/irc/sasl"
)

// ScramSHA256 implements RFC 7677 SCRAM-SHA-256 (without channel binding).
type ScramSHA256 struct {
	credentials Credentials
}

type scramState struct {
	conversation *scram.ServerConversation
	// server-final has been sent; the client owes an empty response
	verified bool
}

func (m *ScramSHA256) Name() string {
	return "SCRAM-SHA-256"
}

func (m *ScramSHA256) Start(s *sasl.Session) (sasl.Result, []byte) {
	server, err := scram.SHA256.NewServer(func(username string) (scram.StoredCredentials, error) {
		s.SetAuthcid(username)
		return m.credentials.SCRAMCredentials(username)
	})
	if err != nil {
		return sasl.Fail, nil
	}
	s.MechState = &scramState{conversation: server.NewConversation()}
	return sasl.More, nil
}

func (m *ScramSHA256) Step(s *sasl.Session, input []byte) (sasl.Result, []byte) {
	state, ok := s.MechState.(*scramState)
	if !ok {
		return sasl.Fail, nil
	}

	if state.verified {
		if len(input) != 0 {
			return sasl.Fail, nil
		}
		return sasl.Done, nil
	}

	response, err := state.conversation.Step(string(input))
	if err != nil {
		return sasl.Fail, nil
	}
	if !state.conversation.Done() {
		return sasl.More, []byte(response)
	}
	if !state.conversation.Valid() {
		return sasl.Fail, nil
	}

	if authzid := state.conversation.AuthzID(); authzid != "" {
		s.SetAuthzid(authzid)
	}
	state.verified = true
	return sasl.More, []byte(response)
}

func (m *ScramSHA256) Finish(s *sasl.Session) {}
