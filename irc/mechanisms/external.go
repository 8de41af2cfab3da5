// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package mechanisms

import (
	"github.com/ergochat/saslserv/irc/sasl"
	"github.com/ergochat/saslserv/irc/utils"
)

// External implements RFC 4422 EXTERNAL against the TLS client certificate
// fingerprint reported by the client's server. The client's response, if
// not empty, is the authorization identity.
type External struct {
	credentials Credentials
}

func (m *External) Name() string {
	return "EXTERNAL"
}

func (m *External) Start(s *sasl.Session) (sasl.Result, []byte) {
	if utils.NormalizeCertfp(s.Certfp()) == "" {
		return sasl.Fail, nil
	}
	return sasl.More, nil
}

func (m *External) Step(s *sasl.Session, input []byte) (sasl.Result, []byte) {
	certfp := utils.NormalizeCertfp(s.Certfp())
	if certfp == "" {
		return sasl.Fail, nil
	}
	account, err := m.credentials.AccountForCertfp(certfp)
	if err != nil {
		return sasl.Fail, nil
	}
	s.SetAuthcid(account)
	if len(input) != 0 {
		s.SetAuthzid(string(input))
	}
	return sasl.Done, nil
}

func (m *External) Finish(s *sasl.Session) {}
