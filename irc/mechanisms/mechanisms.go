// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

// Package mechanisms implements the SASL mechanisms offered to clients.
package mechanisms

import (
	"errors"
	"fmt"
	"strings"

	gosasl "github.com/emersion/go-sasl"
	"github.com/xdg-go/scram"

	"github.com/ergochat/saslserv/irc/sasl"
)

var (
	ErrPassphraseMismatch = errors.New("Passphrase did not match")
	ErrNoCertfp           = errors.New("Client did not present a certificate")
	ErrUnknownCertfp      = errors.New("Certificate fingerprint is not registered")
	ErrNoSCRAMCredentials = errors.New("Account has no SCRAM credentials")
	ErrUnknownMechanism   = errors.New("Unknown mechanism")
)

// Credentials is the part of the account store the mechanisms verify
// proofs against.
type Credentials interface {
	// CheckPassphrase returns nil if passphrase is correct for account.
	CheckPassphrase(account, passphrase string) error
	// AccountForCertfp returns the account a fingerprint is registered to.
	AccountForCertfp(certfp string) (account string, err error)
	// SCRAMCredentials returns the SCRAM-SHA-256 verifiers of account.
	SCRAMCredentials(account string) (scram.StoredCredentials, error)
}

// Dependencies are the collaborators a mechanism may need.
type Dependencies struct {
	Credentials Credentials
	Bearer      TokenValidator
}

// New returns the mechanism with the given (case-insensitive) name.
func New(name string, deps Dependencies) (sasl.Mechanism, error) {
	switch strings.ToUpper(name) {
	case "PLAIN":
		return &Plain{credentials: deps.Credentials}, nil
	case "EXTERNAL":
		return &External{credentials: deps.Credentials}, nil
	case "SCRAM-SHA-256":
		return &ScramSHA256{credentials: deps.Credentials}, nil
	case "OAUTHBEARER":
		if deps.Bearer == nil {
			return nil, fmt.Errorf("OAUTHBEARER requires jwt or oauth2 token validation to be configured")
		}
		return &OAuthBearer{validator: deps.Bearer}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMechanism, name)
	}
}

// next feeds input to a go-sasl server and translates the outcome.
func next(server gosasl.Server, input []byte) (sasl.Result, []byte) {
	challenge, done, err := server.Next(input)
	switch {
	case err != nil:
		return sasl.Fail, nil
	case done:
		return sasl.Done, nil
	default:
		return sasl.More, challenge
	}
}
