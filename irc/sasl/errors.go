// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

import "errors"

// Protocol errors
var (
	errBufferTooLong     = errors.New("SASL buffer exceeded maximum length")
	errMechanismTooLong  = errors.New("Mechanism name too long")
	errUnknownMechanism  = errors.New("Unknown mechanism")
	errInvalidBase64     = errors.New("Invalid base64 encoding")
	errNoIdentity        = errors.New("Mechanism succeeded without setting an identity")
	errMechanismRejected = errors.New("Mechanism rejected the client")
)

// Authorization errors
var (
	ErrNoSuchAccount       = errors.New("Account does not exist")
	ErrAccountFrozen       = errors.New("Account is frozen")
	ErrImpersonationDenied = errors.New("Impersonation denied")
	ErrTooManyLogins       = errors.New("Account has too many logins")
	ErrStrictAccess        = errors.New("Logged-in clients do not match the access list")

	ErrDuplicateMechanism = errors.New("Mechanism is already registered")
)
