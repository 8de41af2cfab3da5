// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import "errors"

// Account Errors
var (
	errAccountAlreadyRegistered  = errors.New("Account already exists")
	errAccountCreation           = errors.New("Account could not be created")
	errAccountDoesNotExist       = errors.New("Account does not exist")
	errAccountInvalidCredentials = errors.New("Invalid account credentials")
	errAccountThrottled          = errors.New("Too many login attempts, try again later")
	errAccountBadPassphrase      = errors.New("Passphrase contains forbidden characters or is otherwise invalid")
	errAccountUpdateFailed       = errors.New("Error while updating account information")
	errCertfpAlreadyExists       = errors.New("An account already exists with that certificate")
	errInvalidCertfp             = errors.New("Invalid certificate fingerprint")
	errLimitExceeded             = errors.New("Limit exceeded")
	errNoop                      = errors.New("Action was a no-op")
	errInvalidMask               = errors.New("Invalid user@host mask")
)

// String Errors
var (
	errCouldNotStabilize = errors.New("Could not stabilize string while casefolding")
	errStringIsEmpty     = errors.New("String is empty")
	errInvalidCharacter  = errors.New("Invalid character")
)

// Link Errors
var (
	errLinkPasswordMismatch = errors.New("Uplink sent the wrong password")
	errLinkNotTS6           = errors.New("Uplink does not speak TS6")
	errLinkClosed           = errors.New("Uplink closed the connection")
	errLinkHandshakeTimeout = errors.New("Uplink did not complete the handshake in time")
)

// Config Errors
var (
	ErrDatastorePathMissing  = errors.New("Datastore path missing")
	ErrServerNameMissing     = errors.New("Server name missing")
	ErrServerNameNotHostname = errors.New("Server name must match the format of a hostname")
	ErrSIDInvalid            = errors.New("Server SID must be a digit followed by two alphanumeric characters")
	ErrUplinkAddressMissing  = errors.New("Uplink address missing")
	ErrUplinkPasswordMissing = errors.New("Uplink send and accept passwords must both be set")
	ErrAgentNickMissing      = errors.New("Agent nickname missing")
	ErrNoMechanisms          = errors.New("No SASL mechanisms are enabled")
	ErrMetricsListenMissing  = errors.New("Metrics are enabled but no listen address is set")
	ErrOperClassDependencies = errors.New("OperClasses contains a looping dependency, or a class extends from a class that doesn't exist")
	ErrOperUnknownClass      = errors.New("Oper is assigned an operator class that doesn't exist")
)
