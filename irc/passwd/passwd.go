// Copyright (c) 2018 Shivaram Lingamneni
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package passwd

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/sha3"
)

const (
	MinCost     = bcrypt.MinCost
	DefaultCost = 12 // ballpark: 250 msec on a modern Intel CPU
)

var (
	// ErrEmptyPassword means that an empty password was given.
	ErrEmptyPassword = errors.New("empty password")
)

// Passphrases are first hashed with SHA3-512 and the digest is then
// bcrypted, so passphrases longer than bcrypt's 72-byte limit are still
// checked in full.

// GenerateFromPassword hashes a passphrase for storage.
func GenerateFromPassword(password []byte, cost int) (result []byte, err error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	if cost < MinCost {
		cost = DefaultCost
	}
	sum := sha3.Sum512(password)
	return bcrypt.GenerateFromPassword(sum[:], cost)
}

// CompareHashAndPassword returns nil if password matches a hash produced
// by GenerateFromPassword.
func CompareHashAndPassword(hashedPassword, password []byte) error {
	sum := sha3.Sum512(password)
	return bcrypt.CompareHashAndPassword(hashedPassword, sum[:])
}

// Cost returns the bcrypt cost of a stored hash, so that hashes created
// with an outdated cost can be upgraded on the next successful login.
func Cost(hashedPassword []byte) (int, error) {
	return bcrypt.Cost(hashedPassword)
}
