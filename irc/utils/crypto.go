// Copyright (c) 2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	SecretTokenLength = 32
)

// GenerateSecretToken returns 128 random bits, hex-encoded.
func GenerateSecretToken() string {
	var buf [16]byte
	rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// GenerateSalt returns n random bytes.
func GenerateSalt(n int) ([]byte, error) {
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// SecretTokensMatch compares a supplied token against a stored one in
// constant time. An empty stored token matches nothing.
func SecretTokensMatch(storedToken string, suppliedToken string) bool {
	if len(storedToken) == 0 {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(storedToken), []byte(suppliedToken)) == 1
}

// NormalizeCertfp lowercases a hex certificate fingerprint and strips the
// colons some tools print between bytes. It returns "" for anything that
// is not a hex SHA-256 or SHA-512 digest.
func NormalizeCertfp(certfp string) string {
	certfp = strings.ToLower(strings.ReplaceAll(certfp, ":", ""))
	decoded, err := hex.DecodeString(certfp)
	if err != nil || (len(decoded) != 32 && len(decoded) != 64) {
		return ""
	}
	return certfp
}
