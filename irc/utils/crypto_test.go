// Copyright (c) 2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package utils

import (
	"strings"
	"testing"
)

const (
	storedToken = "1e82d113a59a874cccf82063ec603221"
	badToken    = "1e82d113a59a874cccf82063ec603222"
	shortToken  = "1e82d113a59a874cccf82063ec60322"
	longToken   = "1e82d113a59a874cccf82063ec6032211"
)

func TestGenerateSecretToken(t *testing.T) {
	token := GenerateSecretToken()
	if len(token) != SecretTokenLength {
		t.Errorf("bad token: %v", token)
	}
	if token == GenerateSecretToken() {
		t.Errorf("tokens should be random")
	}
}

func TestGenerateSalt(t *testing.T) {
	salt, err := GenerateSalt(24)
	if err != nil || len(salt) != 24 {
		t.Errorf("bad salt: %v %v", salt, err)
	}
}

func TestTokenCompare(t *testing.T) {
	if !SecretTokensMatch(storedToken, storedToken) {
		t.Error("matching tokens must match")
	}

	if SecretTokensMatch(storedToken, badToken) {
		t.Error("non-matching tokens must not match")
	}

	if SecretTokensMatch(storedToken, shortToken) {
		t.Error("non-matching tokens must not match")
	}

	if SecretTokensMatch(storedToken, longToken) {
		t.Error("non-matching tokens must not match")
	}

	if SecretTokensMatch("", "") {
		t.Error("the empty token should not match anything")
	}

	if SecretTokensMatch("", storedToken) {
		t.Error("the empty token should not match anything")
	}
}

func TestNormalizeCertfp(t *testing.T) {
	sha256fp := strings.Repeat("AB", 32)
	if NormalizeCertfp(sha256fp) != strings.Repeat("ab", 32) {
		t.Errorf("failed to normalize %s", sha256fp)
	}
	colons := strings.TrimSuffix(strings.Repeat("ab:", 32), ":")
	if NormalizeCertfp(colons) != strings.Repeat("ab", 32) {
		t.Errorf("failed to normalize %s", colons)
	}
	if NormalizeCertfp(strings.Repeat("ab", 20)) != "" {
		t.Errorf("accepted a SHA-1 fingerprint")
	}
	if NormalizeCertfp("not hex at all") != "" {
		t.Errorf("accepted garbage")
	}
}
