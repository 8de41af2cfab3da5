// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package mkcerts

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateClientCert(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "saslserv.pem"), filepath.Join(dir, "saslserv.key")

	certfp, err := CreateClientCert("saslserv.example.org", certFile, keyFile)
	require.NoError(t, err)

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
	sum := sha256.Sum256(cert.Certificate[0])
	assert.Equal(t, hex.EncodeToString(sum[:]), certfp)

	// existing files are never overwritten
	_, err = CreateClientCert("saslserv.example.org", certFile, filepath.Join(dir, "other.key"))
	assert.Error(t, err)
}
