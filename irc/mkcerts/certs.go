// Copyright (c) 2016 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package mkcerts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"
)

const validFor = 10 * 365 * 24 * time.Hour

// CreateClientCertBytes creates a self-signed ECDSA client certificate for
// linking to the uplink as serverName. It returns the PEM-encoded cert and
// key, and the hex SHA-256 fingerprint the uplink should be configured with.
func CreateClientCertBytes(serverName string) (certBytes, keyBytes []byte, certfp string, err error) {
	validFrom := time.Now()
	notAfter := validFrom.Add(validFor)

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to generate key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: serverName,
		},
		NotBefore: validFrom,
		NotAfter:  notAfter,

		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{serverName},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, "", fmt.Errorf("Failed to create certificate: %w", err)
	}
	certBytes = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	sum := sha256.Sum256(derBytes)
	certfp = hex.EncodeToString(sum[:])

	b, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, "", fmt.Errorf("Unable to marshal ECDSA private key: %w", err)
	}
	keyBytes = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: b})
	return certBytes, keyBytes, certfp, nil
}

// CreateClientCert writes a new client certificate and key to the given
// filenames, refusing to overwrite existing files.
func CreateClientCert(serverName, certFilename, keyFilename string) (certfp string, err error) {
	certBytes, keyBytes, certfp, err := CreateClientCertBytes(serverName)
	if err != nil {
		return "", err
	}

	if err = writeNew(certFilename, certBytes, 0644); err != nil {
		return "", err
	}
	if err = writeNew(keyFilename, keyBytes, 0600); err != nil {
		os.Remove(certFilename)
		return "", err
	}
	return certfp, nil
}

func writeNew(filename string, data []byte, mode os.FileMode) error {
	out, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", filename, err)
	}
	defer out.Close()
	if _, err = out.Write(data); err != nil {
		return fmt.Errorf("failed to write out %s: %w", filename, err)
	}
	return nil
}
