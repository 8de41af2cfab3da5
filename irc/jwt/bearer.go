// Copyright (c) 2024 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

// Package jwt validates signed JSON Web Tokens presented as OAUTHBEARER
// credentials, without a round trip to an authorization server.
package jwt

import (
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrAuthDisabled        = fmt.Errorf("JWT authentication is disabled")
	ErrNoValidAccountClaim = fmt.Errorf("JWT token did not contain an acceptable account name claim")
)

// BearerConfig lists the token issuers whose JWTs are accepted.
type BearerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tokens  []TokenConfig `yaml:"tokens"`
}

// TokenConfig describes one accepted signing key.
type TokenConfig struct {
	Algorithm     string        `yaml:"algorithm"`
	KeyString     string        `yaml:"key"`
	KeyFile       string        `yaml:"key-file"`
	AccountClaims []string      `yaml:"account-claims"`
	StripDomain   string        `yaml:"strip-domain"`
	Issuer        string        `yaml:"issuer"`
	Leeway        time.Duration `yaml:"leeway"`

	key    any
	parser *jwt.Parser
}

func (j *BearerConfig) Postprocess() error {
	if !j.Enabled {
		return nil
	}

	if len(j.Tokens) == 0 {
		return fmt.Errorf("JWT authentication enabled, but no valid tokens defined")
	}

	for i := range j.Tokens {
		if err := j.Tokens[i].Postprocess(); err != nil {
			return fmt.Errorf("invalid JWT token config %d: %w", i, err)
		}
	}

	return nil
}

func (j *TokenConfig) Postprocess() error {
	keyBytes, err := j.keyBytes()
	if err != nil {
		return err
	}

	j.Algorithm = strings.ToLower(j.Algorithm)

	var methods []string
	switch j.Algorithm {
	case "hmac":
		j.key = keyBytes
		methods = []string{"HS256", "HS384", "HS512"}
	case "rsa":
		rsaKey, err := jwt.ParseRSAPublicKeyFromPEM(keyBytes)
		if err != nil {
			return err
		}
		j.key = rsaKey
		methods = []string{"RS256", "RS384", "RS512"}
	case "eddsa":
		eddsaKey, err := jwt.ParseEdPublicKeyFromPEM(keyBytes)
		if err != nil {
			return err
		}
		j.key = eddsaKey
		methods = []string{"EdDSA"}
	default:
		return fmt.Errorf("invalid jwt algorithm: %s", j.Algorithm)
	}

	options := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithLeeway(j.Leeway)}
	if j.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.Issuer))
	}
	j.parser = jwt.NewParser(options...)

	if len(j.AccountClaims) == 0 {
		return fmt.Errorf("no account-claims specified")
	}

	j.StripDomain = strings.ToLower(j.StripDomain)
	return nil
}

// Validate returns the account name carried by the first token config
// that accepts t.
func (j *BearerConfig) Validate(t string) (accountName string, err error) {
	if !j.Enabled || len(j.Tokens) == 0 {
		return "", ErrAuthDisabled
	}

	for i := range j.Tokens {
		accountName, err = j.Tokens[i].Validate(t)
		if err == nil {
			return
		}
	}
	return
}

func (j *TokenConfig) keyBytes() (result []byte, err error) {
	if j.KeyFile != "" {
		return os.ReadFile(j.KeyFile)
	}
	if j.KeyString != "" {
		return []byte(j.KeyString), nil
	}
	return nil, fmt.Errorf("no JWT key specified")
}

// implements jwt.Keyfunc
func (j *TokenConfig) keyFunc(_ *jwt.Token) (interface{}, error) {
	return j.key, nil
}

func (j *TokenConfig) Validate(t string) (accountName string, err error) {
	token, err := j.parser.Parse(t, j.keyFunc)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		// impossible with Parse (as opposed to ParseWithClaims)
		return "", fmt.Errorf("unexpected type from parsed token claims: %T", claims)
	}

	for _, c := range j.AccountClaims {
		v, ok := claims[c].(string)
		if !ok || v == "" {
			continue
		}
		// email-style claims are accepted only for the configured domain
		if idx := strings.IndexByte(v, '@'); idx != -1 {
			if strings.ToLower(v[idx+1:]) != j.StripDomain {
				continue
			}
			v = v[:idx]
		}
		return v, nil
	}

	return "", ErrNoValidAccountClaim
}
