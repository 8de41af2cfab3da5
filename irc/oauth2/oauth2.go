// Copyright 2022-2023 Simon Ser <contact@emersion.fr>
// Modifications copyright 2024 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// Copyright (c) 2026 the saslserv contributors
// Released under the MIT license

// Package oauth2 validates OAuth 2.0 bearer tokens against an RFC 7662
// token introspection endpoint.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultIntrospectionTimeout = 10 * time.Second
)

var (
	ErrAuthDisabled = fmt.Errorf("OAuth 2.0 authentication is disabled")

	// all cases where the infrastructure is working correctly, but we determined
	// that the user supplied an invalid token
	ErrInvalidToken = fmt.Errorf("OAuth 2.0 bearer token invalid")
)

type IntrospectionConfig struct {
	Enabled              bool          `yaml:"enabled"`
	IntrospectionURL     string        `yaml:"introspection-url"`
	IntrospectionTimeout time.Duration `yaml:"introspection-timeout"`
	// omit for `none`, required for `client_secret_basic`
	ClientID     string `yaml:"client-id"`
	ClientSecret string `yaml:"client-secret"`

	client *http.Client
}

func (o *IntrospectionConfig) Postprocess() error {
	if !o.Enabled {
		return nil
	}

	if o.IntrospectionTimeout == 0 {
		o.IntrospectionTimeout = defaultIntrospectionTimeout
	}

	u, err := url.Parse(o.IntrospectionURL)
	if err != nil {
		return fmt.Errorf("invalid introspection-url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("invalid introspection-url: unsupported scheme %q", u.Scheme)
	}

	o.client = &http.Client{Timeout: o.IntrospectionTimeout}
	return nil
}

// Introspect asks the authorization server whether token is active, and
// returns the username it was issued to.
func (o *IntrospectionConfig) Introspect(ctx context.Context, token string) (username string, err error) {
	if !o.Enabled {
		return "", ErrAuthDisabled
	}
	client := o.client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, o.IntrospectionTimeout)
	defer cancel()

	reqValues := make(url.Values)
	reqValues.Set("token", token)
	reqValues.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.IntrospectionURL, strings.NewReader(reqValues.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create OAuth 2.0 introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	if o.ClientID != "" {
		req.SetBasicAuth(url.QueryEscape(o.ClientID), url.QueryEscape(o.ClientSecret))
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send OAuth 2.0 introspection request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OAuth 2.0 introspection error: %v", resp.Status)
	}

	var data introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("failed to decode OAuth 2.0 introspection response: %w", err)
	}

	if !data.Active {
		return "", ErrInvalidToken
	}
	if data.Expiry != 0 && time.Unix(data.Expiry, 0).Before(time.Now()) {
		return "", ErrInvalidToken
	}
	if data.Username == "" {
		// without a username, any token holder could log in as anyone
		return "", fmt.Errorf("missing username in OAuth 2.0 introspection response")
	}

	return data.Username, nil
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Username string `json:"username"`
	Expiry   int64  `json:"exp"`
}
