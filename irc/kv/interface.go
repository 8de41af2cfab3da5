// Copyright (c) 2022 Valentin Lorentz
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

// Package kv defines the key-value abstraction the account store is written
// against. Keys are plain strings; values are usually JSON.
package kv

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and Delete for a missing key.
	ErrNotFound = errors.New("not found")
)

// SetOptions controls key expiry.
type SetOptions struct {
	Expires bool
	TTL     time.Duration
}

type Tx interface {
	AscendKeys(pattern string, iterator func(key, value string) bool) error
	Delete(key string) (val string, err error)
	Get(key string) (val string, err error)
	Set(key string, value string, opts *SetOptions) (previousValue string, replaced bool, err error)
}

type Store interface {
	Close() error
	Update(fn func(tx Tx) error) error
	View(fn func(tx Tx) error) error
}
