// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

//go:build !(plan9 || solaris)

package flock

import (
	"errors"

	"github.com/gofrs/flock"
)

var (
	ErrCouldntAcquire = errors.New("Couldn't acquire flock (is another saslserv using this datastore?)")
)

// TryAcquireFlock takes an exclusive lock on path without blocking.
func TryAcquireFlock(path string) (fl Flocker, err error) {
	f := flock.New(path)
	success, err := f.TryLock()
	if err != nil {
		return nil, err
	} else if !success {
		return nil, ErrCouldntAcquire
	}
	return f, nil
}
