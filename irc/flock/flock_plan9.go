// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

//go:build plan9 || solaris

package flock

type noopFlocker struct{}

func (n *noopFlocker) Unlock() error {
	return nil
}

// TryAcquireFlock is a no-op where flock(2) is unavailable.
func TryAcquireFlock(path string) (fl Flocker, err error) {
	return &noopFlocker{}, nil
}
