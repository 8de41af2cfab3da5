// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package flock

// Flocker releases a lock taken by TryAcquireFlock. gofrs/flock's Flock
// does not satisfy sync.Locker because its Unlock returns an error.
type Flocker interface {
	Unlock() error
}
