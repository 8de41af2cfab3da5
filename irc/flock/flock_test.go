// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

//go:build !(plan9 || solaris)

package flock

import (
	"path/filepath"
	"testing"
)

func TestTryAcquireFlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saslserv.db.lock")
	first, err := TryAcquireFlock(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := TryAcquireFlock(path); err != ErrCouldntAcquire {
		t.Errorf("expected ErrCouldntAcquire, got %v", err)
	}
	if err := first.Unlock(); err != nil {
		t.Fatal(err)
	}
	second, err := TryAcquireFlock(path)
	if err != nil {
		t.Fatalf("could not reacquire released lock: %v", err)
	}
	second.Unlock()
}
