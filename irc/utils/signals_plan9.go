//go:build plan9

// Copyright (c) 2020 Shivaram Lingamneni
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package utils

import (
	"os"
	"syscall"
)

var (
	// ServerExitSignals stop the daemon, closing the uplink cleanly.
	// (no SIGQUIT on plan9)
	ServerExitSignals = []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
	}

	// no SIGHUP or SIGUSR1 on plan9
	ServerRehashSignals    []os.Signal
	ServerTracebackSignals []os.Signal
)
