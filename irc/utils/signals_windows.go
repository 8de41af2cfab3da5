//go:build windows

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
	ServerExitSignals = []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	}

	// no SIGHUP or SIGUSR1 on windows
	ServerRehashSignals    []os.Signal
	ServerTracebackSignals []os.Signal
)
