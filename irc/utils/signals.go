//go:build !plan9 && !windows

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

	// ServerRehashSignals reload the configuration.
	ServerRehashSignals = []os.Signal{
		syscall.SIGHUP,
	}

	// ServerTracebackSignals dump all goroutine stacks to the log.
	ServerTracebackSignals = []os.Signal{
		syscall.SIGUSR1,
	}
)
