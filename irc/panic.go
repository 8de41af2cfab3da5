// Copyright (c) 2021 Shivaram Lingamneni
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"fmt"
	"runtime/debug"
)

// HandlePanic recovers a panic in the named background routine, logging it
// and counting it in the panics_total metric. It must be deferred directly
// by the goroutine that may panic: `defer server.HandlePanic("sweeper")`
func (server *Server) HandlePanic(routine string) {
	if r := recover(); r != nil {
		server.logger.Error("internal", fmt.Sprintf("Panic encountered in %s: %v\n%s", routine, r, debug.Stack()))
		if server.panics != nil {
			server.panics.WithLabelValues(routine).Inc()
		}
	}
}
