// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"time"

	"github.com/ergochat/saslserv/irc/mysql"
	"github.com/ergochat/saslserv/irc/sasl"
)

func auditLevelName(level sasl.AuditLevel) string {
	switch level {
	case sasl.AuditInfo:
		return "info"
	case sasl.AuditWarning:
		return "warning"
	default:
		return "denied"
	}
}

// Audit implements sasl.Auditor. Entries are logged with type "audit" and
// mirrored into MySQL when it is configured.
func (server *Server) Audit(entry sasl.AuditEntry) {
	account := entry.Account
	if account == "" {
		account = "*"
	}
	if entry.Level == sasl.AuditInfo {
		server.logger.Info("audit", account, entry.ID, entry.Message)
	} else {
		server.logger.Warning("audit", account, entry.ID, entry.Message)
	}

	if server.auditDBEnabled {
		err := server.auditDB.Enqueue(mysql.Entry{
			Time:    time.Now().UTC(),
			Account: entry.Account,
			ID:      entry.ID,
			Level:   auditLevelName(entry.Level),
			Message: entry.Message,
		})
		if err != nil {
			server.logger.Warning("mysql", "Dropped audit entry", err.Error())
		}
	}
}
