// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"context"
	"fmt"
	"time"

	"github.com/ergochat/saslserv/irc/logger"
	"github.com/ergochat/saslserv/irc/mysql"
)

const defaultForgetTimeout = 30 * time.Second

// OpenForAdmin opens the datastore for account administration from the
// command line. It fails while a server holds the datastore lock.
func OpenForAdmin(config *Config, logger *logger.Manager) (*Server, error) {
	server := &Server{
		logger: logger,
		users:  new(userTable),
	}
	server.users.Initialize()
	server.accounts.Initialize(server)
	server.config.Store(config)
	if err := server.loadDatastore(config); err != nil {
		return nil, err
	}
	return server, nil
}

// DropAccount unregisters an account and, if the audit log is mirrored into
// MySQL, deletes its audit entries there.
func (server *Server) DropAccount(accountName string) (forgotten int64, err error) {
	account, err := server.accounts.LoadClientAccount(accountName)
	if err != nil {
		return 0, err
	}
	if err = server.accounts.Unregister(account.Name); err != nil {
		return 0, err
	}

	config := server.Config().Datastore.MySQL
	if !config.Enabled {
		return 0, nil
	}
	var auditDB mysql.MySQL
	auditDB.Initialize(server.logger, config)
	if err = auditDB.Open(); err != nil {
		return 0, fmt.Errorf("account dropped, but could not open audit database: %w", err)
	}
	defer auditDB.Close()

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultForgetTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return auditDB.Forget(ctx, account.Name)
}
