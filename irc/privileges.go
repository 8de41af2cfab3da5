// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"github.com/ergochat/saslserv/irc/sasl"
)

// HasPrivilege returns whether the operator class assigned to the given
// casefolded account grants privilege.
func (conf *Config) HasPrivilege(casefoldedAccount, privilege string) bool {
	oc := conf.opers[casefoldedAccount]
	return oc != nil && oc.Capabilities[privilege]
}

// OperClassOf returns the operator class assigned to the given casefolded
// account, or nil.
func (conf *Config) OperClassOf(casefoldedAccount string) *OperClass {
	return conf.opers[casefoldedAccount]
}

// HasPrivilege implements sasl.Privileges against the current config, so
// privilege changes take effect on rehash.
func (server *Server) HasPrivilege(account sasl.Account, privilege string) bool {
	return server.Config().HasPrivilege(account.NameCasefolded, privilege)
}
