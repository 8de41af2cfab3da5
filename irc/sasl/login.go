// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

import (
	"fmt"
)

// impersonation privileges, most general first
const (
	PrivImpersonateAny       = "impersonate:any"
	PrivImpersonateClassFmt  = "impersonate:class:%s"
	PrivImpersonateEntityFmt = "impersonate:entity:%s"

	// operator class of accounts that are not operators
	defaultOperClass = "user"
)

// ImpersonationRequest is passed to impersonation hooks; a hook grants the
// request by setting Allowed.
type ImpersonationRequest struct {
	Source  Account
	Target  Account
	Allowed bool
}

// ImpersonationHook is an external impersonation policy.
type ImpersonationHook func(req *ImpersonationRequest)

// loginUser decides whether an authenticated session may log in, and as
// which account.
func (m *Manager) loginUser(s *Session) (target Account, err error) {
	mechName := s.mechanismName()

	source, err := m.accounts.LoadAccount(s.authcid)
	if err != nil {
		m.audit("", s.id, AuditWarning, fmt.Sprintf("failed LOGIN (%s) to nonexistent account %s", mechName, s.authcid))
		return target, ErrNoSuchAccount
	}

	target = source
	if s.authzid != "" {
		target, err = m.accounts.LoadAccount(s.authzid)
		if err != nil {
			m.audit(source.Name, s.id, AuditWarning, fmt.Sprintf("failed LOGIN (%s) to nonexistent account %s", mechName, s.authzid))
			return target, ErrNoSuchAccount
		}
	}
	impersonating := target.NameCasefolded != source.NameCasefolded

	if target.StrictAccess {
		allowed := true
		for _, client := range m.accounts.ClientsFor(source.NameCasefolded) {
			if !m.accounts.VerifyAccess(client, target) {
				m.relay.Notice(client.ID, fmt.Sprintf("A login to %s was refused because your connection does not match its access list", target.Name))
				allowed = false
			}
		}
		if !allowed {
			m.audit(source.Name, s.id, AuditDenied, fmt.Sprintf("failed LOGIN (%s) to %s (strict access mismatch)", mechName, target.Name))
			return target, ErrStrictAccess
		}
	}

	if source.Frozen {
		m.audit(source.Name, s.id, AuditDenied, fmt.Sprintf("failed LOGIN (%s) to %s (frozen)", mechName, source.Name))
		return target, ErrAccountFrozen
	}

	if impersonating {
		if !m.mayImpersonate(source, target) {
			m.audit(source.Name, s.id, AuditDenied, fmt.Sprintf("denied IMPERSONATE by %s to %s", source.Name, target.Name))
			return target, ErrImpersonationDenied
		}
		m.audit(source.Name, s.id, AuditInfo, fmt.Sprintf("allowed IMPERSONATE by %s to %s", source.Name, target.Name))

		if target.Frozen {
			m.audit(source.Name, s.id, AuditDenied, fmt.Sprintf("failed LOGIN (%s) to %s (frozen)", mechName, target.Name))
			return target, ErrAccountFrozen
		}
	}

	if m.maxLogins > 0 && m.accounts.LoginCount(target.NameCasefolded) >= m.maxLogins {
		m.audit(source.Name, s.id, AuditDenied, fmt.Sprintf("failed LOGIN (%s) to %s (too many logins)", mechName, target.Name))
		return target, ErrTooManyLogins
	}

	// the LOGIN audit line is written once the user's nick!user@host is known
	s.phase = phaseAuthPending
	s.authzid = target.Name

	if !m.relay.UsesUniqueIDs() {
		m.accounts.MarkPendingLogin(target.NameCasefolded)
	}
	return target, nil
}

func (m *Manager) mayImpersonate(source, target Account) bool {
	if m.privileges != nil {
		if m.privileges.HasPrivilege(source, PrivImpersonateAny) {
			return true
		}

		class := target.OperClass
		if class == "" {
			class = defaultOperClass
		}
		if m.privileges.HasPrivilege(source, fmt.Sprintf(PrivImpersonateClassFmt, class)) {
			return true
		}

		if m.privileges.HasPrivilege(source, fmt.Sprintf(PrivImpersonateEntityFmt, target.NameCasefolded)) {
			return true
		}
	}

	req := ImpersonationRequest{Source: source, Target: target}
	for _, hook := range m.hooks {
		hook(&req)
	}
	return req.Allowed
}
