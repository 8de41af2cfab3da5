// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

import (
	"strings"
)

type relayed struct {
	kind string
	id   string
	data string
}

type fakeRelay struct {
	uniqueIDs bool
	sent      []relayed
}

func (r *fakeRelay) SendChallenge(id, data string) {
	r.sent = append(r.sent, relayed{"C", id, data})
}

func (r *fakeRelay) SendMechanisms(id, mechanisms string) {
	r.sent = append(r.sent, relayed{"M", id, mechanisms})
}

func (r *fakeRelay) SendLogin(id, account string) {
	r.sent = append(r.sent, relayed{"L", id, account})
}

func (r *fakeRelay) SendOutcome(id string, success bool) {
	outcome := "F"
	if success {
		outcome = "S"
	}
	r.sent = append(r.sent, relayed{"D", id, outcome})
}

func (r *fakeRelay) Notice(id, message string) {
	r.sent = append(r.sent, relayed{"N", id, message})
}

func (r *fakeRelay) UsesUniqueIDs() bool {
	return r.uniqueIDs
}

func (r *fakeRelay) kinds() (result []string) {
	for _, s := range r.sent {
		result = append(result, s.kind+":"+s.data)
	}
	return
}

func (r *fakeRelay) reset() {
	r.sent = nil
}

type fakeAccounts struct {
	accounts map[string]Account
	online   map[string][]Client
	// clients failing the access list of any strict-access account
	denied  map[string]bool
	failed  []string
	pending []string
	logins  []Client
}

func newFakeAccounts(names ...string) *fakeAccounts {
	result := &fakeAccounts{
		accounts: make(map[string]Account),
		online:   make(map[string][]Client),
		denied:   make(map[string]bool),
	}
	for _, name := range names {
		result.add(Account{Name: name})
	}
	return result
}

func (a *fakeAccounts) add(account Account) {
	account.NameCasefolded = strings.ToLower(account.Name)
	a.accounts[account.NameCasefolded] = account
}

func (a *fakeAccounts) LoadAccount(name string) (Account, error) {
	account, ok := a.accounts[strings.ToLower(name)]
	if !ok {
		return Account{}, ErrNoSuchAccount
	}
	return account, nil
}

func (a *fakeAccounts) LoginCount(account string) int {
	return len(a.online[account])
}

func (a *fakeAccounts) ClientsFor(account string) []Client {
	return a.online[account]
}

func (a *fakeAccounts) VerifyAccess(client Client, target Account) bool {
	return !a.denied[client.ID]
}

func (a *fakeAccounts) RecordFailedLogin(account, id, mechanism string) {
	a.failed = append(a.failed, account)
}

func (a *fakeAccounts) MarkPendingLogin(account string) {
	a.pending = append(a.pending, account)
}

func (a *fakeAccounts) Login(client Client, account Account, mechanism string) error {
	client.Account = account.NameCasefolded
	a.logins = append(a.logins, client)
	a.online[account.NameCasefolded] = append(a.online[account.NameCasefolded], client)
	return nil
}

type fakePrivileges struct {
	privs map[string][]string
	calls int
}

func (p *fakePrivileges) HasPrivilege(account Account, privilege string) bool {
	p.calls++
	for _, priv := range p.privs[account.NameCasefolded] {
		if priv == privilege {
			return true
		}
	}
	return false
}

type fakeAuditor struct {
	entries []AuditEntry
}

func (a *fakeAuditor) Audit(entry AuditEntry) {
	a.entries = append(a.entries, entry)
}

func (a *fakeAuditor) find(substr string) (AuditEntry, bool) {
	for _, e := range a.entries {
		if strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return AuditEntry{}, false
}

// scriptedMech is a mechanism whose behavior is supplied by the test.
type scriptedMech struct {
	name     string
	starts   int
	finishes int
	inputs   [][]byte
	start    func(s *Session) (Result, []byte)
	step     func(s *Session, input []byte) (Result, []byte)
}

func (m *scriptedMech) Name() string {
	return m.name
}

func (m *scriptedMech) Start(s *Session) (Result, []byte) {
	m.starts++
	if m.start != nil {
		return m.start(s)
	}
	return More, nil
}

func (m *scriptedMech) Step(s *Session, input []byte) (Result, []byte) {
	m.inputs = append(m.inputs, input)
	if m.step != nil {
		return m.step(s, input)
	}
	return Fail, nil
}

func (m *scriptedMech) Finish(s *Session) {
	m.finishes++
}

// loginAs returns a step function that authenticates as authcid and
// optionally requests authzid.
func loginAs(authcid, authzid string) func(s *Session, input []byte) (Result, []byte) {
	return func(s *Session, input []byte) (Result, []byte) {
		s.SetAuthcid(authcid)
		if authzid != "" {
			s.SetAuthzid(authzid)
		}
		return Done, nil
	}
}
