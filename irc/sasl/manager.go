// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircutils"

	"github.com/ergochat/saslserv/irc/logger"
)

const (
	// DefaultSweepInterval is the period of the liveness sweeper; a session
	// idle for two periods is destroyed.
	DefaultSweepInterval = 30 * time.Second
)

// Config holds the collaborators of a Manager.
type Config struct {
	Relay      Relay
	Accounts   Accounts
	Privileges Privileges
	Auditor    Auditor
	Logger     *logger.Manager
	Metrics    *Metrics
	// MaxLogins is the number of concurrent logins allowed per account
	// (0 for no limit).
	MaxLogins int
}

// Manager owns all SASL sessions and the mechanism registry. Every exported
// method holds the Manager's mutex for its whole duration, so relay input,
// sweeps, user introductions and mechanism changes are strictly serialized.
type Manager struct {
	sync.Mutex

	sessions   map[string]*Session
	mechanisms registry
	hooks      []ImpersonationHook

	relay      Relay
	accounts   Accounts
	privileges Privileges
	auditor    Auditor
	logger     *logger.Manager
	metrics    *Metrics
	maxLogins  int
}

// NewManager returns a Manager with no mechanisms registered.
func NewManager(config Config) *Manager {
	logman := config.Logger
	if logman == nil {
		logman, _ = logger.NewManager(nil)
	}
	return &Manager{
		sessions:   make(map[string]*Session),
		mechanisms: newRegistry(),
		relay:      config.Relay,
		accounts:   config.Accounts,
		privileges: config.Privileges,
		auditor:    config.Auditor,
		logger:     logman,
		metrics:    config.Metrics,
		maxLogins:  config.MaxLogins,
	}
}

// SetMaxLogins applies a new concurrent-login limit (e.g. after a rehash).
func (m *Manager) SetMaxLogins(maxLogins int) {
	m.Lock()
	defer m.Unlock()
	m.maxLogins = maxLogins
}

// AddImpersonationHook adds a policy hook consulted when no privilege
// allows an impersonation attempt.
func (m *Manager) AddImpersonationHook(hook ImpersonationHook) {
	m.Lock()
	defer m.Unlock()
	m.hooks = append(m.hooks, hook)
}

// RegisterMechanism makes a mechanism available to clients.
func (m *Manager) RegisterMechanism(mech Mechanism) error {
	m.Lock()
	defer m.Unlock()
	if err := m.mechanisms.add(mech); err != nil {
		return err
	}
	m.logger.Debug("sasl", "registered mechanism", mech.Name())
	return nil
}

// UnregisterMechanism removes a mechanism. Every session bound to it is
// failed and destroyed; other sessions are untouched.
func (m *Manager) UnregisterMechanism(name string) (found bool) {
	m.Lock()
	defer m.Unlock()

	mech, found := m.mechanisms.remove(name)
	if !found {
		return false
	}
	for _, session := range m.sessions {
		if session.mechanism == mech {
			m.logger.Info("sasl", "destroying session bound to unregistered mechanism", session.describe(), mech.Name())
			switch session.phase {
			case phaseNegotiating:
				m.relay.SendOutcome(session.id, false)
			case phaseAuthPending:
				// the client was already told it succeeded
				if m.relay.UsesUniqueIDs() {
					m.auditDeferredLogin(session)
				}
			}
			m.destroy(session)
		}
	}
	m.logger.Debug("sasl", "unregistered mechanism", mech.Name())
	return true
}

// Mechanisms returns the comma-separated, sorted list of registered mechanisms.
func (m *Manager) Mechanisms() string {
	m.Lock()
	defer m.Unlock()
	return m.mechanisms.list
}

// SessionCount returns the number of sessions in the table.
func (m *Manager) SessionCount() int {
	m.Lock()
	defer m.Unlock()
	return len(m.sessions)
}

// Find returns the session for a connection id, or nil. It never creates one.
func (m *Manager) Find(id string) *Session {
	m.Lock()
	defer m.Unlock()
	return m.sessions[id]
}

// make returns the session for id, creating it if necessary.
func (m *Manager) make(id, server string) *Session {
	if session, ok := m.sessions[id]; ok {
		return session
	}
	session := &Session{
		id:      id,
		server:  server,
		created: time.Now().UTC(),
	}
	m.sessions[id] = session
	m.metrics.sessionCreated()
	m.logger.Debug("sasl", "new session", id, "from", server)
	return session
}

// destroy releases everything a session holds. It is safe to call more
// than once.
func (m *Manager) destroy(session *Session) {
	if session.destroyed {
		return
	}
	session.destroyed = true

	// without unique ids, the user introduction may never be matched to
	// this session, so the deferred login line is written now
	if session.phase == phaseAuthPending && !m.relay.UsesUniqueIDs() {
		m.auditDeferredLogin(session)
	}

	if session.mechanism != nil {
		session.mechanism.Finish(session)
		session.MechState = nil
	}
	session.buf = nil

	if m.sessions[session.id] == session {
		delete(m.sessions, session.id)
	}
	m.metrics.sessionDestroyed()
}

// auditDeferredLogin writes the login line of a session that will not
// reach finalize.
func (m *Manager) auditDeferredLogin(session *Session) {
	if account, err := m.accounts.LoadAccount(session.Authzid()); err == nil {
		m.audit(account.Name, session.id, AuditInfo, fmt.Sprintf("LOGIN (%s)", session.mechanismName()))
	}
}

// fail reports failure to the client and destroys the session.
func (m *Manager) fail(session *Session, err error) {
	m.logger.Debug("sasl", "session failed", session.describe(), err.Error())
	m.relay.SendOutcome(session.id, false)
	m.destroy(session)
}

// Input processes one relayed chunk.
func (m *Manager) Input(chunk Chunk) {
	m.Lock()
	defer m.Unlock()

	session := m.sessions[chunk.ID]

	switch chunk.Mode {
	case ModeAbort:
		if session != nil {
			m.logger.Debug("sasl", "client aborted", session.describe())
			m.metrics.outcome(session.mechanismName(), "aborted")
			m.destroy(session)
		}
		return
	case ModeHostInfo:
		session = m.make(chunk.ID, chunk.Server)
		session.host = chunk.Data
		session.ip = chunk.Ext
		session.marked = false
		return
	case ModeStart:
		session = m.make(chunk.ID, chunk.Server)
		if chunk.Ext != "" {
			session.certfp = chunk.Ext
		}
	case ModeContinue:
		session = m.make(chunk.ID, chunk.Server)
	default:
		m.logger.Warning("sasl", "unknown chunk mode from", chunk.Server, chunk.Mode.String())
		return
	}

	session.marked = false

	if session.phase != phaseNegotiating {
		m.logger.Debug("sasl", "ignoring data for completed session", session.describe())
		return
	}

	packet, complete, err := session.appendChunk(chunk.Data)
	if err != nil {
		m.metrics.protocolError(err)
		m.fail(session, err)
		return
	}
	if complete {
		m.handlePacket(session, packet)
	}
}

// handlePacket feeds one complete packet to the session's mechanism,
// binding the mechanism first if necessary.
func (m *Manager) handlePacket(session *Session, packet []byte) {
	var result Result
	var challenge []byte

	if session.mechanism == nil {
		if len(packet) > MaxMechanismNameLen {
			m.metrics.protocolError(errMechanismTooLong)
			m.fail(session, errMechanismTooLong)
			return
		}
		mech := m.mechanisms.find(string(packet))
		if mech == nil {
			m.metrics.protocolError(errUnknownMechanism)
			m.relay.SendMechanisms(session.id, m.mechanisms.list)
			m.fail(session, errUnknownMechanism)
			return
		}
		session.mechanism = mech
		m.logger.Debug("sasl", "session", session.describe(), "selected mechanism", mech.Name())
		result, challenge = mech.Start(session)
	} else {
		input, err := decodePacket(packet)
		if err != nil {
			m.metrics.protocolError(err)
			m.fail(session, err)
			return
		}
		result, challenge = session.mechanism.Step(session, input)
	}

	m.handleResult(session, result, challenge)
}

func (m *Manager) handleResult(session *Session, result Result, challenge []byte) {
	mechName := session.mechanismName()

	switch result {
	case More:
		for _, chunk := range ircutils.EncodeSASLResponse(challenge) {
			m.relay.SendChallenge(session.id, chunk)
		}
	case Done:
		if session.authcid == "" {
			m.logger.Error("sasl", "mechanism", mechName, "succeeded without an identity")
			m.metrics.outcome(mechName, "failed")
			m.fail(session, errNoIdentity)
			return
		}
		account, err := m.loginUser(session)
		if err != nil {
			m.logger.Info("sasl", "login refused for", session.describe(), err.Error())
			m.metrics.outcome(mechName, "denied")
			m.metrics.denial(err)
			m.relay.SendOutcome(session.id, false)
			m.destroy(session)
			return
		}
		m.metrics.outcome(mechName, "succeeded")
		m.relay.SendLogin(session.id, account.Name)
		m.relay.SendOutcome(session.id, true)
	case Fail:
		if session.authcid != "" {
			if account, err := m.accounts.LoadAccount(session.authcid); err == nil {
				m.accounts.RecordFailedLogin(account.NameCasefolded, session.id, mechName)
				m.audit(account.Name, session.id, AuditWarning, fmt.Sprintf("failed LOGIN (%s) from %s", mechName, session.describe()))
			}
		}
		m.metrics.outcome(mechName, "failed")
		m.fail(session, errMechanismRejected)
	}
}

// Sweep destroys sessions that saw no activity since the previous sweep
// and marks the rest.
func (m *Manager) Sweep() {
	m.Lock()
	defer m.Unlock()

	for _, session := range m.sessions {
		if session.marked {
			m.logger.Debug("sasl", "destroying stale session", session.describe(), session.phase.String())
			m.metrics.sweep()
			m.destroy(session)
		} else {
			session.marked = true
		}
	}
}

// RunSweeper calls Sweep every interval until ctx is canceled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// UserIntroduced completes a pending login once the network introduces the
// client. Clients that did not authenticate through us are ignored.
func (m *Manager) UserIntroduced(client Client) {
	m.Lock()
	defer m.Unlock()

	session, ok := m.sessions[client.ID]
	if !ok {
		return
	}
	if session.phase != phaseAuthPending {
		m.logger.Debug("sasl", "user introduced before completing SASL", client.ID)
		m.destroy(session)
		return
	}
	m.finalize(session, client)
}

// finalize moves a session from phaseAuthPending to phaseLoggedIn, now that
// the client's full identity is known, and destroys it.
func (m *Manager) finalize(session *Session, client Client) {
	mechName := session.mechanismName()
	authzid := session.Authzid()
	session.phase = phaseLoggedIn

	account, err := m.accounts.LoadAccount(authzid)
	if err != nil {
		m.relay.Notice(client.ID, fmt.Sprintf("Account %s dropped, login cancelled", authzid))
		m.audit("", client.ID, AuditWarning, fmt.Sprintf("LOGIN (%s) to vanished account %s by %s cancelled", mechName, authzid, client.NUH()))
		m.destroy(session)
		return
	}

	m.destroy(session)

	if err := m.accounts.Login(client, account, mechName); err != nil {
		m.logger.Error("sasl", "could not log in", client.NUH(), "to", account.Name, err.Error())
		return
	}
	m.audit(account.Name, client.ID, AuditInfo, fmt.Sprintf("LOGIN (%s) by %s", mechName, client.NUH()))
}

func (m *Manager) audit(account, id string, level AuditLevel, message string) {
	if m.auditor != nil {
		m.auditor.Audit(AuditEntry{Account: account, ID: id, Level: level, Message: message})
	}
}
