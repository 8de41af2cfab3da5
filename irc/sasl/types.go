// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

// ChunkMode is the mode of a chunk relayed to us by an IRC server.
type ChunkMode uint

const (
	// ModeStart opens a session; its payload is (the start of) the mechanism name.
	ModeStart ChunkMode = iota
	// ModeContinue carries base64 client data.
	ModeContinue
	// ModeAbort tears the session down.
	ModeAbort
	// ModeHostInfo carries the connecting client's hostname and IP address.
	ModeHostInfo
)

func (m ChunkMode) String() string {
	switch m {
	case ModeStart:
		return "start"
	case ModeContinue:
		return "continue"
	case ModeAbort:
		return "abort"
	case ModeHostInfo:
		return "hostinfo"
	default:
		return "unknown"
	}
}

// Chunk is one relayed SASL message.
type Chunk struct {
	ID     string // connection id of the client being authenticated
	Server string // name of the relaying server, diagnostics only
	Mode   ChunkMode
	Data   string
	// Ext is the extra parameter of a start chunk (the client certificate
	// fingerprint) or the IP address of a host-info chunk.
	Ext string
}

// Relay sends responses back to the client through its IRC server.
type Relay interface {
	SendChallenge(id string, data string)
	SendMechanisms(id string, mechanisms string)
	SendLogin(id string, account string)
	SendOutcome(id string, success bool)
	Notice(id string, message string)
	// UsesUniqueIDs reports whether connection ids become the user's
	// network-wide unique id once the user is introduced.
	UsesUniqueIDs() bool
}

// Account is a snapshot of the account data needed for authorization.
type Account struct {
	Name           string
	NameCasefolded string
	Frozen         bool
	FreezeReason   string
	StrictAccess   bool
	OperClass      string // empty for ordinary users
}

// Client is a user connected to the network.
type Client struct {
	ID       string
	Nick     string
	Username string
	Hostname string
	IP       string
	Certfp   string
	Account  string // casefolded account the client is logged into, if any
}

// NUH returns the nick!user@host of the client.
func (c Client) NUH() string {
	return c.Nick + "!" + c.Username + "@" + c.Hostname
}

// Accounts is the account store consulted while authorizing logins.
type Accounts interface {
	LoadAccount(name string) (Account, error)
	LoginCount(casefoldedAccount string) int
	ClientsFor(casefoldedAccount string) []Client
	VerifyAccess(client Client, target Account) bool
	RecordFailedLogin(casefoldedAccount string, id string, mechanism string)
	MarkPendingLogin(casefoldedAccount string)
	Login(client Client, account Account, mechanism string) error
}

// Privileges answers whether an account holds a named privilege.
type Privileges interface {
	HasPrivilege(account Account, privilege string) bool
}

// AuditLevel distinguishes routine audit entries from suspicious ones.
type AuditLevel uint

const (
	AuditInfo AuditLevel = iota
	AuditWarning
	AuditDenied
)

// AuditEntry is one line of the authentication audit trail.
type AuditEntry struct {
	Account string // may be empty
	ID      string
	Level   AuditLevel
	Message string
}

// Auditor records audit entries.
type Auditor interface {
	Audit(entry AuditEntry)
}
