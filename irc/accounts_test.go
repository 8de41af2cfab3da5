// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergochat/saslserv/irc/mechanisms"
	"github.com/ergochat/saslserv/irc/sasl"
)

const (
	testCertfp  = "3a8d6f5b0c2e4f7a9b1c3d5e7f9a0b2c4d6e8f0a1b3c5d7e9f0a2b4c6d8e0f1a"
	athemePosix = "$1$hcspif$nCm4r3S14Me9ifsOPGuJT."
	athemeV2    = "$z$65$64000$1kz1I9YJPJ2gkJALbrpL2DoxRDhYPBOg60KNJMK/6do=$Cnfg6pYhBNrVXiaXYH46byrC+3HKet/XvYwvI1BvZbs=$m0hrT33gcF90n2TU3lm8tdm9V9XC4xEV13KsjuT38iY="
)

func TestRegisterAndLoad(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()

	require.NoError(t, am.Register("Alice", "hunter2", ""))
	assert.Equal(t, errAccountAlreadyRegistered, am.Register("ALICE", "other", ""))
	assert.Equal(t, errAccountCreation, am.Register("#chan", "pw", ""))
	assert.Equal(t, errAccountBadPassphrase, am.Register("carol", "", ""))

	account, err := am.LoadClientAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", account.Name)
	assert.Equal(t, "alice", account.NameCasefolded)
	assert.Equal(t, uint(1), account.Credentials.Version)
	assert.NotNil(t, account.Credentials.SCRAMCreds)
	assert.False(t, account.RegisteredAt.IsZero())

	_, err = am.LoadAccount("nobody")
	assert.Equal(t, sasl.ErrNoSuchAccount, err)

	require.NoError(t, am.Unregister("alice"))
	_, err = am.LoadClientAccount("alice")
	assert.Equal(t, errAccountDoesNotExist, err)
}

func TestCheckPassphrase(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("alice", "hunter2", ""))

	assert.NoError(t, am.CheckPassphrase("alice", "hunter2"))
	assert.Equal(t, mechanisms.ErrPassphraseMismatch, am.CheckPassphrase("alice", "hunter3"))

	require.NoError(t, am.SetPassphrase("alice", "correct horse"))
	assert.NoError(t, am.CheckPassphrase("alice", "correct horse"))
	assert.Error(t, am.CheckPassphrase("alice", "hunter2"))
}

func TestImportedHashUpgrade(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("shivaram", "placeholder", ""))
	require.NoError(t, am.ImportPassphraseHash("shivaram", athemePosix))

	account, err := am.LoadClientAccount("shivaram")
	require.NoError(t, err)
	assert.Equal(t, uint(0), account.Credentials.Version)
	_, err = am.SCRAMCredentials("shivaram")
	assert.Equal(t, mechanisms.ErrNoSCRAMCredentials, err)

	assert.Error(t, am.CheckPassphrase("shivaram", "sh1varampassphrase"))
	require.NoError(t, am.CheckPassphrase("shivaram", "shivarampassphrase"))

	// the successful check replaced the imported hash
	account, err = am.LoadClientAccount("shivaram")
	require.NoError(t, err)
	assert.Equal(t, uint(1), account.Credentials.Version)
	assert.NoError(t, am.CheckPassphrase("shivaram", "shivarampassphrase"))
	_, err = am.SCRAMCredentials("shivaram")
	assert.NoError(t, err)
}

func TestImportedSCRAMHash(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("dan", "placeholder", ""))
	require.NoError(t, am.ImportPassphraseHash("dan", athemeV2))

	creds, err := am.SCRAMCredentials("dan")
	require.NoError(t, err)
	assert.Equal(t, 64000, creds.Iters)
	assert.Len(t, creds.StoredKey, 32)

	assert.Equal(t, errAccountBadPassphrase, am.ImportPassphraseHash("dan", ""))
}

func TestCertfps(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("alice", "", strings.ToUpper(testCertfp)))
	require.NoError(t, am.Register("bob", "pw", ""))

	account, err := am.AccountForCertfp(testCertfp)
	require.NoError(t, err)
	assert.Equal(t, "alice", account)

	assert.Equal(t, errCertfpAlreadyExists, am.AddCertfp("bob", testCertfp))
	assert.Equal(t, errInvalidCertfp, am.AddCertfp("bob", "xyz"))
	assert.Equal(t, errNoop, am.AddCertfp("alice", testCertfp))

	// max-certfps is 2
	second := strings.Repeat("ab", 32)
	third := strings.Repeat("cd", 32)
	require.NoError(t, am.AddCertfp("alice", second))
	assert.Equal(t, errLimitExceeded, am.AddCertfp("alice", third))

	// bob cannot remove alice's fingerprint
	assert.Equal(t, errNoop, am.RemoveCertfp("bob", testCertfp))
	require.NoError(t, am.RemoveCertfp("alice", testCertfp))
	_, err = am.AccountForCertfp(testCertfp)
	assert.Equal(t, mechanisms.ErrUnknownCertfp, err)
	require.NoError(t, am.AddCertfp("bob", testCertfp))

	require.NoError(t, am.Unregister("alice"))
	_, err = am.AccountForCertfp(second)
	assert.Error(t, err)
}

func TestAccountSettings(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("alice", "pw", ""))

	require.NoError(t, am.SetFrozen("alice", true, "spam"))
	assert.Equal(t, errNoop, am.SetFrozen("alice", true, "spam"))
	account, err := am.LoadAccount("alice")
	require.NoError(t, err)
	assert.True(t, account.Frozen)
	assert.Equal(t, "spam", account.FreezeReason)

	require.NoError(t, am.SetFrozen("alice", false, ""))
	require.NoError(t, am.SetStrictAccess("alice", true))
	account, err = am.LoadAccount("alice")
	require.NoError(t, err)
	assert.False(t, account.Frozen)
	assert.True(t, account.StrictAccess)

	assert.Equal(t, errAccountDoesNotExist, am.SetStrictAccess("nobody", true))
}

func TestVerifyAccess(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("alice", "pw", ""))
	target, err := am.LoadAccount("alice")
	require.NoError(t, err)

	client := sasl.Client{ID: "0AAAAAAAB", Username: "~alice", Hostname: "home.example.com", IP: "192.0.2.1"}
	// an empty list matches nothing
	assert.False(t, am.VerifyAccess(client, target))

	require.NoError(t, am.AddAccessMask("alice", "*@*.example.com"))
	assert.Equal(t, errNoop, am.AddAccessMask("alice", "*@*.example.com"))
	assert.Equal(t, errInvalidMask, am.AddAccessMask("alice", ""))
	assert.True(t, am.VerifyAccess(client, target))

	client.Hostname = "elsewhere.example.net"
	assert.False(t, am.VerifyAccess(client, target))
	require.NoError(t, am.AddAccessMask("alice", "~alice@192.0.2.*"))
	assert.True(t, am.VerifyAccess(client, target))

	require.NoError(t, am.DelAccessMask("alice", "~alice@192.0.2.*"))
	assert.Equal(t, errNoop, am.DelAccessMask("alice", "~alice@192.0.2.*"))
	assert.False(t, am.VerifyAccess(client, target))
}

func TestLoginTracking(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()

	first := sasl.Client{ID: "0AAAAAAAB", Nick: "one"}
	second := sasl.Client{ID: "0AAAAAAAC", Nick: "two"}
	assert.True(t, am.trackLogin(first, "alice"))
	assert.False(t, am.trackLogin(first, "alice"))
	assert.True(t, am.trackLogin(second, "alice"))
	assert.Equal(t, 2, am.LoginCount("alice"))

	// moving to another account drops the old login
	assert.True(t, am.trackLogin(first, "bob"))
	assert.Equal(t, 1, am.LoginCount("alice"))
	assert.Equal(t, "bob", am.ClientsFor("bob")[0].Account)

	am.Logout(second.ID)
	assert.Equal(t, 0, am.LoginCount("alice"))

	am.MarkPendingLogin("bob")
	am.MarkPendingLogin("bob")
	assert.True(t, am.ConsumePendingLogin("bob"))
	assert.True(t, am.ConsumePendingLogin("bob"))
	assert.False(t, am.ConsumePendingLogin("bob"))

	am.resetLogins()
	assert.Equal(t, 0, am.LoginCount("bob"))
}

func TestFailedLogins(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("alice", "pw", ""))

	for i := 0; i < 4; i++ {
		am.RecordFailedLogin("alice", "0AAAAAAAB", "PLAIN")
	}
	account, err := am.LoadClientAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, 4, account.Failures.Count)
	assert.Equal(t, "PLAIN", account.Failures.LastMechanism)

	// unknown accounts are not recorded
	am.RecordFailedLogin("nobody", "0AAAAAAAB", "PLAIN")

	client := sasl.Client{ID: "0AAAAAAAB", Nick: "alice", Username: "a", Hostname: "h"}
	server.users.add(client)
	target, err := am.LoadAccount("alice")
	require.NoError(t, err)
	require.NoError(t, am.Login(client, target, "PLAIN"))

	account, err = am.LoadClientAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, 0, account.Failures.Count)
	assert.False(t, account.LastSeen.IsZero())
	user, ok := server.users.get(client.ID)
	require.True(t, ok)
	assert.Equal(t, "alice", user.Account)
}

func plainResponse(authzid, authcid, passphrase string) string {
	return base64.StdEncoding.EncodeToString([]byte(authzid + "\x00" + authcid + "\x00" + passphrase))
}

func TestPlainLoginThroughManager(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("alice", "hunter2", ""))

	const id = "0AAAAAAAB"
	server.sasl.Input(sasl.Chunk{ID: id, Mode: sasl.ModeStart, Data: "PLAIN"})
	server.sasl.Input(sasl.Chunk{ID: id, Mode: sasl.ModeContinue, Data: plainResponse("", "alice", "hunter2")})
	require.NotNil(t, server.sasl.Find(id))

	client := sasl.Client{ID: id, Nick: "alice", Username: "alice", Hostname: "example.com"}
	server.users.add(client)
	server.sasl.UserIntroduced(client)
	assert.Nil(t, server.sasl.Find(id))
	assert.Equal(t, 1, am.LoginCount("alice"))
}

func TestImpersonationByOper(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("root", "rootpw", ""))
	require.NoError(t, am.Register("helper", "helperpw", ""))
	require.NoError(t, am.Register("bob", "bobpw", ""))
	require.NoError(t, am.Register("carol", "carolpw", ""))

	root, err := am.LoadAccount("root")
	require.NoError(t, err)
	assert.Equal(t, "admin", root.OperClass)

	login := func(id, authzid, authcid, passphrase string) bool {
		server.sasl.Input(sasl.Chunk{ID: id, Mode: sasl.ModeStart, Data: "PLAIN"})
		server.sasl.Input(sasl.Chunk{ID: id, Mode: sasl.ModeContinue, Data: plainResponse(authzid, authcid, passphrase)})
		return server.sasl.Find(id) != nil
	}

	assert.True(t, login("0AAAAAAAB", "carol", "root", "rootpw"))
	assert.True(t, login("0AAAAAAAC", "bob", "helper", "helperpw"))
	assert.False(t, login("0AAAAAAAD", "carol", "helper", "helperpw"))
	assert.False(t, login("0AAAAAAAE", "root", "bob", "bobpw"))
}

func TestLoginThrottling(t *testing.T) {
	server := newTestServer(t)
	am := server.Accounts()
	require.NoError(t, am.Register("alice", "hunter2", ""))

	for i := 0; i < 3; i++ {
		assert.Equal(t, mechanisms.ErrPassphraseMismatch, am.CheckPassphrase("alice", "wrong"))
	}
	// the correct passphrase is refused too, until the window passes
	assert.Equal(t, errAccountThrottled, am.CheckPassphrase("alice", "hunter2"))

	// rehashing with new settings starts over
	config := *server.Config()
	config.Accounts.LoginThrottling.MaxAttempts = 5
	am.applyConfig(server.Config(), &config)
	assert.NoError(t, am.CheckPassphrase("alice", "hunter2"))
}
