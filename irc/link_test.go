// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUplinkSID = "001"

// fakeUplink is the far end of a link, playing the network's IRC server.
type fakeUplink struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	done   chan error
}

func startTestLink(t *testing.T, server *Server) *fakeUplink {
	ours, theirs := net.Pipe()
	link := NewLink(server, server.Config(), ours)
	server.link.Store(link)

	ctx, cancel := context.WithCancel(context.Background())
	uplink := &fakeUplink{
		t:      t,
		conn:   theirs,
		reader: bufio.NewReader(theirs),
		done:   make(chan error, 1),
	}
	go func() {
		uplink.done <- link.Run(ctx)
	}()
	t.Cleanup(func() {
		theirs.Close()
		cancel()
		<-uplink.done
		server.link.Store(nil)
	})
	return uplink
}

func (u *fakeUplink) send(line string) {
	u.t.Helper()
	u.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := fmt.Fprintf(u.conn, "%s\r\n", line)
	require.NoError(u.t, err)
}

func (u *fakeUplink) expect(command string) ircmsg.Message {
	u.t.Helper()
	u.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := u.reader.ReadString('\n')
	require.NoError(u.t, err)
	msg, err := ircmsg.ParseLine(strings.TrimRight(line, "\r\n"))
	require.NoError(u.t, err)
	require.Equal(u.t, command, msg.Command, "unexpected line %q", line)
	return msg
}

// handshake completes the link and consumes our burst.
func (u *fakeUplink) handshake() {
	u.t.Helper()
	pass := u.expect("PASS")
	assert.Equal(u.t, []string{"linkpass", "TS", "6", "0SS"}, pass.Params)
	u.expect("CAPAB")
	server := u.expect("SERVER")
	assert.Equal(u.t, "saslserv.example.org", server.Params[0])

	u.send("PASS uplinkpass TS 6 :" + testUplinkSID)
	u.send("CAPAB :QS EX ENCAP EUID SERVICES")
	u.send("SERVER irc.example.org 1 :uplink")

	u.expect("SVINFO")
	uid := u.expect("UID")
	assert.Equal(u.t, "SaslServ", uid.Params[0])
	assert.Equal(u.t, "0SSAAAAAA", uid.Params[7])
	mechlist := u.expect("ENCAP")
	assert.Equal(u.t, []string{"*", "MECHLIST", "EXTERNAL,PLAIN,SCRAM-SHA-256"}, mechlist.Params)
	u.expect("PING")
}

func TestLinkHandshake(t *testing.T) {
	server := newTestServer(t)
	uplink := startTestLink(t, server)
	uplink.handshake()

	name, ok := server.users.serverName(testUplinkSID)
	assert.True(t, ok)
	assert.Equal(t, "irc.example.org", name)

	uplink.send(":" + testUplinkSID + " PING irc.example.org :0SS")
	pong := uplink.expect("PONG")
	assert.Equal(t, []string{"saslserv.example.org", "irc.example.org"}, pong.Params)

	// killing the agent makes it come back
	uplink.send(":001AAAAAB KILL 0SSAAAAAA :go away")
	uplink.expect("UID")
}

func TestLinkPasswordMismatch(t *testing.T) {
	server := newTestServer(t)
	uplink := startTestLink(t, server)

	uplink.expect("PASS")
	uplink.expect("CAPAB")
	uplink.expect("SERVER")
	uplink.send("PASS wrongpass TS 6 :" + testUplinkSID)
	uplink.expect("ERROR")

	select {
	case err := <-uplink.done:
		assert.Equal(t, errLinkPasswordMismatch, err)
		uplink.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("link did not close")
	}
}

func TestLinkSASLLogin(t *testing.T) {
	server := newTestServer(t)
	require.NoError(t, server.Accounts().Register("alice", "hunter2", ""))
	uplink := startTestLink(t, server)
	uplink.handshake()

	const uid = "001AAAAAB"
	uplink.send(":001 ENCAP * SASL " + uid + " 0SSAAAAAA H example.com 192.0.2.1")
	uplink.send(":001 ENCAP * SASL " + uid + " 0SSAAAAAA S PLAIN")
	challenge := uplink.expect("ENCAP")
	assert.Equal(t, "0SSAAAAAA", challenge.Source)
	assert.Equal(t, []string{"irc.example.org", "SASL", "0SSAAAAAA", uid, "C", "+"}, challenge.Params)

	uplink.send(":001 ENCAP * SASL " + uid + " 0SSAAAAAA C " + plainResponse("", "alice", "hunter2"))
	svslogin := uplink.expect("ENCAP")
	assert.Equal(t, []string{"irc.example.org", "SVSLOGIN", uid, "*", "*", "*", "alice"}, svslogin.Params)
	outcome := uplink.expect("ENCAP")
	assert.Equal(t, []string{"irc.example.org", "SASL", "0SSAAAAAA", uid, "D", "S"}, outcome.Params)

	uplink.send(":001 EUID alice 1 1700000000 +i alice example.com 192.0.2.1 " + uid + " * alice :Alice")
	notice := uplink.expect("NOTICE")
	assert.Equal(t, uid, notice.Params[0])
	assert.Contains(t, notice.Params[1], "alice")

	assert.Nil(t, server.sasl.Find(uid))
	assert.Equal(t, 1, server.Accounts().LoginCount("alice"))

	uplink.send(":" + uid + " QUIT :bye")
	// round trip so the QUIT has been processed
	uplink.send(":001 PING irc.example.org :0SS")
	uplink.expect("PONG")
	assert.Equal(t, 0, server.Accounts().LoginCount("alice"))
}

func TestLinkSASLFailure(t *testing.T) {
	server := newTestServer(t)
	require.NoError(t, server.Accounts().Register("alice", "hunter2", ""))
	uplink := startTestLink(t, server)
	uplink.handshake()

	const uid = "001AAAAAC"
	uplink.send(":001 ENCAP * SASL " + uid + " 0SSAAAAAA S NONSENSE")
	mechs := uplink.expect("ENCAP")
	assert.Equal(t, []string{"irc.example.org", "SASL", "0SSAAAAAA", uid, "M", "EXTERNAL,PLAIN,SCRAM-SHA-256"}, mechs.Params)
	outcome := uplink.expect("ENCAP")
	assert.Equal(t, "F", outcome.Params[5])

	uplink.send(":001 ENCAP * SASL " + uid + " 0SSAAAAAA S PLAIN")
	uplink.expect("ENCAP")
	uplink.send(":001 ENCAP * SASL " + uid + " 0SSAAAAAA C " + plainResponse("", "alice", "wrong"))
	outcome = uplink.expect("ENCAP")
	assert.Equal(t, []string{"irc.example.org", "SASL", "0SSAAAAAA", uid, "D", "F"}, outcome.Params)

	account, err := server.Accounts().LoadClientAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, account.Failures.Count)
}

func TestLinkPendingLoginWithoutUniqueIDs(t *testing.T) {
	server := newTestServer(t)
	require.NoError(t, server.Accounts().Register("alice", "hunter2", ""))
	config := *server.Config()
	config.SASL.uniqueIDs = false
	server.config.Store(&config)

	uplink := startTestLink(t, server)
	uplink.handshake()

	// the SASL id is not the UID the client will be introduced with
	const saslID, uid = "001XYZ", "001AAAAAC"
	uplink.send(":001 ENCAP * SASL " + saslID + " 0SSAAAAAA S PLAIN")
	uplink.expect("ENCAP")
	uplink.send(":001 ENCAP * SASL " + saslID + " 0SSAAAAAA C " + plainResponse("", "alice", "wrong"))
	outcome := uplink.expect("ENCAP")
	assert.Equal(t, "F", outcome.Params[5])

	uplink.send(":001 ENCAP * SASL " + saslID + " 0SSAAAAAA S PLAIN")
	uplink.expect("ENCAP")
	uplink.send(":001 ENCAP * SASL " + saslID + " 0SSAAAAAA C " + plainResponse("", "alice", "hunter2"))
	svslogin := uplink.expect("ENCAP")
	assert.Equal(t, "SVSLOGIN", svslogin.Params[1])
	outcome = uplink.expect("ENCAP")
	assert.Equal(t, "S", outcome.Params[5])

	uplink.send(":001 EUID alice 1 1700000000 +i alice example.com 192.0.2.1 " + uid + " * alice :Alice")
	notice := uplink.expect("NOTICE")
	assert.Equal(t, uid, notice.Params[0])
	assert.Contains(t, notice.Params[1], "logged in as")
	notice = uplink.expect("NOTICE")
	assert.Contains(t, notice.Params[1], "failed login attempts")

	// the marker is consumed: a later burst restore is silent
	uplink.send(":001 EUID alice2 1 1700000000 +i alice example.com 192.0.2.1 001AAAAAD * alice :Alice")
	uplink.send(":001 PING irc.example.org :0SS")
	uplink.expect("PONG")

	assert.Equal(t, 2, server.Accounts().LoginCount("alice"))
	account, err := server.Accounts().LoadClientAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, 0, account.Failures.Count)
	assert.False(t, account.LastSeen.IsZero())
}

func TestLinkServerSplit(t *testing.T) {
	server := newTestServer(t)
	uplink := startTestLink(t, server)
	uplink.handshake()

	uplink.send(":001 SID leaf.example.org 2 002 :leaf")
	uplink.send(":002 EUID bob 1 1700000000 +i bob host 0 002AAAAAB * bob :Bob")
	uplink.send(":001 EUID carol 1 1700000000 +i carol host 0 001AAAAAB * * :Carol")
	uplink.send(":001 PING irc.example.org :0SS")
	uplink.expect("PONG")
	assert.Equal(t, 2, server.users.count())
	assert.Equal(t, 1, server.Accounts().LoginCount("bob"))

	uplink.send(":001 SQUIT 002 :netsplit")
	uplink.send(":001 PING irc.example.org :0SS")
	uplink.expect("PONG")
	assert.Equal(t, 1, server.users.count())
	assert.Equal(t, 0, server.Accounts().LoginCount("bob"))
}
