// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/ergochat/irc-go/ircreader"

	"github.com/ergochat/saslserv/irc/logger"
	"github.com/ergochat/saslserv/irc/sasl"
	"github.com/ergochat/saslserv/irc/utils"
)

const (
	initialBufferSize = 1024
	maxReadQBytes     = 16384

	linkIdleTimeout  = 5 * time.Minute // the uplink pings us far more often than this
	linkWriteTimeout = 30 * time.Second

	ts6Capabilities = "QS EX IE KLN UNKLN ENCAP SERVICES EUID EOPMOD RSFNC"
)

// Link is one connection to the uplink, speaking the TS6 server protocol.
type Link struct {
	server *Server
	config *Config
	conn   net.Conn
	reader ircreader.Reader

	writeMutex sync.Mutex
	closed     atomic.Bool

	// set during the handshake, read only by the reader goroutine
	uplinkSID   string
	uplinkName  string
	gotPass     bool
	established bool

	agentUID string
	users    *userTable
}

// NewLink wraps an established connection to the uplink.
func NewLink(server *Server, config *Config, conn net.Conn) *Link {
	link := &Link{
		server:   server,
		config:   config,
		conn:     conn,
		agentUID: config.Server.SID + "AAAAAA",
		users:    server.users,
	}
	link.reader.Initialize(conn, initialBufferSize, maxReadQBytes)
	return link
}

// Run performs the handshake and processes lines until the connection
// fails or ctx is canceled.
func (link *Link) Run(ctx context.Context) (err error) {
	defer link.Close()

	stop := context.AfterFunc(ctx, func() {
		link.send(ircmsg.MakeMessage(nil, "", "ERROR", "Shutting down"))
		link.Close()
	})
	defer stop()

	link.conn.SetReadDeadline(time.Now().Add(link.config.Uplink.HandshakeTimeout))
	link.sendHandshake()

	for {
		line, err := link.reader.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if !link.established && errors.As(err, &netErr) && netErr.Timeout() {
				return errLinkHandshakeTimeout
			}
			if err == io.EOF {
				return errLinkClosed
			}
			return err
		}
		if link.established {
			link.conn.SetReadDeadline(time.Now().Add(linkIdleTimeout))
		}
		if len(line) == 0 {
			continue
		}

		if link.server.logger.IsLoggingLinkTraffic() {
			link.server.logger.Debug(logger.TypeLinkTraffic, "<-", string(line))
		}

		msg, err := ircmsg.ParseLine(string(line))
		if err != nil {
			link.server.logger.Warning("uplink", "could not parse line from uplink", err.Error())
			continue
		}
		if err = link.dispatch(msg); err != nil {
			link.send(ircmsg.MakeMessage(nil, "", "ERROR", err.Error()))
			return err
		}
	}
}

// Close closes the connection; it is safe to call more than once.
func (link *Link) Close() {
	if link.closed.CompareAndSwap(false, true) {
		link.conn.Close()
	}
}

func (link *Link) send(msg ircmsg.Message) {
	if link.closed.Load() {
		return
	}
	line, err := msg.Line()
	if err != nil {
		link.server.logger.Error("uplink", "refusing to send malformed line", msg.Command, err.Error())
		return
	}

	if link.server.logger.IsLoggingLinkTraffic() {
		link.server.logger.Debug(logger.TypeLinkTraffic, "->", strings.TrimSuffix(line, "\r\n"))
	}

	link.writeMutex.Lock()
	defer link.writeMutex.Unlock()
	link.conn.SetWriteDeadline(time.Now().Add(linkWriteTimeout))
	if _, err = io.WriteString(link.conn, line); err != nil {
		link.server.logger.Error("uplink", "write to uplink failed", err.Error())
		link.Close()
	}
}

func (link *Link) sendFromServer(command string, params ...string) {
	link.send(ircmsg.MakeMessage(nil, link.config.Server.SID, command, params...))
}

func (link *Link) sendFromAgent(command string, params ...string) {
	link.send(ircmsg.MakeMessage(nil, link.agentUID, command, params...))
}

func (link *Link) sendHandshake() {
	config := link.config
	pass := ircmsg.MakeMessage(nil, "", "PASS", config.Uplink.Password, "TS", "6", config.Server.SID)
	pass.ForceTrailing()
	link.send(pass)
	capab := ircmsg.MakeMessage(nil, "", "CAPAB", ts6Capabilities)
	capab.ForceTrailing()
	link.send(capab)
	server := ircmsg.MakeMessage(nil, "", "SERVER", config.Server.Name, "1", fmt.Sprintf("%s (%s)", config.Server.Description, Ver))
	server.ForceTrailing()
	link.send(server)
}

// sendBurst introduces our pseudo-client and advertises our mechanisms.
func (link *Link) sendBurst() {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	svinfo := ircmsg.MakeMessage(nil, "", "SVINFO", "6", "6", "0", now)
	svinfo.ForceTrailing()
	link.send(svinfo)

	link.introduceAgent()
	link.SendMechanismList(link.server.sasl.Mechanisms())
	link.sendFromServer("PING", link.config.Server.Name, link.uplinkSID)
}

func (link *Link) introduceAgent() {
	agent := link.config.Agent
	now := strconv.FormatInt(time.Now().Unix(), 10)
	uid := ircmsg.MakeMessage(nil, link.config.Server.SID, "UID", agent.Nick, "1", now, "+Sio",
		agent.User, agent.Host, "0", link.agentUID, agent.Realname)
	uid.ForceTrailing()
	link.send(uid)
}

// SendMechanismList announces the mechanisms we offer to every server.
func (link *Link) SendMechanismList(mechanisms string) {
	msg := ircmsg.MakeMessage(nil, link.config.Server.SID, "ENCAP", "*", "MECHLIST", mechanisms)
	msg.ForceTrailing()
	link.send(msg)
}

// targetFor returns the name of the server the client with the given
// SASL id is connected to, for use as an ENCAP target.
func (link *Link) targetFor(id string) string {
	if len(id) >= 3 {
		if name, ok := link.users.serverName(id[:3]); ok {
			return name
		}
	}
	return "*"
}

func (link *Link) sendSASL(id, mode, data string) {
	link.sendFromAgent("ENCAP", link.targetFor(id), "SASL", link.agentUID, id, mode, data)
}

func (link *Link) sendSVSLogin(id, account string) {
	link.sendFromServer("ENCAP", link.targetFor(id), "SVSLOGIN", id, "*", "*", "*", account)
}

func (link *Link) sendNotice(id, message string) {
	notice := ircmsg.MakeMessage(nil, link.agentUID, "NOTICE", id, message)
	notice.ForceTrailing()
	link.send(notice)
}

// linkHandler processes one line from the uplink. A returned error closes
// the link.
type linkHandler struct {
	handler   func(link *Link, msg ircmsg.Message) error
	minParams int
	// usable before the uplink has sent SERVER
	usablePreReg bool
}

var linkHandlers map[string]linkHandler

func init() {
	linkHandlers = map[string]linkHandler{
		"PASS": {
			handler:      passHandler,
			minParams:    4,
			usablePreReg: true,
		},
		"CAPAB": {
			handler:      capabHandler,
			minParams:    1,
			usablePreReg: true,
		},
		"SERVER": {
			handler:      serverHandler,
			minParams:    3,
			usablePreReg: true,
		},
		"ERROR": {
			handler:      errorHandler,
			usablePreReg: true,
		},
		"SVINFO": {
			handler:   svinfoHandler,
			minParams: 4,
		},
		"PING": {
			handler:   pingHandler,
			minParams: 1,
		},
		"PONG": {
			handler:   pongHandler,
			minParams: 1,
		},
		"SID": {
			handler:   sidHandler,
			minParams: 4,
		},
		"SQUIT": {
			handler:   squitHandler,
			minParams: 1,
		},
		"EUID": {
			handler:   euidHandler,
			minParams: 11,
		},
		"UID": {
			handler:   uidHandler,
			minParams: 9,
		},
		"NICK": {
			handler:   nickHandler,
			minParams: 1,
		},
		"QUIT": {
			handler: quitHandler,
		},
		"KILL": {
			handler:   killHandler,
			minParams: 1,
		},
		"ENCAP": {
			handler:   encapHandler,
			minParams: 2,
		},
	}
}

func (link *Link) dispatch(msg ircmsg.Message) error {
	cmd, ok := linkHandlers[strings.ToUpper(msg.Command)]
	if !ok {
		return nil
	}
	if !link.established && !cmd.usablePreReg {
		link.server.logger.Debug("uplink", "ignoring command before handshake", msg.Command)
		return nil
	}
	if len(msg.Params) < cmd.minParams {
		link.server.logger.Warning("uplink", "not enough parameters for", msg.Command)
		return nil
	}
	return cmd.handler(link, msg)
}

// PASS <password> TS 6 :<sid>
func passHandler(link *Link, msg ircmsg.Message) error {
	if !utils.SecretTokensMatch(link.config.Uplink.AcceptPassword, msg.Params[0]) {
		return errLinkPasswordMismatch
	}
	if msg.Params[1] != "TS" || msg.Params[2] != "6" || !utils.IsSID(msg.Params[3]) {
		return errLinkNotTS6
	}
	link.gotPass = true
	link.uplinkSID = msg.Params[3]
	return nil
}

// CAPAB :<capabilities>
func capabHandler(link *Link, msg ircmsg.Message) error {
	capabs := strings.Fields(msg.Params[len(msg.Params)-1])
	for _, required := range []string{"ENCAP", "EUID"} {
		if !slices.Contains(capabs, required) {
			link.server.logger.Warning("uplink", "uplink does not support", required)
		}
	}
	return nil
}

// SERVER <name> <hopcount> :<description>
func serverHandler(link *Link, msg ircmsg.Message) error {
	if !link.gotPass {
		return errLinkPasswordMismatch
	}
	if link.established {
		// servers behind the uplink are introduced with SID
		return nil
	}
	link.uplinkName = msg.Params[0]
	link.users.addServer(link.uplinkSID, link.uplinkName, link.config.Server.SID)
	link.established = true
	link.conn.SetReadDeadline(time.Now().Add(linkIdleTimeout))
	link.server.logger.Info("uplink", "linked to", link.uplinkName, link.uplinkSID)
	link.sendBurst()
	return nil
}

// ERROR :<reason>
func errorHandler(link *Link, msg ircmsg.Message) error {
	reason := "unknown reason"
	if len(msg.Params) != 0 {
		reason = msg.Params[0]
	}
	link.server.logger.Error("uplink", "uplink sent ERROR", reason)
	return fmt.Errorf("%w: %s", errLinkClosed, reason)
}

// SVINFO <current> <minimum> 0 :<time>
func svinfoHandler(link *Link, msg ircmsg.Message) error {
	if current, err := strconv.Atoi(msg.Params[0]); err != nil || current < 6 {
		return errLinkNotTS6
	}
	if remote, err := strconv.ParseInt(msg.Params[3], 10, 64); err == nil {
		delta := time.Since(time.Unix(remote, 0))
		if delta > time.Minute || delta < -time.Minute {
			link.server.logger.Warning("uplink", "clock differs from uplink by", delta.Round(time.Second).String())
		}
	}
	return nil
}

// PING <origin> [<destination>]
func pingHandler(link *Link, msg ircmsg.Message) error {
	pong := ircmsg.MakeMessage(nil, link.config.Server.SID, "PONG", link.config.Server.Name, msg.Params[0])
	pong.ForceTrailing()
	link.send(pong)
	return nil
}

// PONG <origin> :<destination>, answering the PING at the end of our burst
func pongHandler(link *Link, msg ircmsg.Message) error {
	if msg.Source == link.uplinkSID || msg.Source == link.uplinkName {
		link.server.logger.Info("uplink", fmt.Sprintf("burst complete, %d users on the network", link.users.count()))
	}
	return nil
}

// :<parent sid> SID <name> <hopcount> <sid> :<description>
func sidHandler(link *Link, msg ircmsg.Message) error {
	if !utils.IsSID(msg.Params[2]) {
		link.server.logger.Warning("uplink", "invalid SID introduced", msg.Params[2])
		return nil
	}
	parent := msg.Source
	if parent == "" {
		parent = link.uplinkSID
	}
	link.users.addServer(msg.Params[2], msg.Params[0], parent)
	return nil
}

// SQUIT <sid> :<reason>
func squitHandler(link *Link, msg ircmsg.Message) error {
	target := msg.Params[0]
	if target == link.config.Server.SID {
		return fmt.Errorf("%w: squit", errLinkClosed)
	}
	lost := link.users.removeServer(target)
	for _, uid := range lost {
		link.server.accounts.Logout(uid)
	}
	link.server.logger.Debug("uplink", "server split", target, fmt.Sprintf("%d users lost", len(lost)))
	return nil
}

// :<sid> EUID <nick> <hops> <ts> <umodes> <user> <host> <ip> <uid> <realhost> <account> :<realname>
func euidHandler(link *Link, msg ircmsg.Message) error {
	client := sasl.Client{
		ID:       msg.Params[7],
		Nick:     msg.Params[0],
		Username: msg.Params[4],
		Hostname: msg.Params[5],
		IP:       msg.Params[6],
	}
	account := msg.Params[9]
	if account == "*" {
		account = ""
	}
	return link.introduce(client, account)
}

// :<sid> UID <nick> <hops> <ts> <umodes> <user> <host> <ip> <uid> :<realname>
func uidHandler(link *Link, msg ircmsg.Message) error {
	client := sasl.Client{
		ID:       msg.Params[7],
		Nick:     msg.Params[0],
		Username: msg.Params[4],
		Hostname: msg.Params[5],
		IP:       msg.Params[6],
	}
	return link.introduce(client, "")
}

func (link *Link) introduce(client sasl.Client, account string) error {
	if !utils.IsUID(client.ID) {
		link.server.logger.Warning("uplink", "invalid UID introduced", client.ID)
		return nil
	}
	if client.IP == "0" {
		client.IP = ""
	}

	var pending bool
	if account != "" {
		if cfAccount, err := CasefoldName(account); err == nil {
			client.Account = cfAccount
			pending = link.server.accounts.ConsumePendingLogin(cfAccount)
		}
	}
	link.users.add(client)
	if pending {
		link.completePendingLogin(client)
	} else if client.Account != "" {
		// burst restore of an existing login
		link.server.accounts.trackLogin(client, client.Account)
	}
	link.server.sasl.UserIntroduced(client)
	return nil
}

// completePendingLogin treats the introduction of a client logged into an
// account with a pending SASL login as that login completing.
func (link *Link) completePendingLogin(client sasl.Client) {
	accounts := &link.server.accounts
	account, err := accounts.LoadAccount(client.Account)
	if err != nil {
		link.server.logger.Warning("sasl", "pending login to vanished account", client.NUH(), client.Account)
		accounts.trackLogin(client, client.Account)
		return
	}
	if err = accounts.Login(client, account, "SASL"); err != nil {
		link.server.logger.Error("sasl", "could not complete login", client.NUH(), account.Name, err.Error())
		return
	}
	link.server.logger.Info("sasl", "pending login completed", client.NUH(), account.Name)
}

// :<uid> NICK <newnick> :<ts>
func nickHandler(link *Link, msg ircmsg.Message) error {
	link.users.modify(msg.Source, func(client *sasl.Client) {
		client.Nick = msg.Params[0]
	})
	return nil
}

// :<uid> QUIT :<reason>
func quitHandler(link *Link, msg ircmsg.Message) error {
	link.userGone(msg.Source)
	return nil
}

// :<source> KILL <uid> :<reason>
func killHandler(link *Link, msg ircmsg.Message) error {
	if msg.Params[0] == link.agentUID {
		// reintroduce ourselves; we are needed
		link.server.logger.Warning("uplink", "agent was killed by", msg.Source)
		link.introduceAgent()
		return nil
	}
	link.userGone(msg.Params[0])
	return nil
}

func (link *Link) userGone(uid string) {
	if _, ok := link.users.remove(uid); ok {
		link.server.accounts.Logout(uid)
	}
}

// :<source> ENCAP <target> <subcommand> <params...>
func encapHandler(link *Link, msg ircmsg.Message) error {
	params := msg.Params[2:]
	switch strings.ToUpper(msg.Params[1]) {
	case "SASL":
		link.encapSASL(params)
	case "LOGIN":
		// :<uid> ENCAP * LOGIN <account>, sent during bursts
		if len(params) >= 1 {
			link.accountChanged(msg.Source, params[0])
		}
	case "SU":
		// :<sid> ENCAP * SU <uid> [<account>]
		if len(params) >= 1 {
			account := ""
			if len(params) >= 2 {
				account = params[1]
			}
			link.accountChanged(params[0], account)
		}
	case "CERTFP":
		// :<uid> ENCAP * CERTFP :<fingerprint>
		if len(params) >= 1 {
			link.users.modify(msg.Source, func(client *sasl.Client) {
				client.Certfp = utils.NormalizeCertfp(params[0])
			})
		}
	}
	return nil
}

// SASL <uid> <agent> <mode> <data> [<ext>]
func (link *Link) encapSASL(params []string) {
	if len(params) < 4 {
		return
	}
	if params[1] != link.agentUID && params[1] != "*" {
		return
	}

	chunk := sasl.Chunk{
		ID:     params[0],
		Server: link.targetFor(params[0]),
		Data:   params[3],
	}
	if len(params) >= 5 {
		chunk.Ext = params[4]
	}
	switch params[2] {
	case "S":
		chunk.Mode = sasl.ModeStart
	case "C":
		chunk.Mode = sasl.ModeContinue
	case "D":
		chunk.Mode = sasl.ModeAbort
	case "H":
		chunk.Mode = sasl.ModeHostInfo
	default:
		link.server.logger.Debug("sasl", "unknown SASL mode from uplink", params[2])
		return
	}
	link.server.sasl.Input(chunk)
}

func (link *Link) accountChanged(uid, account string) {
	client, ok := link.users.get(uid)
	if !ok {
		return
	}
	if account == "" || account == "*" {
		link.server.accounts.Logout(uid)
		link.users.setAccount(uid, "")
		return
	}
	cfAccount, err := CasefoldName(account)
	if err != nil {
		return
	}
	link.server.accounts.trackLogin(client, cfAccount)
	link.users.setAccount(uid, cfAccount)
}
