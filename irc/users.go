// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"sync"

	"github.com/ergochat/saslserv/irc/sasl"
)

// linkedServer is a server on the network behind our uplink.
type linkedServer struct {
	name   string
	uplink string // SID of the server it is linked to
}

// userTable tracks the servers and users the uplink has introduced.
type userTable struct {
	sync.RWMutex // tier 3

	servers map[string]linkedServer
	users   map[string]sasl.Client
}

func (ut *userTable) Initialize() {
	ut.Lock()
	defer ut.Unlock()
	ut.servers = make(map[string]linkedServer)
	ut.users = make(map[string]sasl.Client)
}

func (ut *userTable) addServer(sid, name, uplink string) {
	ut.Lock()
	defer ut.Unlock()
	ut.servers[sid] = linkedServer{name: name, uplink: uplink}
}

// serverName returns the name of the server with the given SID.
func (ut *userTable) serverName(sid string) (name string, ok bool) {
	ut.RLock()
	defer ut.RUnlock()
	server, ok := ut.servers[sid]
	return server.name, ok
}

// removeServer forgets a server, every server linked behind it, and all
// of their users, whose UIDs it returns.
func (ut *userTable) removeServer(sid string) (lostUsers []string) {
	ut.Lock()
	defer ut.Unlock()

	lost := map[string]bool{sid: true}
	// walk down the tree until no more servers are found behind the lost ones
	for changed := true; changed; {
		changed = false
		for current, server := range ut.servers {
			if !lost[current] && lost[server.uplink] {
				lost[current] = true
				changed = true
			}
		}
	}
	for current := range lost {
		delete(ut.servers, current)
	}
	for uid := range ut.users {
		if lost[uid[:3]] {
			lostUsers = append(lostUsers, uid)
			delete(ut.users, uid)
		}
	}
	return
}

func (ut *userTable) add(client sasl.Client) {
	ut.Lock()
	defer ut.Unlock()
	ut.users[client.ID] = client
}

func (ut *userTable) get(uid string) (client sasl.Client, ok bool) {
	ut.RLock()
	defer ut.RUnlock()
	client, ok = ut.users[uid]
	return
}

func (ut *userTable) remove(uid string) (client sasl.Client, ok bool) {
	ut.Lock()
	defer ut.Unlock()
	client, ok = ut.users[uid]
	delete(ut.users, uid)
	return
}

// modify applies munger to the user with the given UID, if there is one.
func (ut *userTable) modify(uid string, munger func(client *sasl.Client)) (result sasl.Client, ok bool) {
	ut.Lock()
	defer ut.Unlock()
	result, ok = ut.users[uid]
	if ok {
		munger(&result)
		ut.users[uid] = result
	}
	return
}

func (ut *userTable) setAccount(uid, casefoldedAccount string) {
	ut.modify(uid, func(client *sasl.Client) {
		client.Account = casefoldedAccount
	})
}

func (ut *userTable) count() int {
	ut.RLock()
	defer ut.RUnlock()
	return len(ut.users)
}
