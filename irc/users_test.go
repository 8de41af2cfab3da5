// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ergochat/saslserv/irc/sasl"
)

func TestRemoveServerTree(t *testing.T) {
	var users userTable
	users.Initialize()

	// 0SS <- 001 <- 002 <- 003, and 001 <- 004
	users.addServer("001", "hub.example.org", "0SS")
	users.addServer("002", "leaf.example.org", "001")
	users.addServer("003", "leaf2.example.org", "002")
	users.addServer("004", "other.example.org", "001")
	for _, uid := range []string{"001AAAAAA", "002AAAAAA", "003AAAAAA", "003AAAAAB", "004AAAAAA"} {
		users.add(sasl.Client{ID: uid})
	}

	lost := users.removeServer("002")
	sort.Strings(lost)
	assert.Equal(t, []string{"002AAAAAA", "003AAAAAA", "003AAAAAB"}, lost)
	assert.Equal(t, 2, users.count())

	_, ok := users.serverName("003")
	assert.False(t, ok)
	name, ok := users.serverName("004")
	assert.True(t, ok)
	assert.Equal(t, "other.example.org", name)
}

func TestUserModify(t *testing.T) {
	var users userTable
	users.Initialize()
	users.add(sasl.Client{ID: "001AAAAAA", Nick: "alice"})

	users.setAccount("001AAAAAA", "alice")
	client, ok := users.modify("001AAAAAA", func(client *sasl.Client) {
		client.Nick = "alice_"
	})
	assert.True(t, ok)
	assert.Equal(t, "alice_", client.Nick)
	assert.Equal(t, "alice", client.Account)

	_, ok = users.modify("001AAAAAB", func(client *sasl.Client) {})
	assert.False(t, ok)

	_, ok = users.remove("001AAAAAA")
	assert.True(t, ok)
	_, ok = users.get("001AAAAAA")
	assert.False(t, ok)
}
