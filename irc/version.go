// Copyright (c) 2020 Shivaram Lingamneni
// Copyright (c) 2026 the saslserv contributors
// Released under the MIT license

package irc

import "fmt"

const (
	// SemVer is the semantic version of saslserv.
	SemVer = "0.3.0-unreleased"
)

var (
	// Ver is the full version of saslserv, reported in the uplink's SERVER description.
	Ver = fmt.Sprintf("saslserv-%s", SemVer)
	// Commit is the full git hash, if available
	Commit string
)

// initialize version strings (these are set in package main via linker flags)
func SetVersionString(version, commit string) {
	Commit = commit
	if version != "" {
		Ver = fmt.Sprintf("saslserv-%s", version)
	} else if len(Commit) == 40 {
		Ver = fmt.Sprintf("saslserv-%s-%s", SemVer, Commit[:16])
	}
}
