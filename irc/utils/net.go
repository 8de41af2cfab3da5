// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package utils

import (
	"regexp"
	"strings"
)

var (
	validHostnameLabelRegexp = regexp.MustCompile(`^[0-9A-Za-z.\-]+$`)
)

// IsHostname returns whether we consider `name` a valid hostname.
func IsHostname(name string) bool {
	name = strings.TrimSuffix(name, ".")
	if len(name) < 1 || len(name) > 253 {
		return false
	}

	// ensure each part of hostname is valid
	for _, part := range strings.Split(name, ".") {
		if len(part) < 1 || len(part) > 63 || strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return false
		}
		if !validHostnameLabelRegexp.MatchString(part) {
			return false
		}
	}

	return true
}

// IsServerName returns whether we consider `name` a valid IRC server name.
func IsServerName(name string) bool {
	// IRC server names specifically require a period
	return IsHostname(name) && strings.IndexByte(name, '.') != -1
}

func isUpperAlnum(c byte) bool {
	return ('0' <= c && c <= '9') || ('A' <= c && c <= 'Z')
}

// IsSID returns whether sid is a TS6 server id: a digit followed by two
// uppercase alphanumerics.
func IsSID(sid string) bool {
	return len(sid) == 3 && '0' <= sid[0] && sid[0] <= '9' && isUpperAlnum(sid[1]) && isUpperAlnum(sid[2])
}

// IsUID returns whether uid is a TS6 user id: a SID followed by six
// characters, the first of them a letter.
func IsUID(uid string) bool {
	if len(uid) != 9 || !IsSID(uid[:3]) || !('A' <= uid[3] && uid[3] <= 'Z') {
		return false
	}
	for i := 4; i < 9; i++ {
		if !isUpperAlnum(uid[i]) {
			return false
		}
	}
	return true
}
