// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"strings"

	"golang.org/x/text/secure/precis"
)

// Each pass of PRECIS casefolding is a composition of idempotent operations,
// but not idempotent itself. Therefore, RFC 8264 says "do it four times and hope
// it converges" (lolwtf). Golang's PRECIS implementation has a "repeat" option,
// which provides this functionality, but unfortunately it's not exposed publicly.
func iterateFolding(profile *precis.Profile, oldStr string) (str string, err error) {
	str = oldStr
	// follow the stabilizing rules laid out here:
	// https://tools.ietf.org/html/draft-ietf-precis-7564bis-10.html#section-7
	for i := 0; i < 4; i++ {
		str, err = profile.CompareKey(str)
		if err != nil {
			return "", err
		}
		if oldStr == str {
			break
		}
		oldStr = str
	}
	if oldStr != str {
		return "", errCouldNotStabilize
	}
	return str, nil
}

// Casefold returns a casefolded string, without doing any name character checks.
func Casefold(str string) (string, error) {
	return iterateFolding(precis.UsernameCaseMapped, str)
}

// CasefoldName returns a casefolded version of an account name.
func CasefoldName(name string) (string, error) {
	lowered, err := Casefold(name)

	if err != nil {
		return "", err
	} else if len(lowered) == 0 {
		return "", errStringIsEmpty
	}

	// space can't be used
	// , is used as a separator
	// * and ? are used in mask matching
	// . denotes a server name
	// ! and @ separate the parts of a nick!user@host
	// : means trailing
	// $ is an extban prefix in account-based bans
	if strings.ContainsAny(lowered, " ,*?.!@:$") || strings.ContainsAny(string(lowered[0]), "#~&%+-") {
		return "", errInvalidCharacter
	}

	return lowered, err
}
