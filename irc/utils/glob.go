// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package utils

import (
	"bytes"
	"regexp"
	"regexp/syntax"
	"strings"
)

func addGlob(buf *bytes.Buffer, glob string) error {
	for _, r := range glob {
		switch r {
		case '*':
			buf.WriteString(".*")
		case '?':
			buf.WriteString(".")
		case 0xFFFD:
			return &syntax.Error{Code: syntax.ErrInvalidUTF8, Expr: glob}
		default:
			buf.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return nil
}

// CompileGlob compiles a wildcard pattern (* and ?) into an anchored regexp.
func CompileGlob(glob string, caseInsensitive bool) (result *regexp.Regexp, err error) {
	var buf bytes.Buffer
	if caseInsensitive {
		buf.WriteString("(?i)")
	}
	buf.WriteByte('^')
	if err = addGlob(&buf, glob); err != nil {
		return
	}
	buf.WriteByte('$')
	return regexp.Compile(buf.String())
}

// CompileMasks compiles a list of user@host masks into a single
// case-insensitive regexp matching any of them. Hostnames are compared
// case-insensitively, as DNS does.
func CompileMasks(masks []string) (result *regexp.Regexp, err error) {
	var buf bytes.Buffer
	buf.WriteString("(?i)^(")
	for i, mask := range masks {
		if i != 0 {
			buf.WriteByte('|')
		}
		if err = addGlob(&buf, strings.TrimSpace(mask)); err != nil {
			return
		}
	}
	buf.WriteString(")$")
	return regexp.Compile(buf.String())
}
