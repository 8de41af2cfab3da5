// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package utils

import "testing"

func TestStringToBool(t *testing.T) {
	for _, str := range []string{"on", "TRUE", "y", "enabled"} {
		if result, err := StringToBool(str); err != nil || !result {
			t.Errorf("%s should be true", str)
		}
	}
	for _, str := range []string{"off", "False", "n", "disabled"} {
		if result, err := StringToBool(str); err != nil || result {
			t.Errorf("%s should be false", str)
		}
	}
	if _, err := StringToBool("maybe"); err != ErrInvalidParams {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

func TestBoolDefaultTrue(t *testing.T) {
	no := false
	if BoolDefaultTrue(nil) != true || BoolDefaultTrue(&no) != false {
		t.Errorf("BoolDefaultTrue broken")
	}
}
