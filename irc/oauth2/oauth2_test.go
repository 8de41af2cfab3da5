// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package oauth2

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func introspectionServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		user, pass, ok := r.BasicAuth()
		if !ok || user != "saslserv" || pass != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("token") {
		case "good":
			fmt.Fprint(w, `{"active": true, "username": "alice"}`)
		case "anonymous":
			fmt.Fprint(w, `{"active": true}`)
		case "expired":
			fmt.Fprint(w, `{"active": true, "username": "alice", "exp": 1000}`)
		default:
			fmt.Fprint(w, `{"active": false}`)
		}
	}))
}

func TestIntrospect(t *testing.T) {
	server := introspectionServer(t)
	defer server.Close()

	config := IntrospectionConfig{
		Enabled:          true,
		IntrospectionURL: server.URL,
		ClientID:         "saslserv",
		ClientSecret:     "hunter2",
	}
	require.NoError(t, config.Postprocess())
	assert.Equal(t, defaultIntrospectionTimeout, config.IntrospectionTimeout)

	username, err := config.Introspect(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	_, err = config.Introspect(context.Background(), "bad")
	assert.Equal(t, ErrInvalidToken, err)

	_, err = config.Introspect(context.Background(), "expired")
	assert.Equal(t, ErrInvalidToken, err)

	_, err = config.Introspect(context.Background(), "anonymous")
	assert.Error(t, err)

	config.ClientSecret = "wrong"
	_, err = config.Introspect(context.Background(), "good")
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	var config IntrospectionConfig
	require.NoError(t, config.Postprocess())
	_, err := config.Introspect(context.Background(), "good")
	assert.Equal(t, ErrAuthDisabled, err)

	config = IntrospectionConfig{Enabled: true, IntrospectionURL: "ftp://example.com"}
	assert.Error(t, config.Postprocess())
}
