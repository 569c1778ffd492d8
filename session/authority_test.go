package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAuthorityIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req authRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "authenticate", req.Action)
		assert.Equal(t, "user-9", req.UserID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"ppToken":"pp","jsessionId":"js","userId":"ref-9"}}`))
	}))
	defer srv.Close()

	a := NewHTTPAuthority(srv.URL, "secret", 100)
	creds, err := a.Issue(context.Background(), "user-9")
	require.NoError(t, err)
	assert.Equal(t, Credentials{CredentialA: "pp", CredentialB: "js", AccountRef: "ref-9"}, creds)
}

func TestHTTPAuthorityRenewRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "renew_tokens", req.Action)

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"ppToken":"pp2","jsessionId":"js2"}}`))
	}))
	defer srv.Close()

	a := NewHTTPAuthority(srv.URL, "", 100)
	creds, err := a.Renew(context.Background(), "user-9")
	require.NoError(t, err)
	assert.Equal(t, "pp2", creds.CredentialA)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPAuthorityFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"success false", http.StatusOK, `{"success":false,"error":"token expired"}`},
		{"empty credentials", http.StatusOK, `{"success":true,"data":{"ppToken":""}}`},
		{"client error", http.StatusUnauthorized, `unauthorized`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPAuthority(srv.URL, "", 100).Issue(context.Background(), "u")
			require.Error(t, err)
			var authErr *AuthError
			assert.ErrorAs(t, err, &authErr)
		})
	}
}
