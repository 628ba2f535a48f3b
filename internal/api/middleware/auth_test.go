package middleware_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/api/middleware"
	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/auth"
)

const testSigningKey = "test-secret-key-for-testing-only"

func testTokens() *auth.Tokens {
	return auth.NewTokens(auth.Config{SigningKey: testSigningKey})
}

func mustToken(t *testing.T, tokens *auth.Tokens, clientID string) string {
	t.Helper()
	tok, err := tokens.Issue(clientID)
	require.NoError(t, err)
	return tok.Value
}

// echoClient writes the client ID seen by the protected handler.
var echoClient = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(middleware.GetClientID(r.Context())))
})

func TestAuth_Rejects(t *testing.T) {
	expired := auth.NewTokens(auth.Config{SigningKey: testSigningKey, TTL: -time.Minute})
	otherKey := auth.NewTokens(auth.Config{SigningKey: "another-signing-key-of-some-length"})

	tests := []struct {
		name   string
		header string
		detail string
	}{
		{name: "no header", header: "", detail: "missing authorization header"},
		{name: "no scheme", header: "token123", detail: "invalid authorization header format"},
		{name: "basic", header: "Basic dXNlcjpwYXNz", detail: "invalid authorization header format"},
		{name: "scheme only", header: "Bearer", detail: "invalid authorization header format"},
		{name: "empty token", header: "Bearer ", detail: "missing bearer token"},
		{name: "garbage token", header: "Bearer invalid.jwt.token", detail: "invalid access token"},
		{name: "wrong key", header: "Bearer " + mustToken(t, otherKey, "cli_1"), detail: "invalid access token"},
		{name: "expired", header: "Bearer " + mustToken(t, expired, "cli_1"), detail: "access token has expired"},
	}

	handler := middleware.Auth(testTokens())(echoClient)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/trips/trp_1", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, `Bearer realm="navcore"`, rec.Header().Get("WWW-Authenticate"))

			var p models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, models.KindUnauthorized.Type, p.Type)
			assert.Equal(t, tt.detail, p.Detail)
			assert.Equal(t, "/v1/trips/trp_1", p.Instance)
		})
	}
}

func TestAuth_Accepts(t *testing.T) {
	svc := testTokens()
	token := mustToken(t, svc, "cli_device42")
	handler := middleware.Auth(svc)(echoClient)

	for _, scheme := range []string{"Bearer", "bearer", "BEARER"} {
		t.Run(scheme, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/trips/trp_1", http.NoBody)
			req.Header.Set("Authorization", scheme+" "+token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "cli_device42", rec.Body.String())
		})
	}
}

type stubVerifier struct {
	claims *auth.Claims
	err    error
}

func (s stubVerifier) Verify(string) (*auth.Claims, error) {
	return s.claims, s.err
}

func TestAuth_VerifierOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		verifier stubVerifier
		detail   string
	}{
		{name: "backend failure", verifier: stubVerifier{err: errors.New("keyset unavailable")}, detail: "authentication failed"},
		{name: "no client", verifier: stubVerifier{claims: &auth.Claims{}}, detail: "token has no client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/trips/trp_1", http.NoBody)
			req.Header.Set("Authorization", "Bearer abc")
			rec := httptest.NewRecorder()
			middleware.Auth(tt.verifier)(echoClient).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.detail)
		})
	}
}

func TestClientIDContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/trips", http.NoBody)
	assert.Empty(t, middleware.GetClientID(req.Context()))
	assert.Equal(t, "cli_7", middleware.GetClientID(middleware.WithClientID(req.Context(), "cli_7")))
}
