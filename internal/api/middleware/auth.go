package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/auth"
)

// TokenVerifier verifies bearer tokens. *auth.Tokens implements it.
type TokenVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

type clientIDKey struct{}

// Auth rejects requests without a valid bearer token and stores the
// token's client ID in the request context.
func Auth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, detail := bearerToken(r.Header.Get("Authorization"))
			if detail != "" {
				writeUnauthorized(w, r, detail)
				return
			}

			claims, err := tokens.Verify(token)
			switch {
			case errors.Is(err, auth.ErrAccessTokenExpired):
				writeUnauthorized(w, r, "access token has expired")
				return
			case errors.Is(err, auth.ErrInvalidAccessToken):
				writeUnauthorized(w, r, "invalid access token")
				return
			case err != nil:
				writeUnauthorized(w, r, "authentication failed")
				return
			case claims.Client() == "":
				writeUnauthorized(w, r, "token has no client")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), claims.Client())))
		})
	}
}

// bearerToken extracts the token from an Authorization header. On failure
// it returns the reason instead.
func bearerToken(header string) (token, reason string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "missing bearer token"
	}
	return token, ""
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="navcore"`)
	writeProblem(w, r, models.KindUnauthorized, detail)
}

// GetClientID returns the authenticated client ID, or "" outside Auth.
func GetClientID(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey{}).(string)
	return id
}

// WithClientID returns a copy of ctx carrying clientID, as Auth does.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, clientID)
}
