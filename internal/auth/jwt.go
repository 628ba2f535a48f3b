// Package auth issues and verifies the bearer tokens that navigation clients
// present to the trip API.
//
// Tokens are HS256 JWTs minted by the identity service in front of navcore.
// The subject is the client that owns the trips: a device, a fleet vehicle or
// a test harness. Issue exists for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer   = "navcore"
	DefaultAudience = "navcore-api"
	DefaultTTL      = time.Hour
)

var (
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAccessTokenExpired = errors.New("access token has expired")
)

// Claims are the claims of an access token.
type Claims struct {
	jwt.RegisteredClaims

	// ClientID is set by issuers that keep the subject for a user. When
	// empty, the subject names the client.
	ClientID string `json:"cid,omitempty"`
}

// Client returns the client the token was issued to.
func (c *Claims) Client() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return c.Subject
}

// Token is a signed access token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Config configures Tokens.
type Config struct {
	SigningKey string
	Issuer     string
	Audience   string

	// TTL is the lifetime of issued tokens. Negative values issue tokens
	// that are already expired, which tests use.
	TTL time.Duration

	// Leeway tolerates clock skew between issuer and verifier.
	Leeway time.Duration
}

// Tokens signs and verifies access tokens with a shared key.
type Tokens struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	parser   *jwt.Parser
	now      func() time.Time
}

// NewTokens creates Tokens.
func NewTokens(cfg Config) *Tokens {
	t := &Tokens{
		key:      []byte(cfg.SigningKey),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      time.Now,
	}
	if t.issuer == "" {
		t.issuer = DefaultIssuer
	}
	if t.audience == "" {
		t.audience = DefaultAudience
	}
	if t.ttl == 0 {
		t.ttl = DefaultTTL
	}
	t.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	return t
}

// Issue signs a token for clientID.
func (t *Tokens) Issue(clientID string) (Token, error) {
	if clientID == "" {
		return Token{}, errors.New("issue token: empty client id")
	}
	now := t.now()
	exp := now.Add(t.ttl)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   clientID,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}).SignedString(t.key)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Verify parses raw and checks its signature, issuer, audience and
// lifetime. Expired tokens yield ErrAccessTokenExpired; every other failure
// wraps ErrInvalidAccessToken.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	claims := new(Claims)
	_, err := t.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrAccessTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	case claims.Client() == "":
		return nil, fmt.Errorf("%w: no client", ErrInvalidAccessToken)
	}
	return claims, nil
}
