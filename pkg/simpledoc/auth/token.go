// Package auth provides simpledoc.Authenticator implementations: signed
// bearer tokens and bcrypt-checked passwords.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

const defaultIssuer = "simple-document"

// Claims is the token payload. The principal id travels in the subject.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthenticator issues and verifies HS256 tokens.
type TokenAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// TokenOption configures a TokenAuthenticator.
type TokenOption func(*TokenAuthenticator)

// WithIssuer overrides the issuer written into and required from tokens.
func WithIssuer(issuer string) TokenOption {
	return func(a *TokenAuthenticator) {
		a.issuer = issuer
	}
}

// WithTokenClock overrides the clock used for issuing and expiry checks.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(a *TokenAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewTokenAuthenticator creates an authenticator signing with secret.
func NewTokenAuthenticator(secret string, opts ...TokenOption) (*TokenAuthenticator, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	a := &TokenAuthenticator{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Issue signs a token for principal valid for ttl.
func (a *TokenAuthenticator) Issue(principal simpledoc.Principal, ttl time.Duration) (string, error) {
	if principal.ID == "" {
		return "", fmt.Errorf("principal id is required: %w", simpledoc.ErrInvalidRequest)
	}
	now := a.now()
	claims := Claims{
		Roles: principal.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies creds.Token and returns the principal it names.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, creds simpledoc.Credentials) (simpledoc.Principal, error) {
	if creds.Token == "" {
		return simpledoc.Principal{}, fmt.Errorf("no bearer token: %w", simpledoc.ErrUnauthenticated)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(creds.Token, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return simpledoc.Principal{}, fmt.Errorf("invalid token: %v: %w", err, simpledoc.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return simpledoc.Principal{}, fmt.Errorf("token has no subject: %w", simpledoc.ErrUnauthenticated)
	}
	return simpledoc.Principal{ID: claims.Subject, Roles: claims.Roles}, nil
}
