package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/auth"
	"golang.org/x/crypto/bcrypt"
)

const secret = "test-secret-0123456789"

func TestTokenRoundTrip(t *testing.T) {
	a, err := auth.NewTokenAuthenticator(secret)
	require.NoError(t, err)

	token, err := a.Issue(simpledoc.Principal{ID: "alice", Roles: []string{"editors"}}, time.Hour)
	require.NoError(t, err)

	p, err := a.Authenticate(context.Background(), simpledoc.Credentials{Token: token})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
	assert.Equal(t, []string{"editors"}, p.Roles)
}

func TestTokenRejections(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer, err := auth.NewTokenAuthenticator(secret, auth.WithTokenClock(func() time.Time { return now }))
	require.NoError(t, err)
	expired, err := issuer.Issue(simpledoc.Principal{ID: "alice"}, time.Minute)
	require.NoError(t, err)

	other, err := auth.NewTokenAuthenticator("another-secret-0123456789")
	require.NoError(t, err)
	foreign, err := other.Issue(simpledoc.Principal{ID: "alice"}, time.Hour)
	require.NoError(t, err)

	verifier, err := auth.NewTokenAuthenticator(secret,
		auth.WithTokenClock(func() time.Time { return now.Add(time.Hour) }))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong key", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Authenticate(context.Background(), simpledoc.Credentials{Token: tt.token})
			assert.ErrorIs(t, err, simpledoc.ErrUnauthenticated)
		})
	}
}

func TestTokenIssuerMismatch(t *testing.T) {
	a, err := auth.NewTokenAuthenticator(secret, auth.WithIssuer("one"))
	require.NoError(t, err)
	b, err := auth.NewTokenAuthenticator(secret, auth.WithIssuer("two"))
	require.NoError(t, err)

	token, err := a.Issue(simpledoc.Principal{ID: "alice"}, time.Hour)
	require.NoError(t, err)
	_, err = b.Authenticate(context.Background(), simpledoc.Credentials{Token: token})
	assert.ErrorIs(t, err, simpledoc.ErrUnauthenticated)
}

func TestShortSecret(t *testing.T) {
	_, err := auth.NewTokenAuthenticator("short")
	assert.Error(t, err)
}

func TestPasswordAuthenticator(t *testing.T) {
	a := auth.NewPasswordAuthenticator(bcrypt.MinCost)
	require.NoError(t, a.AddUser("bob", "hunter2", "auditors"))

	p, err := a.Authenticate(context.Background(), simpledoc.Credentials{Username: "bob", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, simpledoc.Principal{ID: "bob", Roles: []string{"auditors"}}, p)

	_, err = a.Authenticate(context.Background(), simpledoc.Credentials{Username: "bob", Password: "wrong"})
	assert.ErrorIs(t, err, simpledoc.ErrUnauthenticated)

	_, err = a.Authenticate(context.Background(), simpledoc.Credentials{Username: "mallory", Password: "x"})
	assert.ErrorIs(t, err, simpledoc.ErrUnauthenticated)

	assert.ErrorIs(t, a.AddUser("", "x"), simpledoc.ErrInvalidRequest)
	assert.Error(t, a.AddHashedUser("eve", []byte("plain")))
}

func TestChain(t *testing.T) {
	tokens, err := auth.NewTokenAuthenticator(secret)
	require.NoError(t, err)
	passwords := auth.NewPasswordAuthenticator(bcrypt.MinCost)
	require.NoError(t, passwords.AddUser("bob", "hunter2"))

	chain := auth.Chain{tokens, passwords}

	p, err := chain.Authenticate(context.Background(), simpledoc.Credentials{Username: "bob", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "bob", p.ID)

	token, err := tokens.Issue(simpledoc.Principal{ID: "carol"}, time.Hour)
	require.NoError(t, err)
	p, err = chain.Authenticate(context.Background(), simpledoc.Credentials{Token: token})
	require.NoError(t, err)
	assert.Equal(t, "carol", p.ID)

	_, err = chain.Authenticate(context.Background(), simpledoc.Credentials{})
	assert.ErrorIs(t, err, simpledoc.ErrUnauthenticated)
}
