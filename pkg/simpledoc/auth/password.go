package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tendant/simple-document/pkg/simpledoc"
	"golang.org/x/crypto/bcrypt"
)

type account struct {
	hash  []byte
	roles []string
}

// PasswordAuthenticator checks usernames and passwords against bcrypt
// hashes held in memory. The username becomes the principal id.
type PasswordAuthenticator struct {
	mu       sync.RWMutex
	accounts map[string]account
	cost     int
}

// NewPasswordAuthenticator creates an empty authenticator. cost <= 0 uses
// bcrypt.DefaultCost.
func NewPasswordAuthenticator(cost int) *PasswordAuthenticator {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordAuthenticator{
		accounts: make(map[string]account),
		cost:     cost,
	}
}

// AddUser hashes password and registers username with roles.
func (a *PasswordAuthenticator) AddUser(username, password string, roles ...string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required: %w", simpledoc.ErrInvalidRequest)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return a.AddHashedUser(username, hash, roles...)
}

// AddHashedUser registers username with an existing bcrypt hash.
func (a *PasswordAuthenticator) AddHashedUser(username string, hash []byte, roles ...string) error {
	if _, err := bcrypt.Cost(hash); err != nil {
		return fmt.Errorf("invalid bcrypt hash for %s: %w", username, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[username] = account{hash: hash, roles: append([]string(nil), roles...)}
	return nil
}

// Authenticate verifies creds.Username and creds.Password.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, creds simpledoc.Credentials) (simpledoc.Principal, error) {
	if creds.Username == "" {
		return simpledoc.Principal{}, fmt.Errorf("no username: %w", simpledoc.ErrUnauthenticated)
	}

	a.mu.RLock()
	acct, ok := a.accounts[creds.Username]
	a.mu.RUnlock()
	if !ok {
		return simpledoc.Principal{}, fmt.Errorf("unknown user: %w", simpledoc.ErrUnauthenticated)
	}

	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(creds.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return simpledoc.Principal{}, fmt.Errorf("wrong password: %w", simpledoc.ErrUnauthenticated)
		}
		return simpledoc.Principal{}, fmt.Errorf("compare password: %w", err)
	}
	return simpledoc.Principal{ID: creds.Username, Roles: append([]string(nil), acct.roles...)}, nil
}

// Chain tries each authenticator in order. The first success wins; an error
// other than ErrUnauthenticated stops the chain.
type Chain []simpledoc.Authenticator

func (c Chain) Authenticate(ctx context.Context, creds simpledoc.Credentials) (simpledoc.Principal, error) {
	for _, a := range c {
		p, err := a.Authenticate(ctx, creds)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, simpledoc.ErrUnauthenticated) {
			return simpledoc.Principal{}, err
		}
	}
	return simpledoc.Principal{}, simpledoc.ErrUnauthenticated
}
