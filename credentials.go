package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// credentialAuthenticator checks an identifier and password against the
// account store. It does not look at account status.
type credentialAuthenticator struct {
	accounts AccountStore
	hasher   PasswordHasher
	// dummyHash is verified when the identifier is unknown so the response
	// time does not reveal whether an account exists.
	dummyHash string
}

func newCredentialAuthenticator(accounts AccountStore, hasher PasswordHasher) (*credentialAuthenticator, error) {
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("compute timing hash: %w", err)
	}
	return &credentialAuthenticator{
		accounts:  accounts,
		hasher:    hasher,
		dummyHash: dummy,
	}, nil
}

// authenticate returns the account on success. On a password mismatch it
// returns the account together with ErrInvalidCredentials so the caller can
// attribute the failure; for an unknown identifier the account is nil.
func (c *credentialAuthenticator) authenticate(ctx context.Context, identifier, password string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		c.burn(password)
		return nil, ErrInvalidCredentials
	}

	account, err := c.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.burn(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		c.burn(password)
		return nil, ErrInvalidCredentials
	}

	ok, err := c.hasher.Matches(password, account.PasswordHash)
	if err != nil {
		return account, fmt.Errorf("verify password of account %s: %w", account.ID, err)
	}
	if !ok {
		return account, ErrInvalidCredentials
	}
	return account, nil
}

func (c *credentialAuthenticator) burn(password string) {
	_, _ = c.hasher.Matches(password, c.dummyHash)
}
