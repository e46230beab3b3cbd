package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/mfa"
)

// accountMFAStore keeps MFA configuration on the account record.
type accountMFAStore struct {
	accounts AccountStore
}

func (s accountMFAStore) LoadMFA(ctx context.Context, accountID string) (*mfa.Configuration, error) {
	account, err := findAccount(ctx, s.accounts, accountID)
	if err != nil {
		return nil, err
	}
	return account.MFA.Clone(), nil
}

func (s accountMFAStore) SaveMFA(ctx context.Context, accountID string, cfg *mfa.Configuration) error {
	return s.accounts.SaveMFA(ctx, accountID, cfg)
}

func (s accountMFAStore) ReplaceRecoveryCodes(ctx context.Context, accountID string, codes []mfa.RecoveryCode) error {
	return s.accounts.ReplaceRecoveryCodes(ctx, accountID, codes)
}

func (s accountMFAStore) ConsumeRecoveryCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	ok, err := s.accounts.ConsumeRecoveryCode(ctx, accountID, hash)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	return ok, err
}

// findAccount is AccountStore.FindByID with a (nil, nil) result mapped to
// ErrAccountNotFound.
func findAccount(ctx context.Context, accounts AccountStore, id string) (*Account, error) {
	account, err := accounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}
