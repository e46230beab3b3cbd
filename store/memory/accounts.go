// Package memory provides an in-process authcore.AccountStore for examples,
// tests and single-node tools.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/mfa"
)

// AccountStore keeps deep copies of accounts behind one mutex. Lookups by
// email are case insensitive; usernames match exactly.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*authcore.Account
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*authcore.Account)}
}

// Put inserts or replaces a.
func (s *AccountStore) Put(a *authcore.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a.Clone()
}

func (s *AccountStore) FindByIdentifier(_ context.Context, identifier string) (*authcore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Username == identifier || (a.Email != "" && strings.EqualFold(a.Email, identifier)) {
			return a.Clone(), nil
		}
	}
	return nil, authcore.ErrAccountNotFound
}

func (s *AccountStore) FindByID(_ context.Context, id string) (*authcore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	return a.Clone(), nil
}

// Save writes the status of a. The MFA state held by the store is kept.
func (s *AccountStore) Save(_ context.Context, a *authcore.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok {
		return authcore.ErrAccountNotFound
	}
	cur.Status = a.Status
	return nil
}

func (s *AccountStore) SaveMFA(_ context.Context, accountID string, cfg *mfa.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[accountID]
	if !ok {
		return authcore.ErrAccountNotFound
	}
	if cfg == nil {
		cur.MFA = nil
		return nil
	}
	if cur.MFA == nil {
		cur.MFA = &mfa.Configuration{}
	}
	cur.MFA.Enabled = cfg.Enabled
	cur.MFA.Secret = cfg.Secret
	return nil
}

func (s *AccountStore) ReplaceRecoveryCodes(_ context.Context, accountID string, codes []mfa.RecoveryCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[accountID]
	if !ok {
		return authcore.ErrAccountNotFound
	}
	if cur.MFA == nil {
		cur.MFA = &mfa.Configuration{}
	}
	cur.MFA.RecoveryCodes = append([]mfa.RecoveryCode(nil), codes...)
	return nil
}

func (s *AccountStore) ConsumeRecoveryCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.MFA == nil {
		return false, nil
	}
	for i, rc := range a.MFA.RecoveryCodes {
		if rc.Hash == hash {
			a.MFA.RecoveryCodes = append(a.MFA.RecoveryCodes[:i], a.MFA.RecoveryCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
