package authcore

import (
	"context"
	"errors"
	"strconv"
)

// LockAccount moves the account to a non-active status and revokes every
// session it owns. It returns the number of sessions revoked.
func (e *Engine) LockAccount(ctx context.Context, accountID string, status AccountStatus) (int, error) {
	if status == StatusActive {
		return 0, errors.New("LockAccount requires a non-active status")
	}
	n, err := e.updateAccountStatus(ctx, accountID, status, true)
	if err == nil {
		e.metrics.Inc(MetricAccountLocked)
	}
	return n, err
}

// ActivateAccount moves the account back to StatusActive. Sessions revoked
// by an earlier lock stay revoked.
func (e *Engine) ActivateAccount(ctx context.Context, accountID string) error {
	_, err := e.updateAccountStatus(ctx, accountID, StatusActive, false)
	return err
}

func (e *Engine) updateAccountStatus(ctx context.Context, accountID string, status AccountStatus, revoke bool) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if accountID == "" {
		return 0, ErrAccountNotFound
	}

	account, err := findAccount(ctx, e.accounts, accountID)
	if err != nil {
		return 0, e.fail("account_status", err)
	}

	previous := account.Status
	if previous != status {
		account.Status = status
		if err := e.accounts.Save(ctx, account); err != nil {
			return 0, e.fail("account_status", err)
		}
	}

	revoked := 0
	if revoke {
		revoked, err = e.sessions.RevokeAll(ctx, account.ID)
		if err != nil {
			return 0, e.technical("account_status", err)
		}
	}

	if previous != status {
		e.audit(ctx, account.ID, AuditAccountStatusChanged, nil, map[string]string{
			"from":             previous.String(),
			"to":               status.String(),
			"sessions_revoked": strconv.Itoa(revoked),
		})
	}
	return revoked, nil
}
