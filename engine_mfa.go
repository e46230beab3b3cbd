package authcore

import (
	"context"
	"strconv"

	"github.com/MrEthical07/authcore/mfa"
)

// MFASetup returns the account's TOTP secret and provisioning URI, creating
// the secret on first call. MFA stays disabled until [Engine.EnableMFA].
func (e *Engine) MFASetup(ctx context.Context, accountID string) (mfa.Setup, error) {
	if err := e.ready(); err != nil {
		return mfa.Setup{}, err
	}

	account, err := findAccount(ctx, e.accounts, accountID)
	if err != nil {
		return mfa.Setup{}, e.fail("mfa_setup", err)
	}
	label := account.Email
	if label == "" {
		label = account.Username
	}

	setup, err := e.mfa.SecretFor(ctx, account.ID, label)
	if err != nil {
		return mfa.Setup{}, e.fail("mfa_setup", err)
	}

	e.audit(ctx, account.ID, AuditMFASetup, nil, nil)
	return setup, nil
}

// EnableMFA turns MFA on once code proves the caller holds the secret.
// It returns ErrMFANotSetUp before MFASetup and ErrInvalidMFACode on a bad
// code.
func (e *Engine) EnableMFA(ctx context.Context, accountID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.mfa.Enable(ctx, accountID, code); err != nil {
		return e.fail("mfa_enable", err)
	}
	e.audit(ctx, accountID, AuditMFAEnabled, nil, nil)
	return nil
}

// DisableMFA discards the secret and all recovery codes. Existing sessions
// are kept.
func (e *Engine) DisableMFA(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.mfa.Disable(ctx, accountID); err != nil {
		return e.fail("mfa_disable", err)
	}
	e.audit(ctx, accountID, AuditMFADisabled, nil, nil)
	return nil
}

// GenerateRecoveryCodes replaces the account's recovery codes and returns
// the new plaintext codes. They cannot be retrieved again.
func (e *Engine) GenerateRecoveryCodes(ctx context.Context, accountID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	codes, err := e.mfa.GenerateRecoveryCodes(ctx, accountID)
	if err != nil {
		return nil, e.fail("mfa_recovery_codes", err)
	}
	e.audit(ctx, accountID, AuditMFARecoveryCodesGenerated, nil, map[string]string{
		"count": strconv.Itoa(len(codes)),
	})
	return codes, nil
}
