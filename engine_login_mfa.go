package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
)

// Login checks identifier and password. For an account without MFA it opens
// a session and returns a token pair. For an account with MFA enabled it
// returns only a challenge token for [Engine.VerifyMFA] and writes a
// LOGIN_MFA_REQUIRED audit record; no session exists until verification
// succeeds.
//
// Every rejection writes a failed login history entry and a LOGIN_FAILED
// audit record before returning.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	fsm := flows.New()

	account, err := e.credentials.authenticate(ctx, identifier, password)
	if err != nil {
		accountID := ""
		if account != nil {
			accountID = account.ID
		}
		e.metrics.Inc(MetricLoginFailure)
		if errors.Is(err, ErrInvalidCredentials) {
			details := map[string]string{}
			if account == nil && e.config.Audit.IncludeIdentifier {
				details["identifier"] = identifier
			}
			return nil, e.rejectLogin(ctx, accountID, AuditLoginFailed, fsm, ErrInvalidCredentials, details)
		}
		return nil, e.rejectLogin(ctx, accountID, AuditLoginFailed, fsm, e.technical("login", err), nil)
	}
	if err := fsm.Advance(flows.StateCredentialsChecked); err != nil {
		return nil, e.technical("login", err)
	}

	if account.Status != StatusActive {
		e.metrics.Inc(MetricLoginNotActive)
		return nil, e.rejectLogin(ctx, account.ID, AuditLoginFailed, fsm, ErrAccountNotActive, map[string]string{
			"status": account.Status.String(),
		})
	}

	if account.MFAEnabled() {
		if err := fsm.Advance(flows.StateMFAPending); err != nil {
			return nil, e.technical("login", err)
		}
		challenge, jti, err := e.tokens.IssueMFAChallenge(account.ID)
		if err != nil {
			return nil, e.rejectLogin(ctx, account.ID, AuditLoginFailed, fsm, e.technical("login", err), nil)
		}
		ttl := e.config.JWT.ChallengeTTL
		record := &stores.Challenge{
			AccountID: account.ID,
			ExpiresAt: e.now().Add(ttl).Unix(),
		}
		if err := e.challenges.Save(ctx, jti, record, ttl); err != nil {
			return nil, e.rejectLogin(ctx, account.ID, AuditLoginFailed, fsm, e.technical("login", err), nil)
		}
		e.metrics.Inc(MetricMFARequired)
		e.audit(ctx, account.ID, AuditLoginMFARequired, fsm, nil)
		return &LoginResult{
			ChallengeToken: challenge,
			MFARequired:    true,
		}, nil
	}

	return e.issueSession(ctx, account, fsm, false, nil)
}

// VerifyMFA completes a login that returned a challenge token. code may be a
// TOTP code or a recovery code.
func (e *Engine) VerifyMFA(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	return e.VerifyMFAWithMethod(ctx, challengeToken, code, MFAMethodAuto)
}

// VerifyMFAWithMethod is VerifyMFA restricted to one second factor. A bad
// challenge returns ErrInvalidMFAChallenge and a bad code returns
// ErrInvalidMFACode; both write a failed login history entry and an
// MFA_FAILED audit record. A challenge completes at most one login and is
// discarded after Config.MFA.MaxAttempts wrong codes. A recovery code is
// consumed on success.
func (e *Engine) VerifyMFAWithMethod(ctx context.Context, challengeToken, code string, method MFAMethod) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	fsm := flows.Resume(flows.StateMFAPending)

	claims, err := e.tokens.Validate(challengeToken, jwt.KindMFAChallenge)
	if err != nil {
		e.metrics.Inc(MetricMFAFailure)
		return nil, e.rejectLogin(ctx, "", AuditMFAFailed, fsm, ErrInvalidMFAChallenge, nil)
	}

	record, err := e.challenges.Get(ctx, claims.ID)
	if err != nil {
		e.metrics.Inc(MetricMFAFailure)
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return nil, e.rejectLogin(ctx, claims.Subject, AuditMFAFailed, fsm, ErrInvalidMFAChallenge, nil)
		}
		return nil, e.rejectLogin(ctx, claims.Subject, AuditMFAFailed, fsm, e.technical("verify_mfa", err), nil)
	}
	if record.AccountID != claims.Subject {
		e.metrics.Inc(MetricMFAFailure)
		return nil, e.rejectLogin(ctx, claims.Subject, AuditMFAFailed, fsm, ErrInvalidMFAChallenge, nil)
	}

	account, err := findAccount(ctx, e.accounts, claims.Subject)
	if err != nil {
		e.metrics.Inc(MetricMFAFailure)
		if errors.Is(err, ErrAccountNotFound) {
			return nil, e.rejectLogin(ctx, claims.Subject, AuditMFAFailed, fsm, ErrInvalidMFAChallenge, nil)
		}
		return nil, e.rejectLogin(ctx, claims.Subject, AuditMFAFailed, fsm, e.technical("verify_mfa", err), nil)
	}
	if account.Status != StatusActive {
		e.metrics.Inc(MetricMFAFailure)
		return nil, e.rejectLogin(ctx, account.ID, AuditMFAFailed, fsm, ErrAccountNotActive, map[string]string{
			"status": account.Status.String(),
		})
	}

	used, err := e.verifySecondFactor(ctx, account.ID, code, method)
	if err != nil {
		e.metrics.Inc(MetricMFAFailure)
		if errors.Is(err, ErrMFANotEnabled) {
			return nil, e.rejectLogin(ctx, account.ID, AuditMFAFailed, fsm, ErrInvalidMFAChallenge, nil)
		}
		return nil, e.rejectLogin(ctx, account.ID, AuditMFAFailed, fsm, e.technical("verify_mfa", err), nil)
	}
	if used == "" {
		e.metrics.Inc(MetricMFAFailure)
		details := map[string]string{"method": string(method)}
		exceeded, err := e.challenges.RecordFailure(ctx, claims.ID, e.config.MFA.MaxAttempts)
		if err != nil && !errors.Is(err, stores.ErrChallengeNotFound) {
			return nil, e.rejectLogin(ctx, account.ID, AuditMFAFailed, fsm, e.technical("verify_mfa", err), details)
		}
		if exceeded {
			details["attempts_exceeded"] = "true"
		}
		return nil, e.rejectLogin(ctx, account.ID, AuditMFAFailed, fsm, ErrInvalidMFACode, details)
	}

	consumed, err := e.challenges.Consume(ctx, claims.ID)
	if err != nil {
		e.metrics.Inc(MetricMFAFailure)
		return nil, e.rejectLogin(ctx, account.ID, AuditMFAFailed, fsm, e.technical("verify_mfa", err), nil)
	}
	if !consumed {
		e.metrics.Inc(MetricMFAFailure)
		return nil, e.rejectLogin(ctx, account.ID, AuditMFAFailed, fsm, ErrInvalidMFAChallenge, nil)
	}

	if err := fsm.Advance(flows.StateMFAVerified); err != nil {
		return nil, e.technical("verify_mfa", err)
	}
	e.metrics.Inc(MetricMFASuccess)
	if used == MFAMethodRecovery {
		e.metrics.Inc(MetricRecoveryCodeUsed)
	}

	return e.issueSession(ctx, account, fsm, true, map[string]string{
		"mfa_method": string(used),
	})
}

// verifySecondFactor returns the method that accepted code, or "" when none
// did.
func (e *Engine) verifySecondFactor(ctx context.Context, accountID, code string, method MFAMethod) (MFAMethod, error) {
	switch method {
	case MFAMethodTOTP:
		ok, err := e.mfa.VerifyCode(ctx, accountID, code)
		if err != nil || !ok {
			return "", err
		}
		return MFAMethodTOTP, nil
	case MFAMethodRecovery:
		enabled, err := e.mfa.Enabled(ctx, accountID)
		if err != nil {
			return "", err
		}
		if !enabled {
			return "", ErrMFANotEnabled
		}
		ok, err := e.mfa.VerifyRecoveryCode(ctx, accountID, code)
		if err != nil || !ok {
			return "", err
		}
		return MFAMethodRecovery, nil
	case MFAMethodAuto, "":
		used, err := e.verifySecondFactor(ctx, accountID, code, MFAMethodTOTP)
		if err != nil || used != "" {
			return used, err
		}
		return e.verifySecondFactor(ctx, accountID, code, MFAMethodRecovery)
	default:
		return "", nil
	}
}

// issueSession opens a session for account and signs the token pair bound
// to it. It ends the flow in SESSION_ISSUED.
func (e *Engine) issueSession(ctx context.Context, account *Account, fsm *flows.Machine, mfaVerified bool, details map[string]string) (*LoginResult, error) {
	sess, err := e.sessions.Create(ctx, account.ID, userAgentFromContext(ctx), clientIPFromContext(ctx), mfaVerified)
	if err != nil {
		return nil, e.rejectLogin(ctx, account.ID, AuditLoginFailed, fsm, e.technical("create_session", err), nil)
	}
	e.metrics.Inc(MetricSessionCreated)

	access, err := e.tokens.IssueAccess(account.ID, sess.ID, account.Authorities, mfaVerified)
	if err != nil {
		e.revokeQuietly(ctx, sess.ID)
		return nil, e.rejectLogin(ctx, account.ID, AuditLoginFailed, fsm, e.technical("issue_tokens", err), nil)
	}
	refresh, err := e.tokens.IssueRefresh(account.ID, sess.ID)
	if err != nil {
		e.revokeQuietly(ctx, sess.ID)
		return nil, e.rejectLogin(ctx, account.ID, AuditLoginFailed, fsm, e.technical("issue_tokens", err), nil)
	}

	if err := fsm.Advance(flows.StateSessionIssued); err != nil {
		e.revokeQuietly(ctx, sess.ID)
		return nil, e.technical("issue_tokens", err)
	}

	if details == nil {
		details = make(map[string]string, 3)
	}
	details["session_id"] = sess.ID
	e.recordLogin(ctx, account.ID, true)
	e.audit(ctx, account.ID, AuditLoginSuccess, fsm, details)
	e.metrics.Inc(MetricLoginSuccess)

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		Authorities:  append([]string(nil), account.Authorities...),
	}, nil
}
