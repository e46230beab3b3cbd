package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/jwt"
)

// Authorize is the per-request gate. It validates accessToken as an access
// token, requires its session to be valid, and requires an MFA assertion
// when the account has MFA enabled. On success the returned principal
// carries the account's current authorities; on failure it is nil.
func (e *Engine) Authorize(ctx context.Context, accessToken string) (*Principal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	principal, err := e.authorize(ctx, accessToken)
	e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
	if err != nil {
		e.metrics.Inc(MetricGateRejected)
		return nil, err
	}
	e.metrics.Inc(MetricGateAllowed)
	return principal, nil
}

func (e *Engine) authorize(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := e.tokens.Validate(accessToken, jwt.KindAccess)
	if err != nil {
		return nil, ErrInvalidToken
	}

	valid, err := e.sessions.IsValid(ctx, claims.SessionID)
	if err != nil {
		return nil, e.technical("authorize", err)
	}
	if !valid {
		return nil, ErrInvalidSession
	}

	account, err := findAccount(ctx, e.accounts, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, e.technical("authorize", err)
	}
	if account.Status != StatusActive {
		return nil, ErrAccountNotActive
	}
	if account.MFAEnabled() && !claims.MFAVerified {
		return nil, ErrMFARequired
	}

	return &Principal{
		AccountID:   account.ID,
		Subject:     claims.Subject,
		SessionID:   claims.SessionID,
		Authorities: append([]string(nil), account.Authorities...),
		MFAVerified: claims.MFAVerified,
	}, nil
}
