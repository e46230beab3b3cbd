package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the authentication orchestrator and session gate. Build one with
// [New]; it is safe for concurrent use.
type Engine struct {
	config Config

	accounts    AccountStore
	credentials *credentialAuthenticator
	tokens      *jwt.Manager
	sessions    *session.Store
	persistence session.Persistence
	mfa         *mfa.Engine
	challenges  stores.Challenges

	auditSink AuditSink
	history   LoginHistorySink
	resets    PasswordResetRequester

	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// Sessions exposes the session store, mainly for administrative tooling.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// Tokens exposes the token manager.
func (e *Engine) Tokens() *jwt.Manager {
	return e.tokens
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// Refresh re-issues an access token and a refresh token bound to the same
// session. The session record is authoritative: a revoked or expired session
// rejects an otherwise valid refresh token. Earlier refresh tokens for the
// session stay usable until the session ends.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.Validate(refreshToken, jwt.KindRefresh)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrInvalidToken
	}

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metrics.Inc(MetricRefreshFailure)
			return nil, ErrInvalidSession
		}
		return nil, e.technical("refresh", err)
	}
	if !sess.Valid(e.now()) || sess.OwnerID != claims.Subject {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrInvalidSession
	}

	account, err := findAccount(ctx, e.accounts, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.revokeQuietly(ctx, sess.ID)
			e.metrics.Inc(MetricRefreshFailure)
			return nil, ErrInvalidSession
		}
		return nil, e.technical("refresh", err)
	}
	if account.Status != StatusActive {
		if err := e.sessions.Revoke(ctx, sess.ID); err != nil {
			return nil, e.technical("refresh", err)
		}
		e.metrics.Inc(MetricSessionRevoked)
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrAccountNotActive
	}

	access, err := e.tokens.IssueAccess(account.ID, sess.ID, account.Authorities, sess.MFAVerified)
	if err != nil {
		return nil, e.technical("refresh", err)
	}
	refresh, err := e.tokens.IssueRefresh(account.ID, sess.ID)
	if err != nil {
		return nil, e.technical("refresh", err)
	}

	e.metrics.Inc(MetricRefreshSuccess)
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		Authorities:  append([]string(nil), account.Authorities...),
	}, nil
}

// Logout revokes the session behind accessToken. Logging out twice succeeds.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.Validate(accessToken, jwt.KindAccess)
	if err != nil {
		return ErrInvalidToken
	}
	if err := e.sessions.Revoke(ctx, claims.SessionID); err != nil {
		return e.technical("logout", err)
	}

	e.metrics.Inc(MetricLogout)
	e.metrics.Inc(MetricSessionRevoked)
	e.audit(ctx, claims.Subject, AuditUserLogout, nil, map[string]string{
		"session_id": claims.SessionID,
	})
	return nil
}

// LogoutAll revokes every session of accountID and returns how many existed.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	n, err := e.sessions.RevokeAll(ctx, accountID)
	if err != nil {
		return 0, e.technical("logout_all", err)
	}

	e.metrics.Inc(MetricLogoutAll)
	e.audit(ctx, accountID, AuditUserLogoutAll, nil, map[string]string{
		"sessions": strconv.Itoa(n),
	})
	return n, nil
}

// ForgotPassword hands the account behind email to the configured
// [PasswordResetRequester]. An unknown email returns nil so callers cannot
// enumerate accounts. Sessions and tokens are left untouched.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.resets == nil {
		return ErrEngineNotReady
	}

	e.metrics.Inc(MetricPasswordResetRequest)

	account, err := e.accounts.FindByIdentifier(ctx, email)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return e.technical("forgot_password", err)
	}
	if account == nil || !sameEmail(account.Email, email) {
		e.audit(ctx, "", AuditPasswordResetRequest, nil, map[string]string{
			"result": "unknown_account",
		})
		return nil
	}

	if err := e.resets.RequestPasswordReset(ctx, account); err != nil {
		return e.technical("forgot_password", err)
	}

	e.audit(ctx, account.ID, AuditPasswordResetRequest, nil, map[string]string{
		"result": "requested",
	})
	return nil
}

func (e *Engine) ready() error {
	if e == nil || e.accounts == nil || e.tokens == nil || e.sessions == nil || e.mfa == nil {
		return ErrEngineNotReady
	}
	return nil
}

// fail passes business errors and ErrAccountNotFound through and converts
// everything else into a logged TechnicalError.
func (e *Engine) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if ErrorCode(err) != CodeTechnical || errors.Is(err, ErrAccountNotFound) {
		return err
	}
	var te *TechnicalError
	if errors.As(err, &te) {
		return err
	}
	return e.technical(op, err)
}

func (e *Engine) technical(op string, err error) error {
	ref := uuid.NewString()
	e.logger.Error("technical failure",
		zap.String("reference", ref),
		zap.String("op", op),
		zap.Error(err),
	)
	e.metrics.Inc(MetricTechnicalError)
	return &TechnicalError{Reference: ref, cause: err}
}

func (e *Engine) revokeQuietly(ctx context.Context, sessionID string) {
	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		e.logger.Warn("session revoke failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	e.metrics.Inc(MetricSessionRevoked)
}

func sameEmail(stored, requested string) bool {
	return stored != "" && strings.EqualFold(strings.TrimSpace(stored), strings.TrimSpace(requested))
}
