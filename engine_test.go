package authcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoginPasswordOnlyIssuesSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.7"), "test-agent/1.0")
	res, err := f.engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.MFARequired || res.ChallengeToken != "" {
		t.Fatalf("expected token pair, got %+v", res)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected non-empty access and refresh tokens")
	}
	if len(res.Authorities) != 1 || res.Authorities[0] != "ROLE_USER" {
		t.Fatalf("authorities = %v", res.Authorities)
	}

	sid, err := f.engine.Tokens().ExtractSessionID(res.AccessToken)
	if err != nil {
		t.Fatalf("ExtractSessionID: %v", err)
	}
	valid, err := f.engine.Sessions().IsValid(context.Background(), sid)
	if err != nil || !valid {
		t.Fatalf("session should be valid right after login: valid=%v err=%v", valid, err)
	}
	sess, err := f.engine.Sessions().Get(context.Background(), sid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Origin != "203.0.113.7" || sess.UserAgent != "test-agent/1.0" || sess.MFAVerified {
		t.Fatalf("unexpected session %+v", sess)
	}
	if f.sessionKeys() != 1 {
		t.Fatalf("expected exactly one session, got %d", f.sessionKeys())
	}

	success := f.audit.byAction(AuditLoginSuccess)
	if len(success) != 1 || success[0].AccountID != "u1" || success[0].Details["session_id"] != sid {
		t.Fatalf("unexpected LOGIN_SUCCESS records %+v", success)
	}
	if success[0].Details["state"] != "SESSION_ISSUED" {
		t.Fatalf("state detail = %q", success[0].Details["state"])
	}
	history := f.history.all()
	if len(history) != 1 || !history[0].Successful || history[0].Origin != "203.0.113.7" {
		t.Fatalf("unexpected login history %+v", history)
	}
}

func TestLoginWrongPasswordRejected(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	_, err := f.engine.Login(context.Background(), "alice", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if f.sessionKeys() != 0 {
		t.Fatalf("expected no sessions, got %d", f.sessionKeys())
	}

	failed := f.audit.byAction(AuditLoginFailed)
	if len(failed) != 1 {
		t.Fatalf("expected exactly one LOGIN_FAILED, got %d", len(failed))
	}
	if failed[0].AccountID != "u1" || failed[0].Details["reason"] != CodeInvalidCredentials {
		t.Fatalf("unexpected record %+v", failed[0])
	}
	if failed[0].Details["state"] != "REJECTED" {
		t.Fatalf("state detail = %q", failed[0].Details["state"])
	}
	if len(f.audit.byAction(AuditLoginSuccess)) != 0 {
		t.Fatal("no LOGIN_SUCCESS expected")
	}
	history := f.history.all()
	if len(history) != 1 || history[0].Successful {
		t.Fatalf("expected one failed history entry, got %+v", history)
	}
}

func TestLoginUnknownIdentifierLooksLikeWrongPassword(t *testing.T) {
	f := newEngineFixture(t, nil)

	_, err := f.engine.Login(context.Background(), "nobody", testPassword)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if ErrorCode(err) != CodeInvalidCredentials {
		t.Fatalf("code = %q", ErrorCode(err))
	}

	failed := f.audit.byAction(AuditLoginFailed)
	if len(failed) != 1 || failed[0].AccountID != "" || failed[0].Details["identifier"] != "nobody" {
		t.Fatalf("unexpected record %+v", failed)
	}
}

func TestLoginInactiveAccountRejected(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusSuspended)

	_, err := f.engine.Login(context.Background(), "alice", testPassword)
	if !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("expected ErrAccountNotActive, got %v", err)
	}
	if f.sessionKeys() != 0 {
		t.Fatal("no session expected for inactive account")
	}

	failed := f.audit.byAction(AuditLoginFailed)
	if len(failed) != 1 || failed[0].Details["reason"] != CodeAccountNotActive || failed[0].Details["status"] != "SUSPENDED" {
		t.Fatalf("unexpected record %+v", failed)
	}
	if h := f.history.all(); len(h) != 1 || h[0].Successful {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestLoginWithMFARequiresVerification(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u2", "bob", StatusActive)
	secret := f.enableMFA(t, "u2")

	res, err := f.engine.Login(context.Background(), "bob", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.MFARequired || res.ChallengeToken == "" {
		t.Fatalf("expected challenge, got %+v", res)
	}
	if res.AccessToken != "" || res.RefreshToken != "" {
		t.Fatal("no tokens expected before MFA verification")
	}
	if f.sessionKeys() != 0 {
		t.Fatal("no session expected before MFA verification")
	}
	if len(f.audit.byAction(AuditLoginSuccess)) != 0 {
		t.Fatal("no LOGIN_SUCCESS expected before MFA verification")
	}

	verified, err := f.engine.VerifyMFA(context.Background(), res.ChallengeToken, f.code(t, secret))
	if err != nil {
		t.Fatalf("VerifyMFA: %v", err)
	}
	if verified.AccessToken == "" || verified.RefreshToken == "" || verified.MFARequired {
		t.Fatalf("expected token pair, got %+v", verified)
	}
	if f.sessionKeys() != 1 {
		t.Fatalf("expected one session, got %d", f.sessionKeys())
	}

	principal, err := f.engine.Authorize(context.Background(), verified.AccessToken)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if principal.AccountID != "u2" || !principal.MFAVerified || !principal.HasAuthority("ROLE_USER") {
		t.Fatalf("unexpected principal %+v", principal)
	}

	success := f.audit.byAction(AuditLoginSuccess)
	if len(success) != 1 || success[0].Details["mfa_method"] != string(MFAMethodTOTP) {
		t.Fatalf("unexpected LOGIN_SUCCESS %+v", success)
	}
	if success[0].Details["path"] != "MFA_PENDING>MFA_VERIFIED>SESSION_ISSUED" {
		t.Fatalf("path detail = %q", success[0].Details["path"])
	}
}

func TestVerifyMFARejectsCodeFromOtherSecret(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u2", "bob", StatusActive)
	f.enableMFA(t, "u2")

	res, err := f.engine.Login(context.Background(), "bob", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err = f.engine.VerifyMFA(context.Background(), res.ChallengeToken, f.code(t, otherSecret(t)))
	if !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
	if f.sessionKeys() != 0 {
		t.Fatal("no session expected after a bad code")
	}
	if failed := f.audit.byAction(AuditMFAFailed); len(failed) != 1 || failed[0].Details["reason"] != CodeInvalidMFACode {
		t.Fatalf("unexpected MFA_FAILED %+v", failed)
	}
	if len(f.audit.byAction(AuditLoginSuccess)) != 0 {
		t.Fatal("no LOGIN_SUCCESS expected")
	}
	h := f.history.all()
	if len(h) != 1 || h[0].Successful || h[0].AccountID != "u2" {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestVerifyMFARejectsBadChallenge(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	pair, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	for name, token := range map[string]string{
		"access":  pair.AccessToken,
		"refresh": pair.RefreshToken,
		"garbage": "not-a-token",
		"empty":   "",
	} {
		if _, err := f.engine.VerifyMFA(context.Background(), token, "123456"); !errors.Is(err, ErrInvalidMFAChallenge) {
			t.Fatalf("%s: expected ErrInvalidMFAChallenge, got %v", name, err)
		}
	}
	if n := len(f.audit.byAction(AuditMFAFailed)); n != 4 {
		t.Fatalf("expected 4 MFA_FAILED records, got %d", n)
	}
}

func TestVerifyMFAExpiredChallenge(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u2", "bob", StatusActive)
	secret := f.enableMFA(t, "u2")

	res, err := f.engine.Login(context.Background(), "bob", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.clock.Advance(6 * time.Minute)
	if _, err := f.engine.VerifyMFA(context.Background(), res.ChallengeToken, f.code(t, secret)); !errors.Is(err, ErrInvalidMFAChallenge) {
		t.Fatalf("expected ErrInvalidMFAChallenge, got %v", err)
	}
}

func TestRecoveryCodeIsSingleUse(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u2", "bob", StatusActive)
	f.enableMFA(t, "u2")

	codes, err := f.engine.GenerateRecoveryCodes(context.Background(), "u2")
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}

	first, err := f.engine.Login(context.Background(), "bob", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.engine.VerifyMFAWithMethod(context.Background(), first.ChallengeToken, codes[0], MFAMethodRecovery); err != nil {
		t.Fatalf("first recovery use: %v", err)
	}
	if f.engine.MetricsSnapshot().Counters[MetricRecoveryCodeUsed] != 1 {
		t.Fatal("expected recovery code metric")
	}

	second, err := f.engine.Login(context.Background(), "bob", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.engine.VerifyMFA(context.Background(), second.ChallengeToken, codes[0]); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode on reuse, got %v", err)
	}
	if got := len(f.accounts.get("u2").MFA.RecoveryCodes); got != 9 {
		t.Fatalf("expected 9 remaining codes, got %d", got)
	}
}

func TestRecoveryCodeConcurrentUseSucceedsOnce(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u2", "bob", StatusActive)
	f.enableMFA(t, "u2")

	codes, err := f.engine.GenerateRecoveryCodes(context.Background(), "u2")
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes: %v", err)
	}

	const workers = 6
	challenges := make([]string, workers)
	for i := range challenges {
		res, err := f.engine.Login(context.Background(), "bob", testPassword)
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		challenges[i] = res.ChallengeToken
	}

	var (
		wg       sync.WaitGroup
		succeeded atomic.Int32
		start    = make(chan struct{})
	)
	for _, challenge := range challenges {
		wg.Add(1)
		go func(challenge string) {
			defer wg.Done()
			<-start
			if _, err := f.engine.VerifyMFAWithMethod(context.Background(), challenge, codes[3], MFAMethodRecovery); err == nil {
				succeeded.Add(1)
			}
		}(challenge)
	}
	close(start)
	wg.Wait()

	if succeeded.Load() != 1 {
		t.Fatalf("expected exactly one success, got %d", succeeded.Load())
	}
	if f.sessionKeys() != 1 {
		t.Fatalf("expected exactly one session, got %d", f.sessionKeys())
	}
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)
	f.addAccount(t, "u2", "bob", StatusActive)
	f.enableMFA(t, "u2")

	pair, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	challenge, err := f.engine.Login(context.Background(), "bob", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := f.engine.Authorize(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token at the gate: expected ErrInvalidToken, got %v", err)
	}
	if _, err := f.engine.Authorize(context.Background(), challenge.ChallengeToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("challenge token at the gate: expected ErrInvalidToken, got %v", err)
	}
	if _, err := f.engine.Refresh(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token to refresh: expected ErrInvalidToken, got %v", err)
	}
	if _, err := f.engine.Refresh(context.Background(), challenge.ChallengeToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("challenge token to refresh: expected ErrInvalidToken, got %v", err)
	}
	if err := f.engine.Logout(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token to logout: expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshReissuesForSameSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	pair, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.clock.Advance(time.Minute)

	next, err := f.engine.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.AccessToken == "" || next.RefreshToken == "" {
		t.Fatal("expected a new token pair")
	}

	tokens := f.engine.Tokens()
	before, _ := tokens.ExtractSessionID(pair.AccessToken)
	after, _ := tokens.ExtractSessionID(next.RefreshToken)
	if before != after {
		t.Fatalf("refresh moved the session: %s -> %s", before, after)
	}
	if f.sessionKeys() != 1 {
		t.Fatalf("refresh must not create sessions, got %d", f.sessionKeys())
	}

	if _, err := f.engine.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("earlier refresh token should remain usable while the session is valid: %v", err)
	}
}

func TestRevokedSessionRejectsRefresh(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	pair, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.engine.Logout(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := f.engine.Logout(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("second Logout should succeed: %v", err)
	}

	if _, err := f.engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := f.engine.Authorize(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession at the gate, got %v", err)
	}
	if got := ErrorMessage(ErrInvalidSession); got != "Invalid or expired session." {
		t.Fatalf("message = %q", got)
	}
	if n := len(f.audit.byAction(AuditUserLogout)); n != 2 {
		t.Fatalf("expected 2 USER_LOGOUT records, got %d", n)
	}
}

func TestRefreshFailsAfterSessionExpiry(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	pair, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.clock.Advance(7*24*time.Hour + time.Second)
	if _, err := f.engine.Refresh(context.Background(), pair.RefreshToken); err == nil {
		t.Fatal("expected refresh to fail after session expiry")
	}
}

func TestRefreshRechecksAccountStatus(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	pair, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.accounts.setStatus("u1", StatusBlocked)

	if _, err := f.engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("expected ErrAccountNotActive, got %v", err)
	}

	sid, _ := f.engine.Tokens().ExtractSessionID(pair.RefreshToken)
	if valid, _ := f.engine.Sessions().IsValid(context.Background(), sid); valid {
		t.Fatal("refresh for an inactive account should revoke the session")
	}
}

func TestAuthorizeRequiresMFAAssertion(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	pair, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.engine.Authorize(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("Authorize before MFA: %v", err)
	}

	f.enableMFA(t, "u1")
	if _, err := f.engine.Authorize(context.Background(), pair.AccessToken); !errors.Is(err, ErrMFARequired) {
		t.Fatalf("expected ErrMFARequired, got %v", err)
	}
	if got := ErrorMessage(ErrMFARequired); got != "MFA verification required." {
		t.Fatalf("message = %q", got)
	}
}

func TestLockAccountRevokesAllSessions(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	var pairs []*LoginResult
	for i := 0; i < 2; i++ {
		pair, err := f.engine.Login(context.Background(), "alice", testPassword)
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		pairs = append(pairs, pair)
	}

	n, err := f.engine.LockAccount(context.Background(), "u1", StatusBlocked)
	if err != nil {
		t.Fatalf("LockAccount: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", n)
	}
	for _, pair := range pairs {
		if _, err := f.engine.Authorize(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("expected ErrInvalidSession, got %v", err)
		}
	}
	if _, err := f.engine.Login(context.Background(), "alice", testPassword); !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("expected ErrAccountNotActive, got %v", err)
	}

	changed := f.audit.byAction(AuditAccountStatusChanged)
	if len(changed) != 1 || changed[0].Details["to"] != "BLOCKED" || changed[0].Details["sessions_revoked"] != "2" {
		t.Fatalf("unexpected ACCOUNT_STATUS_CHANGED %+v", changed)
	}

	if _, err := f.engine.LockAccount(context.Background(), "u1", StatusActive); err == nil {
		t.Fatal("LockAccount must reject StatusActive")
	}
	if err := f.engine.ActivateAccount(context.Background(), "u1"); err != nil {
		t.Fatalf("ActivateAccount: %v", err)
	}
	if _, err := f.engine.Login(context.Background(), "alice", testPassword); err != nil {
		t.Fatalf("Login after activation: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Login(context.Background(), "alice", testPassword); err != nil {
			t.Fatalf("Login: %v", err)
		}
	}
	n, err := f.engine.LogoutAll(context.Background(), "u1")
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 3 || f.sessionKeys() != 0 {
		t.Fatalf("expected 3 revoked and none left, got n=%d left=%d", n, f.sessionKeys())
	}
	rec := f.audit.byAction(AuditUserLogoutAll)
	if len(rec) != 1 || rec[0].Details["sessions"] != "3" {
		t.Fatalf("unexpected USER_LOGOUT_ALL %+v", rec)
	}
}

func TestForgotPassword(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	if err := f.engine.ForgotPassword(context.Background(), "ALICE@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if err := f.engine.ForgotPassword(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown email should not error: %v", err)
	}
	if err := f.engine.ForgotPassword(context.Background(), "alice"); err != nil {
		t.Fatalf("username should not error: %v", err)
	}

	if len(f.resets.accounts) != 1 || f.resets.accounts[0] != "u1" {
		t.Fatalf("unexpected reset requests %v", f.resets.accounts)
	}
	if n := len(f.audit.byAction(AuditPasswordResetRequest)); n != 3 {
		t.Fatalf("expected 3 PASSWORD_RESET_REQUEST records, got %d", n)
	}
	if f.sessionKeys() != 0 {
		t.Fatal("ForgotPassword must not touch sessions")
	}
}

func TestMFAManagementErrors(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)
	ctx := context.Background()

	if err := f.engine.EnableMFA(ctx, "u1", "123456"); !errors.Is(err, ErrMFANotSetUp) {
		t.Fatalf("expected ErrMFANotSetUp, got %v", err)
	}
	if _, err := f.engine.MFASetup(ctx, "u1"); err != nil {
		t.Fatalf("MFASetup: %v", err)
	}
	if _, err := f.engine.GenerateRecoveryCodes(ctx, "u1"); !errors.Is(err, ErrMFANotEnabled) {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}
	if err := f.engine.EnableMFA(ctx, "u1", f.code(t, otherSecret(t))); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
	if _, err := f.engine.MFASetup(ctx, "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	f.enableMFA(t, "u1")
	if err := f.engine.DisableMFA(ctx, "u1"); err != nil {
		t.Fatalf("DisableMFA: %v", err)
	}
	if f.accounts.get("u1").MFA != nil {
		t.Fatal("disable should discard the MFA configuration")
	}
	res, err := f.engine.Login(ctx, "alice", testPassword)
	if err != nil || res.MFARequired {
		t.Fatalf("login after disable should issue tokens: %+v %v", res, err)
	}

	for _, action := range []AuditAction{AuditMFASetup, AuditMFAEnabled, AuditMFADisabled} {
		if len(f.audit.byAction(action)) == 0 {
			t.Fatalf("expected %s audit record", action)
		}
	}
}

func TestTechnicalErrorsCarryLoggedReference(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newEngineFixture(t, zap.New(core))
	f.accounts.findErr = errors.New("connection reset by peer")

	_, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err == nil {
		t.Fatal("expected an error")
	}
	if ErrorCode(err) != CodeTechnical {
		t.Fatalf("code = %q", ErrorCode(err))
	}
	ref := ErrorReference(err)
	if ref == "" {
		t.Fatal("expected a reference")
	}
	if msg := ErrorMessage(err); msg != "An unexpected error occurred." {
		t.Fatalf("client message leaks detail: %q", msg)
	}

	entries := logs.FilterMessage("technical failure").All()
	if len(entries) != 1 {
		t.Fatalf("expected one technical failure log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["reference"] != ref || fields["op"] != "login" {
		t.Fatalf("unexpected log fields %v", fields)
	}

	failed := f.audit.byAction(AuditLoginFailed)
	if len(failed) != 1 || failed[0].Details["reference"] != ref || failed[0].Details["reason"] != CodeTechnical {
		t.Fatalf("unexpected LOGIN_FAILED %+v", failed)
	}
}

func TestAuditSinkFailureDoesNotChangeOutcome(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newEngineFixture(t, zap.New(core))
	f.audit.err = errors.New("disk full")
	f.addAccount(t, "u1", "alice", StatusActive)

	if _, err := f.engine.Login(context.Background(), "alice", testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if logs.FilterMessage("audit sink failed").Len() != 1 {
		t.Fatal("expected the sink failure to be logged")
	}
}

func TestSessionBackendFailureIsTechnical(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	pair, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !f.engine.Health(context.Background()).Available {
		t.Fatal("expected healthy backend")
	}

	f.mr.Close()
	if _, err := f.engine.Authorize(context.Background(), pair.AccessToken); ErrorCode(err) != CodeTechnical {
		t.Fatalf("expected technical error, got %v", err)
	}
	if f.engine.Health(context.Background()).Available {
		t.Fatal("expected unavailable backend")
	}
}

func TestMetricsSnapshotCountsOutcomes(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addAccount(t, "u1", "alice", StatusActive)

	pair, err := f.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	_, _ = f.engine.Login(context.Background(), "alice", "wrong")
	_, _ = f.engine.Authorize(context.Background(), pair.AccessToken)
	_, _ = f.engine.Authorize(context.Background(), "junk")

	snap := f.engine.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricLoginSuccess:   1,
		MetricLoginFailure:   1,
		MetricSessionCreated: 1,
		MetricGateAllowed:    1,
		MetricGateRejected:   1,
	}
	for id, v := range want {
		if snap.Counters[id] != v {
			t.Fatalf("counter %d = %d, want %d", id, snap.Counters[id], v)
		}
	}
	var observed uint64
	for _, n := range snap.Histograms[MetricAuthorizeLatency] {
		observed += n
	}
	if observed != 2 {
		t.Fatalf("expected 2 latency observations, got %d", observed)
	}
}
