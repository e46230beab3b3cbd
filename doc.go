// Package authcore is the authentication core of a web service: password
// login with optional TOTP second factor, signed access and refresh tokens
// bound to server-side sessions, and a per-request gate.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Flow
//
// [Engine.Login] checks credentials and account status. Accounts without MFA
// receive a token pair at once; accounts with MFA receive only a challenge
// token, which [Engine.VerifyMFA] exchanges for a token pair once a TOTP or
// recovery code is accepted. Every request then passes [Engine.Authorize],
// which checks the access token, the session behind it, and the MFA
// assertion. [Engine.Refresh] re-issues tokens only while the session is
// valid; revoking the session ([Engine.Logout], [Engine.LogoutAll],
// [Engine.LockAccount]) ends every token bound to it.
//
// # Errors
//
// Expected outcomes are sentinel errors with stable public codes
// ([ErrorCode], [ErrorMessage]). Anything else is returned as a
// [*TechnicalError] whose reference matches the zap log entry holding the
// cause.
//
// # Collaborators
//
// The caller supplies an [AccountStore] and a session backend (Redis via
// [Builder.WithRedis], or any session.Persistence such as the Postgres
// repository in store/postgres). Audit and login history sinks are optional
// and are written synchronously before an operation returns.
package authcore
