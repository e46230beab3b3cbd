package authcore

import (
	"errors"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/mfa"
)

var (
	// ErrInvalidCredentials is returned when the identifier is unknown or the
	// password does not match. The two cases are indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotActive is returned when the password is correct but the
	// account status is not ACTIVE.
	ErrAccountNotActive = errors.New("account not active")
	// ErrMFANotSetUp is returned when MFA is enabled before a secret exists.
	ErrMFANotSetUp = mfa.ErrNotSetUp
	// ErrInvalidMFACode is returned when a TOTP or recovery code fails.
	ErrInvalidMFACode = mfa.ErrInvalidCode
	// ErrMFANotEnabled is returned by operations that need enabled MFA.
	ErrMFANotEnabled = mfa.ErrNotEnabled
	// ErrInvalidMFAChallenge is returned when the challenge token is missing,
	// expired, forged or of another kind.
	ErrInvalidMFAChallenge = errors.New("invalid mfa challenge")
	// ErrInvalidSession is returned when the session behind a token is
	// missing, revoked or expired.
	ErrInvalidSession = errors.New("invalid or expired session")
	// ErrInvalidToken is returned when a token fails validation or is
	// presented to an operation that does not accept its kind.
	ErrInvalidToken = jwt.ErrInvalidToken
	// ErrMFARequired is returned by the gate when the account has MFA enabled
	// and the access token carries no MFA assertion.
	ErrMFARequired = errors.New("MFA verification required")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrAccountNotFound is returned by AccountStore implementations when no
	// account matches.
	ErrAccountNotFound = errors.New("account not found")
)

// Public error codes. They are stable and safe to return to clients.
const (
	CodeInvalidCredentials  = "invalid_credentials"
	CodeAccountNotActive    = "account_not_active"
	CodeMFANotSetUp         = "mfa_not_set_up"
	CodeInvalidMFACode      = "invalid_mfa_code"
	CodeMFANotEnabled       = "mfa_not_enabled"
	CodeInvalidMFAChallenge = "invalid_mfa_challenge"
	CodeInvalidSession      = "invalid_session"
	CodeInvalidToken        = "invalid_token"
	CodeMFARequired         = "mfa_required"
	CodeTechnical           = "technical_error"
)

var errorCodes = []struct {
	err     error
	code    string
	message string
}{
	{ErrInvalidCredentials, CodeInvalidCredentials, "Invalid username or password."},
	{ErrAccountNotActive, CodeAccountNotActive, "Account is not active."},
	{ErrMFANotSetUp, CodeMFANotSetUp, "MFA has not been set up."},
	{ErrInvalidMFACode, CodeInvalidMFACode, "Invalid MFA code."},
	{ErrMFANotEnabled, CodeMFANotEnabled, "MFA is not enabled."},
	{ErrInvalidMFAChallenge, CodeInvalidMFAChallenge, "Invalid or expired MFA challenge."},
	{ErrInvalidSession, CodeInvalidSession, "Invalid or expired session."},
	{ErrInvalidToken, CodeInvalidToken, "Invalid token."},
	{ErrMFARequired, CodeMFARequired, "MFA verification required."},
}

// ErrorCode maps err to its public code. Anything outside the business
// taxonomy maps to [CodeTechnical].
func ErrorCode(err error) string {
	if ErrorReference(err) != "" {
		return CodeTechnical
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeTechnical
}

// ErrorMessage returns the stable client-facing message for err. It never
// includes the underlying cause.
func ErrorMessage(err error) string {
	if ErrorReference(err) == "" {
		for _, ec := range errorCodes {
			if errors.Is(err, ec.err) {
				return ec.message
			}
		}
	}
	return "An unexpected error occurred."
}

// TechnicalError is returned for unclassified failures. Reference matches the
// "reference" field of the error log entry that holds the real cause.
type TechnicalError struct {
	Reference string
	cause     error
}

func (e *TechnicalError) Error() string {
	return "technical error (reference " + e.Reference + ")"
}

// Unwrap exposes the cause to errors.Is/As on the server side.
func (e *TechnicalError) Unwrap() error {
	return e.cause
}

// ErrorReference returns the correlation reference carried by err, if any.
func ErrorReference(err error) string {
	var te *TechnicalError
	if errors.As(err, &te) {
		return te.Reference
	}
	return ""
}
