package authcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/mfa"
)

// AccountStatus is the lifecycle state of an account. Only StatusActive may
// log in, refresh or pass the gate.
type AccountStatus uint8

const (
	StatusPending AccountStatus = iota
	StatusActive
	StatusSuspended
	StatusDeactivated
	StatusBlocked
	StatusDeleted
)

var statusNames = [...]string{
	StatusPending:     "PENDING",
	StatusActive:      "ACTIVE",
	StatusSuspended:   "SUSPENDED",
	StatusDeactivated: "DEACTIVATED",
	StatusBlocked:     "BLOCKED",
	StatusDeleted:     "DELETED",
}

func (s AccountStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("AccountStatus(%d)", uint8(s))
}

// ParseAccountStatus is the inverse of AccountStatus.String and is case
// insensitive.
func ParseAccountStatus(s string) (AccountStatus, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range statusNames {
		if name == upper {
			return AccountStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown account status %q", s)
}

// Account is the slice of the user record the core reads. The core only
// writes MFA and Status.
type Account struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	Status       AccountStatus
	MFA          *mfa.Configuration
	Authorities  []string
}

// MFAEnabled reports whether the account has enabled MFA.
func (a *Account) MFAEnabled() bool {
	return a != nil && a.MFA != nil && a.MFA.Enabled
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.MFA = a.MFA.Clone()
	out.Authorities = append([]string(nil), a.Authorities...)
	return &out
}

// AccountStore is the account lookup and persistence collaborator.
// Lookups return ErrAccountNotFound when nothing matches; a (nil, nil)
// return is treated the same way.
//
// Each write touches only its own fields so that a write built from an
// older read cannot undo a concurrent ConsumeRecoveryCode.
type AccountStore interface {
	// FindByIdentifier matches either username or email.
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	// Save writes the account status. MFA state is left untouched.
	Save(ctx context.Context, account *Account) error
	// SaveMFA writes the MFA enabled flag and secret. Recovery codes in cfg
	// are ignored. A nil cfg removes MFA together with every recovery code.
	SaveMFA(ctx context.Context, accountID string, cfg *mfa.Configuration) error
	// ReplaceRecoveryCodes swaps the whole recovery code set.
	ReplaceRecoveryCodes(ctx context.Context, accountID string, codes []mfa.RecoveryCode) error
	// ConsumeRecoveryCode removes one recovery code by hash and reports
	// whether it existed. It must be a single conditional delete.
	ConsumeRecoveryCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
}

// PasswordHasher hashes and compares passwords. Matches must compare in
// constant time.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Matches(plaintext, hash string) (bool, error)
}

// AuditAction labels an audit record.
type AuditAction string

const (
	AuditLoginFailed               AuditAction = "LOGIN_FAILED"
	AuditLoginSuccess              AuditAction = "LOGIN_SUCCESS"
	AuditLoginMFARequired          AuditAction = "LOGIN_MFA_REQUIRED"
	AuditMFAFailed                 AuditAction = "MFA_FAILED"
	AuditUserLogout                AuditAction = "USER_LOGOUT"
	AuditUserLogoutAll             AuditAction = "USER_LOGOUT_ALL"
	AuditPasswordResetRequest      AuditAction = "PASSWORD_RESET_REQUEST"
	AuditMFASetup                  AuditAction = "MFA_SETUP"
	AuditMFAEnabled                AuditAction = "MFA_ENABLED"
	AuditMFADisabled               AuditAction = "MFA_DISABLED"
	AuditMFARecoveryCodesGenerated AuditAction = "MFA_RECOVERY_CODES_GENERATED"
	AuditAccountStatusChanged      AuditAction = "ACCOUNT_STATUS_CHANGED"
)

// AuditRecord is one append-only audit entry. AccountID is empty when the
// identifier did not resolve to an account.
type AuditRecord struct {
	Time      time.Time         `json:"time"`
	AccountID string            `json:"account_id,omitempty"`
	Action    AuditAction       `json:"action"`
	Details   map[string]string `json:"details,omitempty"`
}

// AuditSink stores audit records. Record is called synchronously before the
// engine returns.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// LoginHistoryRecord is one login attempt as seen by the account owner.
type LoginHistoryRecord struct {
	Time       time.Time `json:"time"`
	AccountID  string    `json:"account_id,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Successful bool      `json:"successful"`
}

// LoginHistorySink stores login history records.
type LoginHistorySink interface {
	Record(ctx context.Context, rec LoginHistoryRecord) error
}

// PasswordResetRequester issues and delivers a reset token for an account.
// The core never sees the token.
type PasswordResetRequester interface {
	RequestPasswordReset(ctx context.Context, account *Account) error
}

// LoginResult is either a token pair (MFARequired false) or a challenge
// token (MFARequired true), never both.
type LoginResult struct {
	AccessToken    string   `json:"accessToken,omitempty"`
	RefreshToken   string   `json:"refreshToken,omitempty"`
	Authorities    []string `json:"authorities,omitempty"`
	ChallengeToken string   `json:"challengeToken,omitempty"`
	MFARequired    bool     `json:"mfaRequired"`
}

// Principal is the authenticated caller populated by the gate.
type Principal struct {
	AccountID   string
	Subject     string
	SessionID   string
	Authorities []string
	MFAVerified bool
}

// HasAuthority reports whether p carries label.
func (p *Principal) HasAuthority(label string) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Authorities {
		if a == label {
			return true
		}
	}
	return false
}

// MFAMethod selects which second factor VerifyMFAWithMethod accepts.
type MFAMethod string

const (
	// MFAMethodAuto tries TOTP first and falls back to a recovery code.
	MFAMethodAuto     MFAMethod = "auto"
	MFAMethodTOTP     MFAMethod = "totp"
	MFAMethodRecovery MFAMethod = "recovery"
)
