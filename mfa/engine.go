package mfa

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

// Store persists MFA configuration on the account record.
type Store interface {
	// LoadMFA returns the account's configuration, or nil when none exists.
	LoadMFA(ctx context.Context, accountID string) (*Configuration, error)
	// SaveMFA writes Enabled and Secret and leaves recovery codes alone. A
	// nil cfg removes the configuration and every recovery code.
	SaveMFA(ctx context.Context, accountID string, cfg *Configuration) error
	// ReplaceRecoveryCodes swaps the whole recovery code set.
	ReplaceRecoveryCodes(ctx context.Context, accountID string, codes []RecoveryCode) error
	// ConsumeRecoveryCode removes the code with the given hash and reports
	// whether it was present. It must be a single conditional remove so two
	// concurrent callers cannot both observe true.
	ConsumeRecoveryCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
}

// StepGuard remembers the last TOTP time step accepted per account.
type StepGuard interface {
	// Claim records step for accountID and reports true only when step is
	// later than every step claimed before. ttl bounds how long the claim
	// must be remembered.
	Claim(ctx context.Context, accountID string, step int64, ttl time.Duration) (bool, error)
}

// Engine runs the TOTP secret lifecycle and recovery code issuance. It keeps
// no per-account state and is safe for concurrent use.
type Engine struct {
	store  Store
	config Config
}

// NewEngine validates cfg and binds it to store.
func NewEngine(store Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, errors.New("mfa store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{store: store, config: cfg}, nil
}

// SecretFor returns the account's secret, generating and persisting one on
// first call. It never changes the enabled flag. label is shown by
// authenticator apps; it defaults to accountID.
func (e *Engine) SecretFor(ctx context.Context, accountID, label string) (Setup, error) {
	if label == "" {
		label = accountID
	}

	current, err := e.store.LoadMFA(ctx, accountID)
	if err != nil {
		return Setup{}, err
	}
	if current != nil && current.Secret != "" {
		return Setup{Secret: current.Secret, URI: e.provisioningURI(current.Secret, label)}, nil
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: label,
		Period:      e.config.Period,
		SecretSize:  e.config.SecretSize,
		Digits:      e.config.Digits,
		Algorithm:   e.config.Algorithm,
	})
	if err != nil {
		return Setup{}, fmt.Errorf("generate totp secret: %w", err)
	}

	next := current.Clone()
	if next == nil {
		next = &Configuration{}
	}
	next.Secret = key.Secret()
	if err := e.store.SaveMFA(ctx, accountID, next); err != nil {
		return Setup{}, err
	}
	return Setup{Secret: next.Secret, URI: key.URL()}, nil
}

// Enabled reports whether the account has enabled MFA.
func (e *Engine) Enabled(ctx context.Context, accountID string) (bool, error) {
	current, err := e.store.LoadMFA(ctx, accountID)
	if err != nil {
		return false, err
	}
	return current != nil && current.Enabled, nil
}

// VerifyCode checks code against the current and adjacent time steps. With
// a StepGuard configured, a code whose step is not later than the last
// accepted one is rejected, so a code works at most once.
func (e *Engine) VerifyCode(ctx context.Context, accountID, code string) (bool, error) {
	current, err := e.store.LoadMFA(ctx, accountID)
	if err != nil {
		return false, err
	}
	if current == nil || !current.Enabled || current.Secret == "" {
		return false, ErrNotEnabled
	}
	return e.accept(ctx, accountID, code, current.Secret)
}

// VerifyRecoveryCode consumes code if it is one of the account's unused
// recovery codes. It fails closed: any missing state yields false.
func (e *Engine) VerifyRecoveryCode(ctx context.Context, accountID, code string) (bool, error) {
	current, err := e.store.LoadMFA(ctx, accountID)
	if err != nil {
		return false, err
	}
	if current == nil || len(current.RecoveryCodes) == 0 {
		return false, nil
	}

	canonical := CanonicalRecoveryCode(code)
	if len(canonical) != e.config.RecoveryCodeLength || !isDigits(canonical) {
		return false, nil
	}
	return e.store.ConsumeRecoveryCode(ctx, accountID, HashRecoveryCode(accountID, canonical))
}

// Enable turns MFA on after the caller proves possession of the secret.
func (e *Engine) Enable(ctx context.Context, accountID, code string) error {
	current, err := e.store.LoadMFA(ctx, accountID)
	if err != nil {
		return err
	}
	if current == nil || current.Secret == "" {
		return ErrNotSetUp
	}

	ok, err := e.accept(ctx, accountID, code, current.Secret)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	if current.Enabled {
		return nil
	}

	next := current.Clone()
	next.Enabled = true
	return e.store.SaveMFA(ctx, accountID, next)
}

// Disable removes the configuration. The secret and every recovery code are
// discarded, so re-enabling requires a new secret and new codes.
func (e *Engine) Disable(ctx context.Context, accountID string) error {
	return e.store.SaveMFA(ctx, accountID, nil)
}

// GenerateRecoveryCodes replaces the account's recovery codes with a fresh
// set and returns the plaintext codes. Only hashes are stored.
func (e *Engine) GenerateRecoveryCodes(ctx context.Context, accountID string) ([]string, error) {
	current, err := e.store.LoadMFA(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if current == nil || !current.Enabled {
		return nil, ErrNotEnabled
	}

	plain := make([]string, 0, e.config.RecoveryCodeCount)
	stored := make([]RecoveryCode, 0, e.config.RecoveryCodeCount)
	seen := make(map[string]struct{}, e.config.RecoveryCodeCount)
	for len(plain) < e.config.RecoveryCodeCount {
		code, err := newRecoveryCode(e.config.RecoveryCodeLength)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		plain = append(plain, formatRecoveryCode(code))
		stored = append(stored, RecoveryCode{Hash: HashRecoveryCode(accountID, code)})
	}

	if err := e.store.ReplaceRecoveryCodes(ctx, accountID, stored); err != nil {
		return nil, err
	}
	return plain, nil
}

// accept validates code and, when a StepGuard is set, claims its step.
func (e *Engine) accept(ctx context.Context, accountID, code, secret string) (bool, error) {
	step, ok, err := e.validate(code, secret)
	if err != nil || !ok {
		return false, err
	}
	if e.config.Steps == nil {
		return true, nil
	}
	window := time.Duration(2*e.config.Skew+2) * time.Duration(e.config.Period) * time.Second
	claimed, err := e.config.Steps.Claim(ctx, accountID, step, window)
	if err != nil {
		return false, fmt.Errorf("claim totp step: %w", err)
	}
	return claimed, nil
}

// validate returns the time step that code matched. Steps are tried from
// the oldest allowed to the newest.
func (e *Engine) validate(code, secret string) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != e.config.Digits.Length() {
		return 0, false, nil
	}

	current := e.config.Now().UTC().Unix() / int64(e.config.Period)
	skew := int64(e.config.Skew)
	for step := current - skew; step <= current+skew; step++ {
		if step < 0 {
			continue
		}
		ok, err := hotp.ValidateCustom(code, uint64(step), secret, hotp.ValidateOpts{
			Digits:    e.config.Digits,
			Algorithm: e.config.Algorithm,
		})
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("validate totp: %w", err)
		}
		if ok {
			return step, true, nil
		}
	}
	return 0, false, nil
}

func (e *Engine) provisioningURI(secret, label string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", e.config.Issuer)
	v.Set("period", strconv.FormatUint(uint64(e.config.Period), 10))
	v.Set("digits", e.config.Digits.String())
	v.Set("algorithm", e.config.Algorithm.String())

	path := url.PathEscape(e.config.Issuer + ":" + label)
	return "otpauth://totp/" + path + "?" + v.Encode()
}
