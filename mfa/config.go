package mfa

import (
	"errors"
	"time"

	"github.com/pquerna/otp"
)

var (
	// ErrNotSetUp is returned when an operation needs a stored secret and
	// the account has none.
	ErrNotSetUp = errors.New("mfa not set up")
	// ErrNotEnabled is returned when an operation needs enabled MFA.
	ErrNotEnabled = errors.New("mfa not enabled")
	// ErrInvalidCode is returned by Enable when the confirming code fails.
	ErrInvalidCode = errors.New("invalid mfa code")
)

// RecoveryCode is the stored form of one single-use recovery code.
type RecoveryCode struct {
	Hash [32]byte
}

// Configuration is an account's MFA state. A nil *Configuration means MFA
// was never set up or has been disabled.
type Configuration struct {
	Enabled       bool
	Secret        string
	RecoveryCodes []RecoveryCode
}

// Clone returns a deep copy of c.
func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return nil
	}
	out := *c
	out.RecoveryCodes = append([]RecoveryCode(nil), c.RecoveryCodes...)
	return &out
}

// Setup is what a client needs to enrol an authenticator app.
type Setup struct {
	Secret string
	URI    string
}

// Config holds TOTP and recovery code parameters for an [Engine].
type Config struct {
	Issuer             string
	Period             uint
	Skew               uint
	Digits             otp.Digits
	Algorithm          otp.Algorithm
	SecretSize         uint
	RecoveryCodeCount  int
	RecoveryCodeLength int
	Now                func() time.Time
	// Steps rejects reuse of an accepted TOTP code. Nil disables the check.
	Steps StepGuard
}

// DefaultConfig returns RFC 6238 defaults: 30 second steps, one step of skew
// either side, six digit SHA1 codes and ten 8-digit recovery codes.
func DefaultConfig() Config {
	return Config{
		Issuer:             "authcore",
		Period:             30,
		Skew:               1,
		Digits:             otp.DigitsSix,
		Algorithm:          otp.AlgorithmSHA1,
		SecretSize:         20,
		RecoveryCodeCount:  10,
		RecoveryCodeLength: 8,
	}
}

func (c Config) validate() error {
	if c.Issuer == "" {
		return errors.New("mfa issuer is required")
	}
	if c.Period == 0 {
		return errors.New("mfa period must be > 0")
	}
	if c.Skew > 2 {
		return errors.New("mfa skew must be <= 2 steps")
	}
	if c.Digits != otp.DigitsSix && c.Digits != otp.DigitsEight {
		return errors.New("mfa digits must be 6 or 8")
	}
	if c.SecretSize < 16 {
		return errors.New("mfa secret size must be >= 16 bytes")
	}
	if c.RecoveryCodeCount < 1 {
		return errors.New("recovery code count must be >= 1")
	}
	if c.RecoveryCodeLength < 6 {
		return errors.New("recovery code length must be >= 6")
	}
	return nil
}
