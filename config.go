package authcore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override; [Builder.Build] calls Validate.
type Config struct {
	JWT      JWTConfig      `toml:"jwt"`
	Session  SessionConfig  `toml:"session"`
	MFA      MFAConfig      `toml:"mfa"`
	Password PasswordConfig `toml:"password"`
	Audit    AuditConfig    `toml:"audit"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// JWTConfig controls token signing and lifetimes. SigningKey should come
// from the environment, not from a checked-in file.
type JWTConfig struct {
	Issuer       string        `toml:"issuer"`
	SigningKey   string        `toml:"signing_key"`
	KeyID        string        `toml:"key_id"`
	AccessTTL    time.Duration `toml:"access_ttl"`
	RefreshTTL   time.Duration `toml:"refresh_ttl"`
	ChallengeTTL time.Duration `toml:"challenge_ttl"`
	Leeway       time.Duration `toml:"leeway"`
}

// SessionConfig controls session lifetime and Redis key layout.
type SessionConfig struct {
	TTL         time.Duration `toml:"ttl"`
	RedisPrefix string        `toml:"redis_prefix"`
}

// MFAConfig controls TOTP parameters and recovery code shape.
type MFAConfig struct {
	Issuer             string `toml:"issuer"`
	Period             uint   `toml:"period"`
	Skew               uint   `toml:"skew"`
	Digits             int    `toml:"digits"`
	RecoveryCodeCount  int    `toml:"recovery_code_count"`
	RecoveryCodeLength int    `toml:"recovery_code_length"`
	// MaxAttempts is the number of wrong codes one challenge accepts before
	// it is discarded.
	MaxAttempts int    `toml:"max_attempts"`
	RedisPrefix string `toml:"redis_prefix"`
}

// PasswordConfig holds argon2id cost parameters for the default hasher.
type PasswordConfig struct {
	Memory      uint32 `toml:"memory"`
	Time        uint32 `toml:"time"`
	Parallelism uint8  `toml:"parallelism"`
	SaltLength  uint32 `toml:"salt_length"`
	KeyLength   uint32 `toml:"key_length"`
	MinLength   int    `toml:"min_length"`
}

// AuditConfig controls what goes into audit details.
type AuditConfig struct {
	// IncludeIdentifier adds the submitted login identifier to LOGIN_FAILED
	// details when it did not resolve to an account.
	IncludeIdentifier bool `toml:"include_identifier"`
	// IncludeFlowState adds the final login state machine state.
	IncludeFlowState bool `toml:"include_flow_state"`
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

// DefaultConfig returns production defaults. The signing key is empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:       "authcore",
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   7 * 24 * time.Hour,
			ChallengeTTL: 5 * time.Minute,
			Leeway:       30 * time.Second,
		},
		Session: SessionConfig{
			TTL:         7 * 24 * time.Hour,
			RedisPrefix: "as",
		},
		MFA: MFAConfig{
			Issuer:             "authcore",
			Period:             30,
			Skew:               1,
			Digits:             6,
			RecoveryCodeCount:  10,
			RecoveryCodeLength: 8,
			MaxAttempts:        5,
			RedisPrefix:        "amc",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		Audit: AuditConfig{
			IncludeIdentifier: true,
			IncludeFlowState:  true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks cross-field constraints. Sub-packages repeat their own
// checks when constructed.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.SigningKey) < 32 {
		return errors.New("JWT SigningKey must be at least 32 bytes")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.ChallengeTTL <= 0 {
		return errors.New("JWT TTLs must be > 0")
	}
	if c.JWT.ChallengeTTL > c.JWT.AccessTTL {
		return errors.New("JWT ChallengeTTL must not exceed AccessTTL")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.TTL < c.JWT.RefreshTTL {
		return errors.New("Session TTL must be >= JWT RefreshTTL")
	}
	if strings.ContainsAny(c.Session.RedisPrefix, " :") {
		return errors.New("Session RedisPrefix must not contain spaces or ':'")
	}

	// MFA
	if c.MFA.Period == 0 {
		return errors.New("MFA Period must be > 0")
	}
	if c.MFA.Skew > 2 {
		return errors.New("MFA Skew must be <= 2")
	}
	if c.MFA.Digits != 6 && c.MFA.Digits != 8 {
		return errors.New("MFA Digits must be 6 or 8")
	}
	if c.MFA.RecoveryCodeCount < 1 || c.MFA.RecoveryCodeLength < 6 {
		return errors.New("MFA recovery codes must be >= 1 codes of >= 6 digits")
	}
	if c.MFA.MaxAttempts < 1 {
		return errors.New("MFA MaxAttempts must be >= 1")
	}
	if c.MFA.RedisPrefix == "" || strings.ContainsAny(c.MFA.RedisPrefix, " :") {
		return errors.New("MFA RedisPrefix must be non-empty without spaces or ':'")
	}
	if c.MFA.RedisPrefix == c.Session.RedisPrefix {
		return errors.New("MFA RedisPrefix must differ from Session RedisPrefix")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	return nil
}

// LoadConfigFile decodes a TOML file over [DefaultConfig]. Keys the file sets
// that Config does not know are an error.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}
