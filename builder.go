package authcore

import (
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/pquerna/otp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder wires an [Engine] from its collaborators. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	persistence session.Persistence
	accounts    AccountStore
	hasher      PasswordHasher
	auditSink   AuditSink
	history     LoginHistorySink
	resets      PasswordResetRequester
	logger      *zap.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis stores sessions in Redis under Config.Session.RedisPrefix and
// MFA challenges and accepted TOTP steps under Config.MFA.RedisPrefix.
// WithSessionPersistence takes precedence for sessions only. Without a
// client the MFA records live in process memory.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionPersistence sets a custom session backend such as
// store/postgres.SessionRepository.
func (b *Builder) WithSessionPersistence(p session.Persistence) *Builder {
	b.persistence = p
	return b
}

func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithPasswordHasher replaces the default argon2id hasher built from
// Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLoginHistorySink(sink LoginHistorySink) *Builder {
	b.history = sink
	return b
}

// WithPasswordResetRequester enables ForgotPassword.
func (b *Builder) WithPasswordResetRequester(r PasswordResetRequester) *Builder {
	b.resets = r
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for tokens, sessions, TOTP and audit
// timestamps. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and constructs the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- SESSIONS --------
	persistence := b.persistence
	if persistence == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or session persistence required")
		}
		persistence = session.NewRedisPersistence(b.redis, cfg.Session.RedisPrefix)
	}
	sessions := session.NewStore(persistence, session.Config{
		TTL: cfg.Session.TTL,
		Now: now,
	})

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:    cfg.JWT.AccessTTL,
		RefreshTTL:   cfg.JWT.RefreshTTL,
		ChallengeTTL: cfg.JWT.ChallengeTTL,
		SigningKey:   []byte(cfg.JWT.SigningKey),
		Issuer:       cfg.JWT.Issuer,
		Leeway:       cfg.JWT.Leeway,
		KeyID:        cfg.JWT.KeyID,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	// -------- MFA --------
	mfaCfg := mfa.DefaultConfig()
	mfaCfg.Issuer = cfg.MFA.Issuer
	mfaCfg.Period = cfg.MFA.Period
	mfaCfg.Skew = cfg.MFA.Skew
	mfaCfg.Digits = otp.Digits(cfg.MFA.Digits)
	mfaCfg.RecoveryCodeCount = cfg.MFA.RecoveryCodeCount
	mfaCfg.RecoveryCodeLength = cfg.MFA.RecoveryCodeLength
	mfaCfg.Now = now
	var challenges stores.Challenges
	if b.redis != nil {
		challenges = stores.NewRedisChallenges(b.redis, cfg.MFA.RedisPrefix, now)
		mfaCfg.Steps = stores.NewRedisSteps(b.redis, cfg.MFA.RedisPrefix)
	} else {
		challenges = stores.NewMemoryChallenges(now)
		mfaCfg.Steps = stores.NewMemorySteps()
	}
	mfaEngine, err := mfa.NewEngine(accountMFAStore{accounts: b.accounts}, mfaCfg)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		ph, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			MinLength:   cfg.Password.MinLength,
		})
		if err != nil {
			return nil, err
		}
		hasher = ph
	}
	credentials, err := newCredentialAuthenticator(b.accounts, hasher)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		accounts:    b.accounts,
		credentials: credentials,
		tokens:      tokens,
		sessions:    sessions,
		persistence: persistence,
		mfa:         mfaEngine,
		challenges:  challenges,
		auditSink:   b.auditSink,
		history:     b.history,
		resets:      b.resets,
		logger:      logger,
		metrics:     NewMetrics(cfg.Metrics),
		now:         now,
	}
	if engine.auditSink == nil {
		engine.auditSink = NoOpSink{}
	}
	if engine.history == nil {
		engine.history = NoOpLoginHistory{}
	}

	b.built = true

	return engine, nil
}
