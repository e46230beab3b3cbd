package authcore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	testSigningKey = "0123456789abcdef0123456789abcdef"
	testPassword   = "Secret123!"
)

type memAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	// findErr, when set, is returned by every lookup.
	findErr error
	// findNil makes FindByID return (nil, nil).
	findNil bool
	// beforeSave runs inside Save before the write, outside the lock.
	beforeSave func()
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{accounts: make(map[string]*Account)}
}

func (s *memAccountStore) put(a *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a.Clone()
}

func (s *memAccountStore) get(id string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Clone()
}

func (s *memAccountStore) setStatus(id string, status AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id].Status = status
}

func (s *memAccountStore) FindByIdentifier(_ context.Context, identifier string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, a := range s.accounts {
		if a.Username == identifier || strings.EqualFold(a.Email, identifier) {
			return a.Clone(), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *memAccountStore) FindByID(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findNil {
		return nil, nil
	}
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (s *memAccountStore) Save(_ context.Context, a *Account) error {
	if s.beforeSave != nil {
		s.beforeSave()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok {
		return ErrAccountNotFound
	}
	cur.Status = a.Status
	return nil
}

func (s *memAccountStore) SaveMFA(_ context.Context, accountID string, cfg *mfa.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if cfg == nil {
		cur.MFA = nil
		return nil
	}
	if cur.MFA == nil {
		cur.MFA = &mfa.Configuration{}
	}
	cur.MFA.Enabled = cfg.Enabled
	cur.MFA.Secret = cfg.Secret
	return nil
}

func (s *memAccountStore) ReplaceRecoveryCodes(_ context.Context, accountID string, codes []mfa.RecoveryCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if cur.MFA == nil {
		cur.MFA = &mfa.Configuration{}
	}
	cur.MFA.RecoveryCodes = append([]mfa.RecoveryCode(nil), codes...)
	return nil
}

func (s *memAccountStore) ConsumeRecoveryCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.MFA == nil {
		return false, nil
	}
	for i, rc := range a.MFA.RecoveryCodes {
		if rc.Hash == hash {
			a.MFA.RecoveryCodes = append(a.MFA.RecoveryCodes[:i], a.MFA.RecoveryCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	records []AuditRecord
	err     error
}

func (r *recordingAudit) Record(_ context.Context, rec AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func (r *recordingAudit) byAction(action AuditAction) []AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AuditRecord
	for _, rec := range r.records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

type recordingHistory struct {
	mu      sync.Mutex
	records []LoginHistoryRecord
}

func (r *recordingHistory) Record(_ context.Context, rec LoginHistoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingHistory) all() []LoginHistoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LoginHistoryRecord(nil), r.records...)
}

type recordingResets struct {
	mu       sync.Mutex
	accounts []string
}

func (r *recordingResets) RequestPasswordReset(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, a.ID)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineFixture struct {
	engine   *Engine
	accounts *memAccountStore
	audit    *recordingAudit
	history  *recordingHistory
	resets   *recordingResets
	clock    *testClock
	mr       *miniredis.Miniredis
	rdb      *redis.Client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningKey = testSigningKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newEngineFixture(t *testing.T, logger *zap.Logger) *engineFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := &engineFixture{
		accounts: newMemAccountStore(),
		audit:    &recordingAudit{},
		history:  &recordingHistory{},
		resets:   &recordingResets{},
		clock:    &testClock{now: time.Now().UTC().Truncate(time.Second)},
		mr:       mr,
		rdb:      rdb,
	}
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	f.engine, err = New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithAccountStore(f.accounts).
		WithAuditSink(f.audit).
		WithLoginHistorySink(f.history).
		WithPasswordResetRequester(f.resets).
		WithLogger(logger).
		WithClock(f.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return f
}

func (f *engineFixture) addAccount(t *testing.T, id, username string, status AccountStatus) {
	t.Helper()

	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   8,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	f.accounts.put(&Account{
		ID:           id,
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: hash,
		Status:       status,
		Authorities:  []string{"ROLE_USER"},
	})
}

// enableMFA runs setup and enable for id and returns the secret. The clock
// then moves one period so the next code is not the one spent on enable.
func (f *engineFixture) enableMFA(t *testing.T, id string) string {
	t.Helper()

	setup, err := f.engine.MFASetup(context.Background(), id)
	if err != nil {
		t.Fatalf("MFASetup: %v", err)
	}
	if err := f.engine.EnableMFA(context.Background(), id, f.code(t, setup.Secret)); err != nil {
		t.Fatalf("EnableMFA: %v", err)
	}
	f.clock.Advance(30 * time.Second)
	return setup.Secret
}

func (f *engineFixture) code(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCodeCustom(secret, f.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	return code
}

// challengeKeys counts open MFA challenge records.
func (f *engineFixture) challengeKeys() int {
	n := 0
	for _, k := range f.mr.Keys() {
		if strings.HasPrefix(k, "amc:") && !strings.HasPrefix(k, "amc:totp:") {
			n++
		}
	}
	return n
}

// sessionKeys counts stored session records, excluding owner indexes.
func (f *engineFixture) sessionKeys() int {
	n := 0
	for _, k := range f.mr.Keys() {
		if strings.HasPrefix(k, "as:") && !strings.HasPrefix(k, "as:owner:") {
			n++
		}
	}
	return n
}

func otherSecret(t *testing.T) string {
	t.Helper()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "other", AccountName: "other"})
	if err != nil {
		t.Fatalf("totp.Generate: %v", err)
	}
	return key.Secret()
}

var _ mfa.Store = accountMFAStore{}
