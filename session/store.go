package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record exists for a session id.
var ErrNotFound = errors.New("session not found")

// ErrUnavailable wraps backend failures (network, timeouts, driver errors).
var ErrUnavailable = errors.New("session backend unavailable")

// DefaultTTL is the fixed lifetime of a session record.
const DefaultTTL = 7 * 24 * time.Hour

// Persistence is the backing store for session records. Implementations
// must make MarkRevoked and DeleteAllForOwner single atomic operations.
type Persistence interface {
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// MarkRevoked sets the revoked flag. Revoking an already revoked record
	// succeeds; a missing record returns ErrNotFound.
	MarkRevoked(ctx context.Context, id string) error
	DeleteAllForOwner(ctx context.Context, ownerID string) (int, error)
}

// Config controls session lifetime and the clock used for validity checks.
type Config struct {
	TTL time.Duration
	Now func() time.Time
}

// Store creates, validates and revokes sessions. It is safe for concurrent
// use; all mutation is delegated to the persistence atomics.
type Store struct {
	persistence Persistence
	ttl         time.Duration
	now         func() time.Time
}

// NewStore returns a Store over p. Zero Config fields fall back to
// [DefaultTTL] and time.Now.
func NewStore(p Persistence, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{persistence: p, ttl: cfg.TTL, now: cfg.Now}
}

// Create opens a new, unrevoked session for ownerID expiring after the
// configured TTL.
func (s *Store) Create(ctx context.Context, ownerID, userAgent, origin string, mfaVerified bool) (*Session, error) {
	if ownerID == "" {
		return nil, errors.New("session owner is required")
	}

	now := s.now()
	sess := &Session{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		UserAgent:   userAgent,
		Origin:      origin,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		MFAVerified: mfaVerified,
	}
	if err := s.persistence.Insert(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the stored record regardless of validity.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return s.persistence.Get(ctx, id)
}

// IsValid reports whether id exists, is not revoked and has not expired.
// A missing record is not an error.
func (s *Store) IsValid(ctx context.Context, id string) (bool, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return sess.Valid(s.now()), nil
}

// Revoke marks id revoked. It is idempotent and treats an unknown id as
// already revoked.
func (s *Store) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	err := s.persistence.MarkRevoked(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// RevokeAll deletes every session owned by ownerID and returns how many
// records were removed.
func (s *Store) RevokeAll(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, nil
	}
	return s.persistence.DeleteAllForOwner(ctx, ownerID)
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}
