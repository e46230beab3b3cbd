package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/session"
)

// SessionRepository implements session.Persistence over the sessions table.
// Every mutation is a single statement.
type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Insert(ctx context.Context, s *session.Session) error {
	query := `
		INSERT INTO sessions (id, owner_id, user_agent, origin, created_at, expires_at, revoked, mfa_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.OwnerID, s.UserAgent, s.Origin, s.CreatedAt.UTC(), s.ExpiresAt.UTC(), s.Revoked, s.MFAVerified,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return nil
}

// Get returns the row even when it is revoked or expired; validity is
// decided by session.Store.
func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `
		SELECT id, owner_id, user_agent, origin, created_at, expires_at, revoked, mfa_verified
		FROM sessions
		WHERE id = $1
	`
	s := &session.Session{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.OwnerID, &s.UserAgent, &s.Origin, &s.CreatedAt, &s.ExpiresAt, &s.Revoked, &s.MFAVerified,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return s, nil
}

func (r *SessionRepository) MarkRevoked(ctx context.Context, id string) error {
	query := `
		UPDATE sessions
		SET revoked = TRUE
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteAllForOwner(ctx context.Context, ownerID string) (int, error) {
	query := `
		DELETE FROM sessions
		WHERE owner_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return int(n), nil
}

// DeleteExpired removes rows that expired before cutoff. Redis drops expired
// keys on its own; Postgres needs this run periodically.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM sessions
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}

type contextPinger interface {
	PingContext(ctx context.Context) error
}

// Ping reports round-trip latency when the handle is a *sql.DB.
func (r *SessionRepository) Ping(ctx context.Context) (time.Duration, error) {
	p, ok := r.db.(contextPinger)
	if !ok {
		return 0, errors.New("session handle does not support ping")
	}
	start := time.Now()
	if err := p.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return time.Since(start), nil
}
