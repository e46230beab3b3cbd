package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/mfa"
)

// AccountRepository implements authcore.AccountStore over the accounts and
// account_recovery_codes tables.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const selectAccount = `
		SELECT id, email, username, password_hash, status, authorities, mfa_enabled, mfa_secret
		FROM accounts
	`

// FindByIdentifier matches the username exactly or the email case
// insensitively.
func (r *AccountRepository) FindByIdentifier(ctx context.Context, identifier string) (*authcore.Account, error) {
	query := selectAccount + `WHERE username = $1 OR lower(email) = lower($1)
		LIMIT 1
	`
	return r.find(ctx, query, identifier)
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*authcore.Account, error) {
	query := selectAccount + `WHERE id = $1
	`
	return r.find(ctx, query, id)
}

func (r *AccountRepository) find(ctx context.Context, query string, arg string) (*authcore.Account, error) {
	var (
		a           authcore.Account
		status      string
		authorities string
		mfaEnabled  bool
		mfaSecret   sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.Username, &a.PasswordHash, &status, &authorities, &mfaEnabled, &mfaSecret,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrAccountNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	a.Status, err = authcore.ParseAccountStatus(status)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", a.ID, err)
	}
	a.Authorities = splitAuthorities(authorities)

	if mfaEnabled || mfaSecret.Valid {
		codes, err := r.recoveryCodes(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		a.MFA = &mfa.Configuration{
			Enabled:       mfaEnabled,
			Secret:        mfaSecret.String,
			RecoveryCodes: codes,
		}
	}
	return &a, nil
}

func (r *AccountRepository) recoveryCodes(ctx context.Context, accountID string) ([]mfa.RecoveryCode, error) {
	query := `
		SELECT code_hash
		FROM account_recovery_codes
		WHERE account_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var codes []mfa.RecoveryCode
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("account %s: recovery code hash has %d bytes", accountID, len(raw))
		}
		var rc mfa.RecoveryCode
		copy(rc.Hash[:], raw)
		codes = append(codes, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return codes, nil
}

// Create inserts a new account. The engine never creates accounts; this is
// for provisioning tools.
func (r *AccountRepository) Create(ctx context.Context, a *authcore.Account) error {
	query := `
		INSERT INTO accounts (id, email, username, password_hash, status, authorities)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Email, a.Username, a.PasswordHash, a.Status.String(), joinAuthorities(a.Authorities),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Save writes the account status. MFA columns and recovery code rows are
// left alone so a stale account value cannot restore a consumed code.
func (r *AccountRepository) Save(ctx context.Context, a *authcore.Account) error {
	query := `
		UPDATE accounts
		SET status = $2
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, a.ID, a.Status.String())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// SaveMFA writes the enabled flag and secret. A nil cfg clears both and
// deletes every recovery code in the same transaction.
func (r *AccountRepository) SaveMFA(ctx context.Context, accountID string, cfg *mfa.Configuration) error {
	return withTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		var (
			enabled bool
			secret  sql.NullString
		)
		if cfg != nil {
			enabled = cfg.Enabled
			secret = sql.NullString{String: cfg.Secret, Valid: cfg.Secret != ""}
		}

		res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET mfa_enabled = $2, mfa_secret = $3
		WHERE id = $1
	`, accountID, enabled, secret)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}

		if cfg == nil {
			if _, err := tx.ExecContext(ctx, `
		DELETE FROM account_recovery_codes
		WHERE account_id = $1
	`, accountID); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		return nil
	})
}

// ReplaceRecoveryCodes swaps the account's recovery code rows inside one
// transaction. The account row is locked first so concurrent replacements
// serialize.
func (r *AccountRepository) ReplaceRecoveryCodes(ctx context.Context, accountID string, codes []mfa.RecoveryCode) error {
	return withTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		var id string
		err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return authcore.ErrAccountNotFound
			}
			return fmt.Errorf("db error: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
		DELETE FROM account_recovery_codes
		WHERE account_id = $1
	`, accountID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		for _, rc := range codes {
			if _, err := tx.ExecContext(ctx, `
		INSERT INTO account_recovery_codes (account_id, code_hash)
		VALUES ($1, $2)
	`, accountID, rc.Hash[:]); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		return nil
	})
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

// ConsumeRecoveryCode deletes one recovery code in a single statement, so of
// two concurrent callers only one sees the row.
func (r *AccountRepository) ConsumeRecoveryCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	query := `
		DELETE FROM account_recovery_codes
		WHERE account_id = $1 AND code_hash = $2
	`
	res, err := r.db.ExecContext(ctx, query, accountID, hash[:])
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func splitAuthorities(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinAuthorities(labels []string) string {
	return strings.Join(labels, ",")
}
