package repository

import (
	"context"
	"time"

	"github.com/diagnosis/reservaja/pkg/database"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

// PasscodeRepository stores hashed one-time sign-in codes.
type PasscodeRepository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ListActive(ctx context.Context, userID string, now time.Time) ([]domain.OneTimeToken, error)
	// Delete reports whether this call removed the row. A false result means
	// another request already consumed the code.
	Delete(ctx context.Context, id string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type passcodeRepository struct {
	db database.DBTX
}

func NewPasscodeRepository(db database.DBTX) PasscodeRepository {
	return &passcodeRepository{db: db}
}

func (r *passcodeRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	const q = `INSERT INTO one_time_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, q, userID, tokenHash, expiresAt)
	return err
}

func (r *passcodeRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]domain.OneTimeToken, error) {
	const q = `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM one_time_tokens
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, q, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []domain.OneTimeToken
	for rows.Next() {
		var t domain.OneTimeToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *passcodeRepository) Delete(ctx context.Context, id string) (bool, error) {
	const q = `DELETE FROM one_time_tokens WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *passcodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM one_time_tokens WHERE expires_at <= $1`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.db.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
