package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/diagnosis/reservaja/pkg/database"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	// MarkUsed flips an ACTIVE token to USED. It reports false when the token
	// was already used or revoked, which means another caller won the race.
	MarkUsed(ctx context.Context, id string) (bool, error)
	Revoke(ctx context.Context, token string) error
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type refreshTokenRepository struct {
	db database.DBTX
}

func NewRefreshTokenRepository(db database.DBTX) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

const refreshCols = `id, token, user_id, family_id, company_id, role, expires_at, is_used, is_revoked, created_at`

func (r *refreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	const q = `
		INSERT INTO refresh_tokens (token, user_id, family_id, company_id, role, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return r.db.QueryRow(ctx, q, t.Token, t.UserID, t.FamilyID, t.CompanyID, t.Role, t.ExpiresAt).
		Scan(&t.ID, &t.CreatedAt)
}

func (r *refreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	const q = `SELECT ` + refreshCols + ` FROM refresh_tokens WHERE token = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var t domain.RefreshToken
	err := r.db.QueryRow(ctx, q, token).Scan(
		&t.ID, &t.Token, &t.UserID, &t.FamilyID, &t.CompanyID, &t.Role,
		&t.ExpiresAt, &t.IsUsed, &t.IsRevoked, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *refreshTokenRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE refresh_tokens SET is_used = true WHERE id = $1 AND is_used = false AND is_revoked = false`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, token string) error {
	const q = `UPDATE refresh_tokens SET is_revoked = true WHERE token = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, q, token)
	return err
}

func (r *refreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	const q = `UPDATE refresh_tokens SET is_revoked = true WHERE family_id = $1 AND is_revoked = false`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.db.Exec(ctx, q, familyID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (r *refreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	const q = `UPDATE refresh_tokens SET is_revoked = true WHERE user_id = $1 AND is_revoked = false`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.db.Exec(ctx, q, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.db.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
