package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/diagnosis/reservaja/pkg/database"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

// MembershipRepository reads employee rows. Memberships are only created by
// accepting an invitation, see InvitationRepository.Accept.
type MembershipRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Membership, error)
	Find(ctx context.Context, userID, companyID string) (*domain.Membership, error)
}

type membershipRepository struct {
	db database.DBTX
}

func NewMembershipRepository(db database.DBTX) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) ListByUser(ctx context.Context, userID string) ([]domain.Membership, error) {
	const q = `
		SELECT e.user_id, e.company_id, c.name, e.role
		FROM employees e
		JOIN companies c ON c.id = e.company_id
		WHERE e.user_id = $1
		ORDER BY e.created_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.UserID, &m.CompanyID, &m.CompanyName, &m.Role); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (r *membershipRepository) Find(ctx context.Context, userID, companyID string) (*domain.Membership, error) {
	const q = `
		SELECT e.user_id, e.company_id, c.name, e.role
		FROM employees e
		JOIN companies c ON c.id = e.company_id
		WHERE e.user_id = $1 AND e.company_id = $2`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var m domain.Membership
	err := r.db.QueryRow(ctx, q, userID, companyID).Scan(&m.UserID, &m.CompanyID, &m.CompanyName, &m.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
