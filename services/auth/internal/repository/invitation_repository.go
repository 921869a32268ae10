package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/diagnosis/reservaja/pkg/database"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

// ErrInvitationNotPending is returned by Accept when the invitation was
// accepted by someone else between lookup and acceptance.
var ErrInvitationNotPending = errors.New("invitation is no longer pending")

type InvitationRepository interface {
	Create(ctx context.Context, inv *domain.EmployeeInvitation) error
	// FindPending returns an unexpired PENDING invitation for the email and
	// company, or nil.
	FindPending(ctx context.Context, email, companyID string, now time.Time) (*domain.EmployeeInvitation, error)
	ListPendingByEmail(ctx context.Context, email string, now time.Time) ([]domain.EmployeeInvitation, error)
	FindPendingByToken(ctx context.Context, email, token string, now time.Time) (*domain.EmployeeInvitation, error)
	// Accept inserts the membership and marks the invitation ACCEPTED in a
	// single transaction.
	Accept(ctx context.Context, inv *domain.EmployeeInvitation, userID string) error
}

type invitationRepository struct {
	db database.TxBeginner
}

func NewInvitationRepository(db database.TxBeginner) InvitationRepository {
	return &invitationRepository{db: db}
}

const invitationCols = `id, email, company_id, role, token, status, expires_at, created_at`

func scanInvitation(row pgx.Row) (*domain.EmployeeInvitation, error) {
	var inv domain.EmployeeInvitation
	err := row.Scan(&inv.ID, &inv.Email, &inv.CompanyID, &inv.Role, &inv.Token, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invitationRepository) Create(ctx context.Context, inv *domain.EmployeeInvitation) error {
	const q = `
		INSERT INTO employee_invitations (email, company_id, role, token, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, status, created_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return r.db.QueryRow(ctx, q, inv.Email, inv.CompanyID, inv.Role, inv.Token, inv.ExpiresAt).
		Scan(&inv.ID, &inv.Status, &inv.CreatedAt)
}

func (r *invitationRepository) FindPending(ctx context.Context, email, companyID string, now time.Time) (*domain.EmployeeInvitation, error) {
	const q = `
		SELECT ` + invitationCols + `
		FROM employee_invitations
		WHERE lower(email) = $1 AND company_id = $2 AND status = 'PENDING' AND expires_at >= $3
		LIMIT 1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	inv, err := scanInvitation(r.db.QueryRow(ctx, q, email, companyID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

func (r *invitationRepository) ListPendingByEmail(ctx context.Context, email string, now time.Time) ([]domain.EmployeeInvitation, error) {
	const q = `
		SELECT ` + invitationCols + `
		FROM employee_invitations
		WHERE lower(email) = $1 AND status = 'PENDING' AND expires_at >= $2
		ORDER BY created_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, q, email, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invitations []domain.EmployeeInvitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, *inv)
	}
	return invitations, rows.Err()
}

func (r *invitationRepository) FindPendingByToken(ctx context.Context, email, token string, now time.Time) (*domain.EmployeeInvitation, error) {
	const q = `
		SELECT ` + invitationCols + `
		FROM employee_invitations
		WHERE lower(email) = $1 AND token = $2 AND status = 'PENDING' AND expires_at >= $3`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	inv, err := scanInvitation(r.db.QueryRow(ctx, q, email, token, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

func (r *invitationRepository) Accept(ctx context.Context, inv *domain.EmployeeInvitation, userID string) error {
	const insertMember = `
		INSERT INTO employees (user_id, company_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, company_id) DO NOTHING`
	const markAccepted = `UPDATE employee_invitations SET status = 'ACCEPTED' WHERE id = $1 AND status = 'PENDING'`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertMember, userID, inv.CompanyID, inv.Role); err != nil {
			return err
		}
		result, err := tx.Exec(ctx, markAccepted, inv.ID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return ErrInvitationNotPending
		}
		return nil
	})
}
