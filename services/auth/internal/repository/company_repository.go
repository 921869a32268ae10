package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/diagnosis/reservaja/pkg/database"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

type CompanyRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Company, error)
}

type companyRepository struct {
	db database.DBTX
}

func NewCompanyRepository(db database.DBTX) CompanyRepository {
	return &companyRepository{db: db}
}

func (r *companyRepository) FindByID(ctx context.Context, id string) (*domain.Company, error) {
	const q = `SELECT id, name FROM companies WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c domain.Company
	err := r.db.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
