package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
)

// DepartmentRepository encapsulates department persistence.
type DepartmentRepository interface {
	Create(ctx context.Context, department *domain.Department) error
	GetByID(ctx context.Context, id string) (*domain.Department, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Department, error)
}

type departmentRepository struct {
	pool *pgxpool.Pool
}

// NewDepartmentRepository builds repository.
func NewDepartmentRepository(pool *pgxpool.Pool) DepartmentRepository {
	return &departmentRepository{pool: pool}
}

func (r *departmentRepository) q(ctx context.Context) persistence.Querier {
	return persistence.QuerierFrom(ctx, r.pool)
}

const departmentColumns = `id, name, code, description, email, is_active, created_by_id, created_at, updated_at`

func (r *departmentRepository) Create(ctx context.Context, department *domain.Department) error {
	const query = `
        INSERT INTO departments (name, code, description, email, is_active, created_by_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.q(ctx).QueryRow(ctx, query,
		department.Name,
		department.Code,
		department.Description,
		department.Email,
		department.IsActive,
		department.CreatedByID,
	).Scan(&department.ID, &department.CreatedAt, &department.UpdatedAt)
}

func (r *departmentRepository) GetByID(ctx context.Context, id string) (*domain.Department, error) {
	query := `SELECT ` + departmentColumns + ` FROM departments WHERE id=$1`
	var department domain.Department
	if err := r.q(ctx).QueryRow(ctx, query, id).Scan(
		&department.ID,
		&department.Name,
		&department.Code,
		&department.Description,
		&department.Email,
		&department.IsActive,
		&department.CreatedByID,
		&department.CreatedAt,
		&department.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &department, nil
}

func (r *departmentRepository) List(ctx context.Context, activeOnly bool) ([]domain.Department, error) {
	query := `SELECT ` + departmentColumns + ` FROM departments`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := r.q(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Department
	for rows.Next() {
		var department domain.Department
		if err := rows.Scan(
			&department.ID,
			&department.Name,
			&department.Code,
			&department.Description,
			&department.Email,
			&department.IsActive,
			&department.CreatedByID,
			&department.CreatedAt,
			&department.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, department)
	}
	return result, rows.Err()
}
