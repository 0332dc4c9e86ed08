package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
)

// MembershipRepository is the engine's read-mostly directory of who belongs
// to which department. The routing core only reads it; the admin endpoints
// mutate it.
type MembershipRepository interface {
	Create(ctx context.Context, membership *domain.DepartmentMembership) error
	Deactivate(ctx context.Context, userID, departmentID string) error
	// GetByUserAndDepartment returns (nil, nil) when no membership exists.
	GetByUserAndDepartment(ctx context.Context, userID, departmentID string) (*domain.DepartmentMembership, error)
	IsActiveMember(ctx context.Context, userID, departmentID string) (bool, error)
	ActiveDepartmentIDs(ctx context.Context, userID string) ([]string, error)
	// ListActiveByDepartment returns active memberships ordered by
	// descending seq: most recently joined first, the cascade's tie-break.
	ListActiveByDepartment(ctx context.Context, departmentID string) ([]domain.DepartmentMembership, error)
}

type membershipRepository struct {
	pool *pgxpool.Pool
}

// NewMembershipRepository builds repository.
func NewMembershipRepository(pool *pgxpool.Pool) MembershipRepository {
	return &membershipRepository{pool: pool}
}

func (r *membershipRepository) q(ctx context.Context) persistence.Querier {
	return persistence.QuerierFrom(ctx, r.pool)
}

const membershipColumns = `id, seq, user_id, department_id, role, is_active,
       can_assign, can_close, can_delete, added_by_id, joined_at`

func (r *membershipRepository) Create(ctx context.Context, membership *domain.DepartmentMembership) error {
	const query = `
        INSERT INTO department_memberships (user_id, department_id, role, is_active, can_assign, can_close, can_delete, added_by_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (user_id, department_id) DO UPDATE
            SET role=EXCLUDED.role, is_active=EXCLUDED.is_active,
                can_assign=EXCLUDED.can_assign, can_close=EXCLUDED.can_close,
                can_delete=EXCLUDED.can_delete
        RETURNING id, seq, joined_at`
	return r.q(ctx).QueryRow(ctx, query,
		membership.UserID,
		membership.DepartmentID,
		membership.Role,
		membership.IsActive,
		membership.CanAssign,
		membership.CanClose,
		membership.CanDelete,
		membership.AddedByID,
	).Scan(&membership.ID, &membership.Seq, &membership.JoinedAt)
}

func (r *membershipRepository) Deactivate(ctx context.Context, userID, departmentID string) error {
	cmd, err := r.q(ctx).Exec(ctx,
		`UPDATE department_memberships SET is_active=FALSE WHERE user_id=$1 AND department_id=$2`,
		userID, departmentID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *membershipRepository) GetByUserAndDepartment(ctx context.Context, userID, departmentID string) (*domain.DepartmentMembership, error) {
	query := `SELECT ` + membershipColumns + `
        FROM department_memberships WHERE user_id=$1 AND department_id=$2`
	var membership domain.DepartmentMembership
	if err := scanMembership(r.q(ctx).QueryRow(ctx, query, userID, departmentID), &membership); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &membership, nil
}

func (r *membershipRepository) IsActiveMember(ctx context.Context, userID, departmentID string) (bool, error) {
	var exists bool
	err := r.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (
            SELECT 1 FROM department_memberships
            WHERE user_id=$1 AND department_id=$2 AND is_active)`,
		userID, departmentID,
	).Scan(&exists)
	return exists, err
}

func (r *membershipRepository) ActiveDepartmentIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.q(ctx).Query(ctx,
		`SELECT department_id FROM department_memberships WHERE user_id=$1 AND is_active`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *membershipRepository) ListActiveByDepartment(ctx context.Context, departmentID string) ([]domain.DepartmentMembership, error) {
	query := `SELECT ` + membershipColumns + `
        FROM department_memberships
        WHERE department_id=$1 AND is_active
        ORDER BY seq DESC`
	rows, err := r.q(ctx).Query(ctx, query, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DepartmentMembership
	for rows.Next() {
		var membership domain.DepartmentMembership
		if err := scanMembership(rows, &membership); err != nil {
			return nil, err
		}
		result = append(result, membership)
	}
	return result, rows.Err()
}

func scanMembership(row scannable, m *domain.DepartmentMembership) error {
	return row.Scan(
		&m.ID,
		&m.Seq,
		&m.UserID,
		&m.DepartmentID,
		&m.Role,
		&m.IsActive,
		&m.CanAssign,
		&m.CanClose,
		&m.CanDelete,
		&m.AddedByID,
		&m.JoinedAt,
	)
}
