package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CreatorID    *string
	DepartmentID *string
	AssigneeID   *string
	// InvolvedUserID restricts to tickets the user created, is assigned, or
	// currently holds in their queue.
	InvolvedUserID *string
	Statuses       []domain.TicketStatus
	Priorities     []domain.TicketPriority
	SearchTerm     *string
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	Limit          int
	Offset         int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	// UpdateIfAssignee persists the ticket only when the stored assignee
	// still matches expectedAssignee (nil meaning unassigned). Returns
	// false without error when another actor raced the update.
	UpdateIfAssignee(ctx context.Context, ticket *domain.Ticket, expectedAssignee *string) (bool, error)
	// UpdateIfUnchanged persists the ticket only when both the stored status
	// and assignee still match the values the transition was computed from.
	// Returns false without error when another actor raced the update.
	UpdateIfUnchanged(ctx context.Context, ticket *domain.Ticket, expectedStatus domain.TicketStatus, expectedAssignee *string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Delete(ctx context.Context, id string) error
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// ListEligibleForQueue returns non-terminal tickets not created by the
	// user that are either assigned to the user, or unassigned and routed
	// to one of the given departments.
	ListEligibleForQueue(ctx context.Context, userID string, departmentIDs []string) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) q(ctx context.Context) persistence.Querier {
	return persistence.QuerierFrom(ctx, r.pool)
}

const ticketColumns = `id, title, description, status, priority, creator_id, department_id,
       assignee_id, assigned_by_id, assignment_type, holder_name, closed_by_id,
       similar_to_id, due_date, assigned_at, resolved_at, closed_at, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, creator_id, department_id,
            assignee_id, assigned_by_id, assignment_type, holder_name, similar_to_id, due_date, assigned_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        RETURNING id, created_at, updated_at`
	return r.q(ctx).QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.CreatorID,
		ticket.DepartmentID,
		ticket.AssigneeID,
		ticket.AssignedByID,
		ticket.AssignmentType,
		ticket.HolderName,
		ticket.SimilarToID,
		ticket.DueDate,
		ticket.AssignedAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

const ticketUpdateSet = `
        UPDATE tickets SET title=$1, description=$2, status=$3, priority=$4, department_id=$5,
            assignee_id=$6, assigned_by_id=$7, assignment_type=$8, holder_name=$9,
            closed_by_id=$10, similar_to_id=$11, due_date=$12, assigned_at=$13,
            resolved_at=$14, closed_at=$15, updated_at=NOW()`

func ticketUpdateArgs(ticket *domain.Ticket) []any {
	return []any{
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.DepartmentID,
		ticket.AssigneeID,
		ticket.AssignedByID,
		ticket.AssignmentType,
		ticket.HolderName,
		ticket.ClosedByID,
		ticket.SimilarToID,
		ticket.DueDate,
		ticket.AssignedAt,
		ticket.ResolvedAt,
		ticket.ClosedAt,
	}
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	query := ticketUpdateSet + ` WHERE id=$16`
	cmd, err := r.q(ctx).Exec(ctx, query, append(ticketUpdateArgs(ticket), ticket.ID)...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) UpdateIfAssignee(ctx context.Context, ticket *domain.Ticket, expectedAssignee *string) (bool, error) {
	query := ticketUpdateSet + ` WHERE id=$16 AND assignee_id IS NOT DISTINCT FROM $17`
	cmd, err := r.q(ctx).Exec(ctx, query, append(ticketUpdateArgs(ticket), ticket.ID, expectedAssignee)...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) UpdateIfUnchanged(ctx context.Context, ticket *domain.Ticket, expectedStatus domain.TicketStatus, expectedAssignee *string) (bool, error) {
	query := ticketUpdateSet + ` WHERE id=$16 AND status=$17 AND assignee_id IS NOT DISTINCT FROM $18`
	cmd, err := r.q(ctx).Exec(ctx, query, append(ticketUpdateArgs(ticket), ticket.ID, expectedStatus, expectedAssignee)...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := scanTicket(r.q(ctx).QueryRow(ctx, query, id), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.q(ctx).Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatorID != nil {
		args = append(args, *filter.CreatorID)
		clauses = append(clauses, fmt.Sprintf("creator_id=$%d", len(args)))
	}
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		clauses = append(clauses, fmt.Sprintf("department_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_id=$%d", len(args)))
	}
	if filter.InvolvedUserID != nil {
		args = append(args, *filter.InvolvedUserID)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(
			"(creator_id=%s OR assignee_id=%s OR id IN (SELECT ticket_id FROM queue_entries WHERE user_id=%s))",
			placeholder, placeholder, placeholder))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListEligibleForQueue(ctx context.Context, userID string, departmentIDs []string) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status NOT IN ('CLOSED','RESOLVED','EXPIRED')
          AND creator_id <> $1
          AND (assignee_id = $1 OR (assignee_id IS NULL AND department_id = ANY($2)))`
	rows, err := r.q(ctx).Query(ctx, query, userID, departmentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.CreatorID,
		&ticket.DepartmentID,
		&ticket.AssigneeID,
		&ticket.AssignedByID,
		&ticket.AssignmentType,
		&ticket.HolderName,
		&ticket.ClosedByID,
		&ticket.SimilarToID,
		&ticket.DueDate,
		&ticket.AssignedAt,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
