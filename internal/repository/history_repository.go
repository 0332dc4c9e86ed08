package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
)

// HistoryRepository is the append-only ledger of ticket transitions. The
// rejection and reopen guards are answered by the named query methods below
// rather than by denormalized flags.
type HistoryRepository interface {
	Append(ctx context.Context, entry *domain.HistoryEntry) error
	ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.HistoryEntry, error)
	HasRejected(ctx context.Context, userID, ticketID string) (bool, error)
	HasReopened(ctx context.Context, userID, ticketID string) (bool, error)
	// RejectedTicketIDs returns every ticket the user holds a REJECTED entry for.
	RejectedTicketIDs(ctx context.Context, userID string) ([]string, error)
	// RejectedUserIDs returns which of the given users hold a REJECTED entry
	// for the ticket.
	RejectedUserIDs(ctx context.Context, ticketID string, userIDs []string) ([]string, error)
	// LatestByAction returns the most recent entry of the given action for
	// the ticket, or nil when none exists.
	LatestByAction(ctx context.Context, ticketID string, action domain.HistoryAction) (*domain.HistoryEntry, error)
}

type historyRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository builds repository.
func NewHistoryRepository(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepository{pool: pool}
}

func (r *historyRepository) q(ctx context.Context) persistence.Querier {
	return persistence.QuerierFrom(ctx, r.pool)
}

func (r *historyRepository) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	const query = `
        INSERT INTO ticket_history (ticket_id, actor_id, action_type, field_name, old_value, new_value, description, target_user_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at`
	return r.q(ctx).QueryRow(ctx, query,
		entry.TicketID,
		entry.ActorID,
		entry.Action,
		entry.FieldName,
		entry.OldValue,
		entry.NewValue,
		entry.Description,
		entry.TargetUserID,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *historyRepository) ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT id, ticket_id, actor_id, action_type, field_name, old_value, new_value, description, target_user_id, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.q(ctx).Query(ctx, query, ticketID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := scanHistory(rows, &entry); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *historyRepository) HasRejected(ctx context.Context, userID, ticketID string) (bool, error) {
	return r.hasAction(ctx, userID, ticketID, domain.ActionRejected)
}

func (r *historyRepository) HasReopened(ctx context.Context, userID, ticketID string) (bool, error) {
	return r.hasAction(ctx, userID, ticketID, domain.ActionReopened)
}

func (r *historyRepository) hasAction(ctx context.Context, userID, ticketID string, action domain.HistoryAction) (bool, error) {
	var exists bool
	err := r.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (
            SELECT 1 FROM ticket_history
            WHERE ticket_id=$1 AND action_type=$2 AND actor_id=$3)`,
		ticketID, action, userID,
	).Scan(&exists)
	return exists, err
}

func (r *historyRepository) RejectedTicketIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.q(ctx).Query(ctx,
		`SELECT DISTINCT ticket_id FROM ticket_history
         WHERE actor_id=$1 AND action_type=$2`,
		userID, domain.ActionRejected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *historyRepository) RejectedUserIDs(ctx context.Context, ticketID string, userIDs []string) ([]string, error) {
	rows, err := r.q(ctx).Query(ctx,
		`SELECT DISTINCT actor_id FROM ticket_history
         WHERE ticket_id=$1 AND action_type=$2 AND actor_id = ANY($3)`,
		ticketID, domain.ActionRejected, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *historyRepository) LatestByAction(ctx context.Context, ticketID string, action domain.HistoryAction) (*domain.HistoryEntry, error) {
	const query = `
        SELECT id, ticket_id, actor_id, action_type, field_name, old_value, new_value, description, target_user_id, created_at
        FROM ticket_history
        WHERE ticket_id=$1 AND action_type=$2
        ORDER BY created_at DESC LIMIT 1`
	var entry domain.HistoryEntry
	err := scanHistory(r.q(ctx).QueryRow(ctx, query, ticketID, action), &entry)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanHistory(row scannable, entry *domain.HistoryEntry) error {
	return row.Scan(
		&entry.ID,
		&entry.TicketID,
		&entry.ActorID,
		&entry.Action,
		&entry.FieldName,
		&entry.OldValue,
		&entry.NewValue,
		&entry.Description,
		&entry.TargetUserID,
		&entry.CreatedAt,
	)
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
