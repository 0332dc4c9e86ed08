package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
)

// QueueRepository stores per-user work queue membership. Entries are keyed
// by (user, ticket); inserts are upserts so reconciliation is idempotent.
type QueueRepository interface {
	Upsert(ctx context.Context, userID, ticketID string) error
	Delete(ctx context.Context, userID, ticketID string) error
	Exists(ctx context.Context, userID, ticketID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]domain.QueueEntry, error)
	TicketIDsByUser(ctx context.Context, userID string) ([]string, error)
	HolderIDsByTicket(ctx context.Context, ticketID string) ([]string, error)
	// DeleteStale removes every entry of the user whose ticket is not in keep.
	DeleteStale(ctx context.Context, userID string, keep []string) error
	// DeleteRejected removes the user's entries for the given tickets unless
	// the user is the ticket's current assignee.
	DeleteRejected(ctx context.Context, userID string, ticketIDs []string) error
	DeleteForTicket(ctx context.Context, ticketID string) error
	DeleteForTicketUsers(ctx context.Context, ticketID string, userIDs []string) error
	DeleteForTicketExcept(ctx context.Context, ticketID, keepUserID string) error
}

type queueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository builds repository.
func NewQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &queueRepository{pool: pool}
}

func (r *queueRepository) q(ctx context.Context) persistence.Querier {
	return persistence.QuerierFrom(ctx, r.pool)
}

func (r *queueRepository) Upsert(ctx context.Context, userID, ticketID string) error {
	const query = `
        INSERT INTO queue_entries (user_id, ticket_id)
        VALUES ($1, $2)
        ON CONFLICT (user_id, ticket_id) DO NOTHING`
	_, err := r.q(ctx).Exec(ctx, query, userID, ticketID)
	return err
}

func (r *queueRepository) Delete(ctx context.Context, userID, ticketID string) error {
	_, err := r.q(ctx).Exec(ctx,
		`DELETE FROM queue_entries WHERE user_id=$1 AND ticket_id=$2`, userID, ticketID)
	return err
}

func (r *queueRepository) Exists(ctx context.Context, userID, ticketID string) (bool, error) {
	var exists bool
	err := r.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue_entries WHERE user_id=$1 AND ticket_id=$2)`,
		userID, ticketID,
	).Scan(&exists)
	return exists, err
}

func (r *queueRepository) ListByUser(ctx context.Context, userID string) ([]domain.QueueEntry, error) {
	const query = `
        SELECT id, user_id, ticket_id, accepted_at
        FROM queue_entries WHERE user_id=$1 ORDER BY accepted_at DESC`
	rows, err := r.q(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.QueueEntry
	for rows.Next() {
		var entry domain.QueueEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.TicketID, &entry.AcceptedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *queueRepository) TicketIDsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.q(ctx).Query(ctx,
		`SELECT ticket_id FROM queue_entries WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *queueRepository) HolderIDsByTicket(ctx context.Context, ticketID string) ([]string, error) {
	rows, err := r.q(ctx).Query(ctx,
		`SELECT user_id FROM queue_entries WHERE ticket_id=$1`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *queueRepository) DeleteStale(ctx context.Context, userID string, keep []string) error {
	_, err := r.q(ctx).Exec(ctx,
		`DELETE FROM queue_entries WHERE user_id=$1 AND NOT (ticket_id = ANY($2))`,
		userID, keep)
	return err
}

func (r *queueRepository) DeleteRejected(ctx context.Context, userID string, ticketIDs []string) error {
	const query = `
        DELETE FROM queue_entries qe
        USING tickets t
        WHERE qe.ticket_id = t.id
          AND qe.user_id = $1
          AND qe.ticket_id = ANY($2)
          AND (t.assignee_id IS NULL OR t.assignee_id <> $1)`
	_, err := r.q(ctx).Exec(ctx, query, userID, ticketIDs)
	return err
}

func (r *queueRepository) DeleteForTicket(ctx context.Context, ticketID string) error {
	_, err := r.q(ctx).Exec(ctx,
		`DELETE FROM queue_entries WHERE ticket_id=$1`, ticketID)
	return err
}

func (r *queueRepository) DeleteForTicketUsers(ctx context.Context, ticketID string, userIDs []string) error {
	_, err := r.q(ctx).Exec(ctx,
		`DELETE FROM queue_entries WHERE ticket_id=$1 AND user_id = ANY($2)`,
		ticketID, userIDs)
	return err
}

func (r *queueRepository) DeleteForTicketExcept(ctx context.Context, ticketID, keepUserID string) error {
	_, err := r.q(ctx).Exec(ctx,
		`DELETE FROM queue_entries WHERE ticket_id=$1 AND user_id <> $2`,
		ticketID, keepUserID)
	return err
}
