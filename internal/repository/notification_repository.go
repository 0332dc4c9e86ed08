package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
)

// NotificationRepository stores per-user notifications.
type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]domain.Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) error
	MarkEmailSent(ctx context.Context, notificationID string, at time.Time) error
	// ListPendingEmail returns oldest-first notifications not yet emailed.
	ListPendingEmail(ctx context.Context, limit int) ([]domain.Notification, error)
	Delete(ctx context.Context, userID, notificationID string) error
	DeleteAllForUser(ctx context.Context, userID string) error
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository builds repository.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

func (r *notificationRepository) q(ctx context.Context) persistence.Querier {
	return persistence.QuerierFrom(ctx, r.pool)
}

func (r *notificationRepository) Create(ctx context.Context, notification *domain.Notification) error {
	const query = `
        INSERT INTO notifications (user_id, ticket_id, type, title, message, extra_data)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	extra := notification.ExtraData
	if extra == nil {
		extra = map[string]any{}
	}
	return r.q(ctx).QueryRow(ctx, query,
		notification.UserID,
		notification.TicketID,
		notification.Type,
		notification.Title,
		notification.Message,
		extra,
	).Scan(&notification.ID, &notification.CreatedAt)
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
        SELECT id, user_id, ticket_id, type, title, message, extra_data,
               is_read, read_at, email_sent, email_sent_at, created_at
        FROM notifications WHERE user_id=$1`
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.q(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.TicketID,
			&n.Type,
			&n.Title,
			&n.Message,
			&n.ExtraData,
			&n.IsRead,
			&n.ReadAt,
			&n.EmailSent,
			&n.EmailSentAt,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND NOT is_read`,
		userID,
	).Scan(&count)
	return count, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	cmd, err := r.q(ctx).Exec(ctx,
		`UPDATE notifications SET is_read=TRUE, read_at=NOW() WHERE id=$1 AND user_id=$2 AND NOT is_read`,
		notificationID, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	_, err := r.q(ctx).Exec(ctx,
		`UPDATE notifications SET is_read=TRUE, read_at=NOW() WHERE user_id=$1 AND NOT is_read`,
		userID)
	return err
}

func (r *notificationRepository) MarkEmailSent(ctx context.Context, notificationID string, at time.Time) error {
	_, err := r.q(ctx).Exec(ctx,
		`UPDATE notifications SET email_sent=TRUE, email_sent_at=$2 WHERE id=$1`,
		notificationID, at)
	return err
}

func (r *notificationRepository) ListPendingEmail(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT id, user_id, ticket_id, type, title, message, extra_data,
               is_read, read_at, email_sent, email_sent_at, created_at
        FROM notifications WHERE NOT email_sent
        ORDER BY created_at ASC LIMIT $1`
	rows, err := r.q(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.TicketID,
			&n.Type,
			&n.Title,
			&n.Message,
			&n.ExtraData,
			&n.IsRead,
			&n.ReadAt,
			&n.EmailSent,
			&n.EmailSentAt,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *notificationRepository) Delete(ctx context.Context, userID, notificationID string) error {
	cmd, err := r.q(ctx).Exec(ctx,
		`DELETE FROM notifications WHERE id=$1 AND user_id=$2`, notificationID, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *notificationRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := r.q(ctx).Exec(ctx, `DELETE FROM notifications WHERE user_id=$1`, userID)
	return err
}
