package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
)

// EmailSender delivers a notification by email. The default implementation
// only logs; wiring a real SMTP or provider client happens at the edge.
type EmailSender interface {
	Send(ctx context.Context, notification *domain.Notification) error
}

// LogEmailSender logs instead of sending. Used in development and tests.
type LogEmailSender struct {
	From   string
	Logger *zap.Logger
}

// Send logs the would-be email.
func (s *LogEmailSender) Send(_ context.Context, notification *domain.Notification) error {
	s.Logger.Info("email notification",
		zap.String("from", s.From),
		zap.String("user_id", notification.UserID),
		zap.String("type", string(notification.Type)),
		zap.String("title", notification.Title))
	return nil
}

// EmailWorker drains unsent notification emails in the background. Delivery
// is best-effort: a failed send is logged and retried on the next tick.
type EmailWorker struct {
	notifications repository.NotificationRepository
	sender        EmailSender
	interval      time.Duration
	batchSize     int
	logger        *zap.Logger
}

// NewEmailWorker creates the worker.
func NewEmailWorker(notifications repository.NotificationRepository, sender EmailSender, interval time.Duration, logger *zap.Logger) *EmailWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailWorker{
		notifications: notifications,
		sender:        sender,
		interval:      interval,
		batchSize:     100,
		logger:        logger,
	}
}

// Run loops until ctx is cancelled.
func (w *EmailWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *EmailWorker) drain(ctx context.Context) {
	pending, err := w.notifications.ListPendingEmail(ctx, w.batchSize)
	if err != nil {
		w.logger.Warn("listing pending emails failed", zap.Error(err))
		return
	}
	for i := range pending {
		notification := &pending[i]
		if err := w.sender.Send(ctx, notification); err != nil {
			w.logger.Warn("email send failed",
				zap.String("notification_id", notification.ID), zap.Error(err))
			continue
		}
		if err := w.notifications.MarkEmailSent(ctx, notification.ID, time.Now()); err != nil {
			w.logger.Warn("marking email sent failed",
				zap.String("notification_id", notification.ID), zap.Error(err))
		}
	}
}
