package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// NotificationService turns lifecycle events into per-user notifications.
// Everything here is best-effort: a failure is logged and swallowed, never
// propagated back into the transition that raised the event.
type NotificationService struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(notifications repository.NotificationRepository, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{notifications: notifications, logger: logger}
}

// Register subscribes the service to every event type it reacts to.
func (s *NotificationService) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventTicketCreated, s.onTicketCreated)
	dispatcher.Subscribe(events.EventTicketAssigned, s.onTicketAssigned)
	dispatcher.Subscribe(events.EventTicketClosed, s.onTicketClosed)
	dispatcher.Subscribe(events.EventTicketResolved, s.onTicketResolved)
	dispatcher.Subscribe(events.EventTicketReopened, s.onTicketReopened)
	dispatcher.Subscribe(events.EventTicketRerouted, s.onTicketRerouted)
}

func (s *NotificationService) onTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return nil
	}
	for _, memberID := range payload.MemberIDs {
		s.store(ctx, memberID, event.TicketID, domain.NotifyTaskCreated,
			"New ticket in your department",
			fmt.Sprintf("Ticket %q was routed to your department.", payload.Title),
			map[string]any{"priority": string(payload.Priority)})
	}
	return nil
}

func (s *NotificationService) onTicketAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok {
		return nil
	}
	// self-assignment needs no notification
	if payload.AssigneeID == payload.AssignedByID {
		return nil
	}
	title := "Ticket assigned to you"
	message := fmt.Sprintf("Ticket %q was assigned to you.", payload.Title)
	if payload.AutoAssigned {
		title = "Ticket auto-assigned to you"
		message = fmt.Sprintf("Ticket %q was auto-assigned to you after department rejections.", payload.Title)
	}
	s.store(ctx, payload.AssigneeID, event.TicketID, domain.NotifyTaskAssigned, title, message,
		map[string]any{"auto_assigned": payload.AutoAssigned})
	return nil
}

func (s *NotificationService) onTicketClosed(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketClosedPayload)
	if !ok || payload.CreatorID == payload.ClosedByID {
		return nil
	}
	s.store(ctx, payload.CreatorID, event.TicketID, domain.NotifyTaskClosed,
		"Your ticket was closed",
		fmt.Sprintf("Ticket %q was closed.", payload.Title), nil)
	return nil
}

func (s *NotificationService) onTicketResolved(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketResolvedPayload)
	if !ok || payload.CreatorID == payload.ResolvedByID {
		return nil
	}
	s.store(ctx, payload.CreatorID, event.TicketID, domain.NotifyTaskResolved,
		"Your ticket was resolved",
		fmt.Sprintf("Ticket %q was resolved.", payload.Title), nil)
	return nil
}

func (s *NotificationService) onTicketReopened(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketReopenedPayload)
	if !ok || payload.AssigneeID == payload.ReopenedByID {
		return nil
	}
	s.store(ctx, payload.AssigneeID, event.TicketID, domain.NotifyTaskReopened,
		"Ticket reopened",
		fmt.Sprintf("Ticket %q was reopened and returned to you.", payload.Title), nil)
	return nil
}

func (s *NotificationService) onTicketRerouted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketReroutedPayload)
	if !ok {
		return nil
	}
	for _, memberID := range payload.MemberIDs {
		s.store(ctx, memberID, event.TicketID, domain.NotifyDepartmentAssigned,
			"Ticket rerouted to your department",
			fmt.Sprintf("Ticket %q is now routed to your department.", payload.Title), nil)
	}
	return nil
}

func (s *NotificationService) store(ctx context.Context, userID, ticketID string, kind domain.NotificationType, title, message string, extra map[string]any) {
	notification := &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		TicketID:  &ticketID,
		Type:      kind,
		Title:     title,
		Message:   message,
		ExtraData: extra,
		CreatedAt: time.Now(),
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		s.logger.Warn("notification store failed",
			zap.String("user_id", userID),
			zap.String("type", string(kind)),
			zap.Error(err))
	}
}

// ListForUser returns the user's notifications.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	items, err := s.notifications.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, util.MapError(err)
	}
	return items, nil
}

// UnreadCount returns the number of unread notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	count, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return 0, util.MapError(err)
	}
	return count, nil
}

// MarkRead marks one notification read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	return util.MapError(s.notifications.MarkRead(ctx, userID, notificationID))
}

// MarkAllRead marks every notification read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	return util.MapError(s.notifications.MarkAllRead(ctx, userID))
}

// Delete removes one notification.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	return util.MapError(s.notifications.Delete(ctx, userID, notificationID))
}
