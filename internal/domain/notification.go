package domain

import "time"

// NotificationType enumerates notification categories.
type NotificationType string

const (
	NotifyTaskCreated        NotificationType = "TASK_CREATED"
	NotifyTaskAssigned       NotificationType = "TASK_ASSIGNED"
	NotifyTaskAccepted       NotificationType = "TASK_ACCEPTED"
	NotifyTaskUpdated        NotificationType = "TASK_UPDATED"
	NotifyTaskClosed         NotificationType = "TASK_CLOSED"
	NotifyTaskResolved       NotificationType = "TASK_RESOLVED"
	NotifyTaskReopened       NotificationType = "TASK_REOPENED"
	NotifyDepartmentAssigned NotificationType = "DEPARTMENT_ASSIGNED"
	NotifySystem             NotificationType = "SYSTEM"
)

// Notification is a per-user message produced by lifecycle events.
// Delivery is best-effort; a failed notification never fails a transition.
type Notification struct {
	ID          string
	UserID      string
	TicketID    *string
	Type        NotificationType
	Title       string
	Message     string
	ExtraData   map[string]any
	IsRead      bool
	ReadAt      *time.Time
	EmailSent   bool
	EmailSentAt *time.Time
	CreatedAt   time.Time
}
