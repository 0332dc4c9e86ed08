package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/service"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthResponse wraps a login/registration result.
type AuthResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

// TicketResponse is the public view of a ticket.
type TicketResponse struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	CreatorID      string     `json:"creator_id"`
	DepartmentID   *string    `json:"department_id,omitempty"`
	AssigneeID     *string    `json:"assignee_id,omitempty"`
	AssignmentType string     `json:"assignment_type"`
	HolderName     string     `json:"holder_name,omitempty"`
	SimilarToID    *string    `json:"similar_to_id,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// QueueItemResponse is one annotated queue listing row.
type QueueItemResponse struct {
	Ticket        TicketResponse `json:"ticket"`
	AcceptedAt    time.Time      `json:"accepted_at"`
	IsAssignee    bool           `json:"is_assignee"`
	NonRejectable bool           `json:"non_rejectable"`
	Overdue       bool           `json:"overdue"`
}

// QueueResponse is the queue view with stats.
type QueueResponse struct {
	Items []QueueItemResponse `json:"items"`
	Stats service.QueueStats  `json:"stats"`
}

// HistoryEntryResponse is one ledger row.
type HistoryEntryResponse struct {
	ID           string    `json:"id"`
	ActorID      *string   `json:"actor_id,omitempty"`
	Action       string    `json:"action"`
	FieldName    string    `json:"field_name,omitempty"`
	OldValue     string    `json:"old_value,omitempty"`
	NewValue     string    `json:"new_value,omitempty"`
	Description  string    `json:"description"`
	TargetUserID *string   `json:"target_user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RejectResponse reports a rejection outcome.
type RejectResponse struct {
	RemovedFromQueue bool    `json:"removed_from_queue"`
	WasAssignee      bool    `json:"was_assignee"`
	AutoAssigneeID   *string `json:"auto_assignee_id,omitempty"`
}

// NewUserResponse maps a user.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt,
	}
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:             ticket.ID,
		Title:          ticket.Title,
		Description:    ticket.Description,
		Status:         string(ticket.Status),
		Priority:       string(ticket.Priority),
		CreatorID:      ticket.CreatorID,
		DepartmentID:   ticket.DepartmentID,
		AssigneeID:     ticket.AssigneeID,
		AssignmentType: string(ticket.AssignmentType),
		HolderName:     ticket.HolderName,
		SimilarToID:    ticket.SimilarToID,
		DueDate:        ticket.DueDate,
		AssignedAt:     ticket.AssignedAt,
		ResolvedAt:     ticket.ResolvedAt,
		ClosedAt:       ticket.ClosedAt,
		CreatedAt:      ticket.CreatedAt,
		UpdatedAt:      ticket.UpdatedAt,
	}
}

// TicketDetailResponse adds the viewer's permitted actions to a ticket.
type TicketDetailResponse struct {
	TicketResponse
	CanWorkOn bool `json:"can_work_on"`
	CanClose  bool `json:"can_close"`
	CanAccept bool `json:"can_accept"`
}

// NewTicketDetailResponse maps a ticket view.
func NewTicketDetailResponse(view *service.TicketView) TicketDetailResponse {
	return TicketDetailResponse{
		TicketResponse: NewTicketResponse(view.Ticket),
		CanWorkOn:      view.CanWorkOn,
		CanClose:       view.CanClose,
		CanAccept:      view.CanAccept,
	}
}

// NewHistoryEntryResponse maps a ledger entry.
func NewHistoryEntryResponse(entry *domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:           entry.ID,
		ActorID:      entry.ActorID,
		Action:       string(entry.Action),
		FieldName:    entry.FieldName,
		OldValue:     entry.OldValue,
		NewValue:     entry.NewValue,
		Description:  entry.Description,
		TargetUserID: entry.TargetUserID,
		CreatedAt:    entry.CreatedAt,
	}
}

// NewQueueResponse maps an annotated queue listing.
func NewQueueResponse(items []service.QueueItem, stats service.QueueStats) QueueResponse {
	out := QueueResponse{Items: make([]QueueItemResponse, 0, len(items)), Stats: stats}
	for i := range items {
		item := &items[i]
		out.Items = append(out.Items, QueueItemResponse{
			Ticket:        NewTicketResponse(&item.Ticket),
			AcceptedAt:    item.AcceptedAt,
			IsAssignee:    item.IsAssignee,
			NonRejectable: item.NonRejectable,
			Overdue:       item.Overdue,
		})
	}
	return out
}
