package events

import (
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketRejected        EventType = "ticket_rejected"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketClosed          EventType = "ticket_closed"
	EventTicketResolved        EventType = "ticket_resolved"
	EventTicketReopened        EventType = "ticket_reopened"
	EventTicketDeleted         EventType = "ticket_deleted"
	EventTicketRerouted        EventType = "ticket_rerouted"
)

// Event represents a domain event emitted by lifecycle transitions.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	ActorID   string      `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Title        string                `json:"title"`
	Priority     domain.TicketPriority `json:"priority"`
	DepartmentID *string               `json:"department_id,omitempty"`
	MemberIDs    []string              `json:"member_ids,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeID     string                `json:"assignee_id"`
	AssignedByID   string                `json:"assigned_by_id"`
	AssignmentType domain.AssignmentType `json:"assignment_type"`
	AutoAssigned   bool                  `json:"auto_assigned"`
	Title          string                `json:"title"`
	DepartmentName string                `json:"department_name,omitempty"`
}

// TicketRejectedPayload payload.
type TicketRejectedPayload struct {
	RejectedByID   string  `json:"rejected_by_id"`
	Reason         string  `json:"reason"`
	WasAssignee    bool    `json:"was_assignee"`
	AutoAssigneeID *string `json:"auto_assignee_id,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	ClosedByID string `json:"closed_by_id"`
	Title      string `json:"title"`
	CreatorID  string `json:"creator_id"`
}

// TicketResolvedPayload payload.
type TicketResolvedPayload struct {
	ResolvedByID string `json:"resolved_by_id"`
	Title        string `json:"title"`
	CreatorID    string `json:"creator_id"`
}

// TicketReopenedPayload payload.
type TicketReopenedPayload struct {
	ReopenedByID string `json:"reopened_by_id"`
	AssigneeID   string `json:"assignee_id"`
	Title        string `json:"title"`
}

// TicketReroutedPayload payload.
type TicketReroutedPayload struct {
	OldDepartmentID *string  `json:"old_department_id,omitempty"`
	NewDepartmentID *string  `json:"new_department_id,omitempty"`
	Title           string   `json:"title"`
	MemberIDs       []string `json:"member_ids,omitempty"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	DeletedByID string `json:"deleted_by_id"`
	Title       string `json:"title"`
}
