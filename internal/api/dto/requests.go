package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// RegisterRequest creates an account.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest authenticates.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateTicketRequest opens a ticket.
type CreateTicketRequest struct {
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Priority     string     `json:"priority"`
	DepartmentID *string    `json:"department_id"`
	DueDate      *time.Time `json:"due_date"`
	SimilarToID  *string    `json:"similar_to_id"`
}

// AssignTicketRequest routes a ticket to a handler.
type AssignTicketRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// RejectTicketRequest declines a ticket.
type RejectTicketRequest struct {
	Reason string `json:"reason"`
}

// UpdatePriorityRequest changes urgency.
type UpdatePriorityRequest struct {
	Priority string `json:"priority"`
}

// RerouteTicketRequest moves a ticket between departments. A null
// department_id routes the ticket out of any department.
type RerouteTicketRequest struct {
	DepartmentID *string `json:"department_id"`
}

// CreateDepartmentRequest registers a department.
type CreateDepartmentRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Email       string `json:"email"`
}

// AddMemberRequest adds a user to a department.
type AddMemberRequest struct {
	UserID string                `json:"user_id"`
	Role   domain.MembershipRole `json:"role"`
}
