package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusClosed     TicketStatus = "CLOSED"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusReopen     TicketStatus = "REOPEN"
	TicketStatusExpired    TicketStatus = "EXPIRED"
)

// IsTerminal reports whether a ticket in this status no longer belongs in
// anyone's work queue.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusClosed || s == TicketStatusResolved || s == TicketStatusExpired
}

// TerminalStatuses lists every status excluded from queue eligibility.
func TerminalStatuses() []TicketStatus {
	return []TicketStatus{TicketStatusClosed, TicketStatusResolved, TicketStatusExpired}
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// AssignmentType records how the current assignee was chosen.
type AssignmentType string

const (
	AssignmentUnassigned   AssignmentType = "UNASSIGNED"
	AssignmentManual       AssignmentType = "MANUAL"
	AssignmentSelfAssigned AssignmentType = "SELF_ASSIGNED"
	AssignmentAutoAI       AssignmentType = "AUTO_AI"
	AssignmentAutoML       AssignmentType = "AUTO_ML"
)

// Ticket is the aggregate routed through departments and users.
type Ticket struct {
	ID             string
	Title          string
	Description    string
	Status         TicketStatus
	Priority       TicketPriority
	CreatorID      string
	DepartmentID   *string
	AssigneeID     *string
	AssignedByID   *string
	AssignmentType AssignmentType
	HolderName     string
	ClosedByID     *string
	// SimilarToID is a weak id-only reference to a possibly duplicate
	// ticket; no ownership implied.
	SimilarToID *string
	DueDate     *time.Time
	AssignedAt  *time.Time
	ResolvedAt  *time.Time
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsOverdue reports whether the ticket passed its due date while still open.
func (t *Ticket) IsOverdue(now time.Time) bool {
	if t.DueDate == nil || t.Status.IsTerminal() {
		return false
	}
	return now.After(*t.DueDate)
}
