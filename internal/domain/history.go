package domain

import (
	"strings"
	"time"
)

// HistoryAction captures what kind of transition a ledger entry records.
type HistoryAction string

const (
	ActionCreated         HistoryAction = "CREATED"
	ActionUpdated         HistoryAction = "UPDATED"
	ActionAssigned        HistoryAction = "ASSIGNED"
	ActionStatusChanged   HistoryAction = "STATUS_CHANGED"
	ActionPriorityChanged HistoryAction = "PRIORITY_CHANGED"
	ActionCommented       HistoryAction = "COMMENTED"
	ActionEscalated       HistoryAction = "ESCALATED"
	ActionClosed          HistoryAction = "CLOSED"
	ActionReopened        HistoryAction = "REOPENED"
	ActionRejected        HistoryAction = "REJECTED"
	ActionDeleted         HistoryAction = "DELETED"
)

// AutoAssignTag marks ASSIGNED entries written by the rejection cascade.
// The non-rejectable guard keys off this description fragment.
const AutoAssignTag = "Auto-assigned to"

// HistoryEntry is an immutable audit record. The ledger doubles as the
// engine's memory: "has this user rejected/reopened this ticket" is always
// answered by querying it, never by a denormalized flag.
type HistoryEntry struct {
	ID          string
	TicketID    string
	ActorID     *string
	Action      HistoryAction
	FieldName   string
	OldValue    string
	NewValue    string
	Description string
	// TargetUserID identifies the user an ASSIGNED entry handed the ticket
	// to. Old/NewValue carry display names, which are not unique.
	TargetUserID *string
	CreatedAt    time.Time
}

// IsAutoAssignment reports whether the entry was produced by the
// auto-assignment cascade.
func (e *HistoryEntry) IsAutoAssignment() bool {
	return e.Action == ActionAssigned && strings.Contains(e.Description, AutoAssignTag)
}
