package domain

import "time"

// QueueEntry marks a ticket as present in a user's personal work queue.
// Membership only; the queue carries no ordering guarantee beyond
// insertion time.
type QueueEntry struct {
	ID         string
	UserID     string
	TicketID   string
	AcceptedAt time.Time
}
