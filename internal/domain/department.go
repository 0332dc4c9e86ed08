package domain

import "time"

// Department represents a high-level organizational unit that tickets are
// routed to.
type Department struct {
	ID          string
	Name        string
	Code        string
	Description string
	Email       string
	IsActive    bool
	CreatedByID *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
