package service

import (
	"context"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
)

// Capabilities is the per-request capability set derived from the actor's
// role. It is resolved once when the request is authenticated and passed
// through; operations never re-derive it from raw flags.
type Capabilities struct {
	Admin bool
}

// ResolveCapabilities maps a user's role onto its capability set.
func ResolveCapabilities(user *domain.User) Capabilities {
	return Capabilities{Admin: user.IsAdmin()}
}

// AccessService answers the pure eligibility predicates of the routing
// engine. All methods are side-effect free.
type AccessService struct {
	queue       repository.QueueRepository
	memberships repository.MembershipRepository
	history     repository.HistoryRepository
}

// NewAccessService creates the service.
func NewAccessService(queue repository.QueueRepository, memberships repository.MembershipRepository, history repository.HistoryRepository) *AccessService {
	return &AccessService{queue: queue, memberships: memberships, history: history}
}

// CanView reports whether the user may see the ticket: admins, the creator,
// the current assignee, and queue holders.
func (s *AccessService) CanView(ctx context.Context, user *domain.User, ticket *domain.Ticket) (bool, error) {
	if user == nil || ticket == nil {
		return false, nil
	}
	if ResolveCapabilities(user).Admin {
		return true, nil
	}
	if ticket.CreatorID == user.ID {
		return true, nil
	}
	if ticket.AssigneeID != nil && *ticket.AssigneeID == user.ID {
		return true, nil
	}
	return s.queue.Exists(ctx, user.ID, ticket.ID)
}

// CanWorkOn reports whether the user may act on the ticket. Admins cannot:
// they manage tickets but never handle them.
func (s *AccessService) CanWorkOn(ctx context.Context, user *domain.User, ticket *domain.Ticket) (bool, error) {
	if user == nil || ticket == nil {
		return false, nil
	}
	if ResolveCapabilities(user).Admin {
		return false, nil
	}
	if ticket.CreatorID == user.ID {
		return true, nil
	}
	if ticket.AssigneeID != nil && *ticket.AssigneeID == user.ID {
		return true, nil
	}
	return s.queue.Exists(ctx, user.ID, ticket.ID)
}

// CanAccept reports whether the user is eligible to claim the ticket:
// department-routed tickets require an active membership, department-less
// tickets are open to anyone.
func (s *AccessService) CanAccept(ctx context.Context, user *domain.User, ticket *domain.Ticket) (bool, error) {
	if user == nil || ticket == nil {
		return false, nil
	}
	if ResolveCapabilities(user).Admin {
		return true, nil
	}
	if ticket.DepartmentID != nil {
		return s.memberships.IsActiveMember(ctx, user.ID, *ticket.DepartmentID)
	}
	return true, nil
}

// CanClose reports whether the user may close the ticket: not an admin, not
// a prior rejector, and currently the assignee or a queue holder.
func (s *AccessService) CanClose(ctx context.Context, user *domain.User, ticket *domain.Ticket) (bool, error) {
	if user == nil || ticket == nil {
		return false, nil
	}
	if ResolveCapabilities(user).Admin {
		return false, nil
	}
	rejected, err := s.history.HasRejected(ctx, user.ID, ticket.ID)
	if err != nil {
		return false, err
	}
	if rejected {
		return false, nil
	}
	if ticket.AssigneeID != nil && *ticket.AssigneeID == user.ID {
		return true, nil
	}
	return s.queue.Exists(ctx, user.ID, ticket.ID)
}

// IsNonRejectable reports whether the user's current assignment cannot be
// rejected: the ticket is in Reopen, the assignment came from an admin, or
// the user was the cascade's last-resort pick and no reopen has happened
// since.
func (s *AccessService) IsNonRejectable(ctx context.Context, user *domain.User, ticket *domain.Ticket, assigner *domain.User) (bool, error) {
	if ticket.Status == domain.TicketStatusReopen {
		return true, nil
	}
	if assigner != nil && assigner.IsAdmin() {
		return true, nil
	}

	latestAssigned, err := s.history.LatestByAction(ctx, ticket.ID, domain.ActionAssigned)
	if err != nil {
		return false, err
	}
	if latestAssigned == nil || !latestAssigned.IsAutoAssignment() {
		return false, nil
	}
	// match on the recorded assignee id; display names are not unique
	if latestAssigned.TargetUserID == nil || *latestAssigned.TargetUserID != user.ID {
		return false, nil
	}

	latestReopened, err := s.history.LatestByAction(ctx, ticket.ID, domain.ActionReopened)
	if err != nil {
		return false, err
	}
	if latestReopened == nil || !latestReopened.CreatedAt.After(latestAssigned.CreatedAt) {
		return true, nil
	}
	return false, nil
}
