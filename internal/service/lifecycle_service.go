package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/cache"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// CreateTicketInput carries the fields a creator supplies.
type CreateTicketInput struct {
	Title        string
	Description  string
	Priority     domain.TicketPriority
	DepartmentID *string
	DueDate      *time.Time
	SimilarToID  *string
}

// LifecycleServiceDeps bundles lifecycle service dependencies.
type LifecycleServiceDeps struct {
	DB          *pgxpool.Pool
	Users       repository.UserRepository
	Tickets     repository.TicketRepository
	Queue       repository.QueueRepository
	Memberships repository.MembershipRepository
	Departments repository.DepartmentRepository
	History     repository.HistoryRepository
	Access      *AccessService
	QueueSvc    *QueueService
	Cache       *cache.QueueCache
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// LifecycleService orchestrates the ticket state machine. Every transition
// appends exactly one ledger entry for the change and leaves the queue
// invariant satisfied for everyone whose eligibility it touched.
type LifecycleService struct {
	deps LifecycleServiceDeps
}

// NewLifecycleService creates the service.
func NewLifecycleService(deps LifecycleServiceDeps) *LifecycleService {
	return &LifecycleService{deps: deps}
}

// Create registers a new ticket. When routed to a department, queue entries
// are seeded for every active non-admin member except the creator.
func (s *LifecycleService) Create(ctx context.Context, creator *domain.User, input CreateTicketInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, util.NewValidationError("title is required", map[string]any{"field": "title"})
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}

	if input.DepartmentID != nil {
		department, err := s.deps.Departments.GetByID(ctx, *input.DepartmentID)
		if err != nil {
			return nil, util.MapError(err)
		}
		if !department.IsActive {
			return nil, util.NewValidationError("department is not active", map[string]any{"department_id": department.ID})
		}
	}

	now := time.Now()
	ticket := &domain.Ticket{
		Title:          title,
		Description:    input.Description,
		Status:         domain.TicketStatusOpen,
		Priority:       priority,
		CreatorID:      creator.ID,
		DepartmentID:   input.DepartmentID,
		AssignmentType: domain.AssignmentUnassigned,
		SimilarToID:    input.SimilarToID,
		DueDate:        input.DueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var memberIDs []string
	err := persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		if err := s.deps.Tickets.Create(ctx, ticket); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, ticket.ID, &creator.ID, domain.ActionCreated, "status",
			"", string(domain.TicketStatusOpen),
			fmt.Sprintf("Ticket created by %s", creator.Name)); err != nil {
			return err
		}
		if ticket.DepartmentID != nil {
			ids, err := s.seedDepartmentQueue(ctx, ticket)
			if err != nil {
				return err
			}
			memberIDs = ids
		}
		return nil
	})
	if err != nil {
		return nil, util.MapError(err)
	}

	s.record("create", "ok")
	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketCreated,
		TicketID:  ticket.ID,
		ActorID:   creator.ID,
		Timestamp: time.Now(),
		Payload: events.TicketCreatedPayload{
			Title:        ticket.Title,
			Priority:     ticket.Priority,
			DepartmentID: ticket.DepartmentID,
			MemberIDs:    memberIDs,
		},
	})
	return ticket, nil
}

// AssignToUser routes the ticket to a specific handler. The actor must be an
// admin, the creator, or a department member allowed to assign.
func (s *LifecycleService) AssignToUser(ctx context.Context, actor *domain.User, ticketID, assigneeID string) (*domain.Ticket, error) {
	ticket, err := s.assignWithRetry(ctx, actor, ticketID, assigneeID)
	if err != nil {
		s.record("assign", "error")
		return nil, err
	}
	s.record("assign", "ok")

	if ticket.DepartmentID != nil {
		if err := s.deps.QueueSvc.SyncDepartment(ctx, *ticket.DepartmentID); err != nil {
			s.log().Warn("post-assign department sync failed", zap.Error(err))
		}
	} else if err := s.deps.QueueSvc.SyncForUser(ctx, assigneeID); err != nil {
		s.log().Warn("post-assign queue sync failed", zap.Error(err))
	}

	assignmentType := domain.AssignmentManual
	if actor.ID == assigneeID {
		assignmentType = domain.AssignmentSelfAssigned
	}
	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketAssigned,
		TicketID:  ticket.ID,
		ActorID:   actor.ID,
		Timestamp: time.Now(),
		Payload: events.TicketAssignedPayload{
			AssigneeID:     assigneeID,
			AssignedByID:   actor.ID,
			AssignmentType: assignmentType,
			Title:          ticket.Title,
		},
	})
	return ticket, nil
}

func (s *LifecycleService) assignWithRetry(ctx context.Context, actor *domain.User, ticketID, assigneeID string) (*domain.Ticket, error) {
	ticket, err := s.assignOnce(ctx, actor, ticketID, assigneeID)
	if util.IsConflict(err) {
		s.recordRetry()
		ticket, err = s.assignOnce(ctx, actor, ticketID, assigneeID)
	}
	return ticket, err
}

func (s *LifecycleService) assignOnce(ctx context.Context, actor *domain.User, ticketID, assigneeID string) (*domain.Ticket, error) {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, util.MapError(err)
	}
	if ticket.Status.IsTerminal() {
		return nil, util.NewInvalidTransition("cannot assign a closed or resolved ticket")
	}

	if err := s.checkAssignPermission(ctx, actor, ticket); err != nil {
		return nil, err
	}

	assignee, err := s.deps.Users.GetByID(ctx, assigneeID)
	if err != nil {
		return nil, util.MapError(err)
	}
	if !assignee.Active {
		return nil, util.NewValidationError("assignee is not active", map[string]any{"user_id": assigneeID})
	}
	if assignee.IsAdmin() {
		return nil, util.NewValidationError("admins cannot be assigned tickets", map[string]any{"user_id": assigneeID})
	}
	if ticket.DepartmentID != nil && assignee.ID != ticket.CreatorID {
		isMember, err := s.deps.Memberships.IsActiveMember(ctx, assignee.ID, *ticket.DepartmentID)
		if err != nil {
			return nil, util.MapError(err)
		}
		if !isMember {
			return nil, util.NewValidationError("assignee is not a member of the ticket's department",
				map[string]any{"user_id": assigneeID})
		}
	}

	assignmentType := domain.AssignmentManual
	if actor.ID == assigneeID {
		assignmentType = domain.AssignmentSelfAssigned
	}

	oldHolder := ticket.HolderName
	if oldHolder == "" {
		oldHolder = "Unassigned"
	}
	oldStatus := ticket.Status

	now := time.Now()
	updated := *ticket
	updated.AssigneeID = &assignee.ID
	updated.AssignedByID = &actor.ID
	updated.AssignmentType = assignmentType
	updated.HolderName = assignee.Name
	updated.AssignedAt = &now
	updated.Status = domain.TicketStatusInProgress

	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		ok, err := s.deps.Tickets.UpdateIfAssignee(ctx, &updated, ticket.AssigneeID)
		if err != nil {
			return err
		}
		if !ok {
			return util.NewConflict("ticket state changed, please retry", map[string]any{"ticket_id": ticket.ID})
		}
		if err := s.appendAssigned(ctx, ticket.ID, actor.ID, assignee.ID,
			oldHolder, assignee.Name,
			fmt.Sprintf("Assigned to %s by %s", assignee.Name, actor.Name)); err != nil {
			return err
		}
		if oldStatus != updated.Status {
			if err := s.appendHistory(ctx, ticket.ID, &actor.ID, domain.ActionStatusChanged, "status",
				string(oldStatus), string(updated.Status),
				fmt.Sprintf("Status changed on assignment to %s", assignee.Name)); err != nil {
				return err
			}
		}
		if err := s.deps.Queue.Upsert(ctx, assignee.ID, ticket.ID); err != nil {
			return err
		}
		return s.deps.Queue.DeleteForTicketExcept(ctx, ticket.ID, assignee.ID)
	})
	if err != nil {
		return nil, util.MapError(err)
	}
	return &updated, nil
}

func (s *LifecycleService) checkAssignPermission(ctx context.Context, actor *domain.User, ticket *domain.Ticket) error {
	if ResolveCapabilities(actor).Admin || actor.ID == ticket.CreatorID {
		return nil
	}
	if ticket.DepartmentID != nil {
		membership, err := s.deps.Memberships.GetByUserAndDepartment(ctx, actor.ID, *ticket.DepartmentID)
		if err != nil {
			return util.MapError(err)
		}
		if membership != nil && membership.IsActive && (membership.CanAssign || membership.IsSenior()) {
			return nil
		}
		// plain members may still claim for themselves
		if membership != nil && membership.IsActive && ticket.AssigneeID == nil {
			return nil
		}
	}
	return util.NewPermissionDenied("you are not allowed to assign this ticket")
}

// Claim lets a queue holder take an unassigned ticket. Two racing claimers
// are serialized on the assignee column: the loser gets a conflict after one
// automatic retry re-reads the ticket and finds it taken.
func (s *LifecycleService) Claim(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.claimOnce(ctx, actor, ticketID)
	if util.IsConflict(err) {
		s.recordRetry()
		ticket, err = s.claimOnce(ctx, actor, ticketID)
	}
	if err != nil {
		s.record("claim", "error")
		return nil, err
	}
	s.record("claim", "ok")

	if ticket.DepartmentID != nil {
		if err := s.deps.QueueSvc.SyncDepartment(ctx, *ticket.DepartmentID); err != nil {
			s.log().Warn("post-claim department sync failed", zap.Error(err))
		}
	}
	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketAssigned,
		TicketID:  ticket.ID,
		ActorID:   actor.ID,
		Timestamp: time.Now(),
		Payload: events.TicketAssignedPayload{
			AssigneeID:     actor.ID,
			AssignedByID:   actor.ID,
			AssignmentType: domain.AssignmentSelfAssigned,
			Title:          ticket.Title,
		},
	})
	return ticket, nil
}

func (s *LifecycleService) claimOnce(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if ResolveCapabilities(actor).Admin {
		return nil, util.NewPermissionDenied("admins do not handle tickets")
	}
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, util.MapError(err)
	}
	if ticket.Status.IsTerminal() {
		return nil, util.NewInvalidTransition("cannot claim a closed or resolved ticket")
	}
	if ticket.AssigneeID != nil {
		if *ticket.AssigneeID != actor.ID {
			return nil, util.NewConflict("ticket already claimed", map[string]any{"ticket_id": ticket.ID})
		}
		if ticket.Status == domain.TicketStatusInProgress {
			return ticket, nil
		}
		// accepting an assignment made on the actor's behalf (auto or
		// manual) writes a fresh self-assignment entry
	}
	if ticket.CreatorID == actor.ID {
		return nil, util.NewPermissionDenied("you cannot claim your own ticket")
	}
	eligible, err := s.deps.Access.CanAccept(ctx, actor, ticket)
	if err != nil {
		return nil, util.MapError(err)
	}
	if !eligible {
		return nil, util.NewPermissionDenied("you are not eligible to claim this ticket")
	}

	oldStatus := ticket.Status
	oldHolder := ticket.HolderName
	if oldHolder == "" {
		oldHolder = "Unassigned"
	}
	now := time.Now()
	updated := *ticket
	updated.AssigneeID = &actor.ID
	updated.AssignedByID = &actor.ID
	updated.AssignmentType = domain.AssignmentSelfAssigned
	updated.HolderName = actor.Name
	updated.AssignedAt = &now
	updated.Status = domain.TicketStatusInProgress

	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		ok, err := s.deps.Tickets.UpdateIfAssignee(ctx, &updated, ticket.AssigneeID)
		if err != nil {
			return err
		}
		if !ok {
			return util.NewConflict("ticket already claimed", map[string]any{"ticket_id": ticket.ID})
		}
		if err := s.appendAssigned(ctx, ticket.ID, actor.ID, actor.ID,
			oldHolder, actor.Name,
			fmt.Sprintf("Claimed by %s", actor.Name)); err != nil {
			return err
		}
		if oldStatus != updated.Status {
			if err := s.appendHistory(ctx, ticket.ID, &actor.ID, domain.ActionStatusChanged, "status",
				string(oldStatus), string(updated.Status),
				fmt.Sprintf("In progress with %s", actor.Name)); err != nil {
				return err
			}
		}
		if err := s.deps.Queue.Upsert(ctx, actor.ID, ticket.ID); err != nil {
			return err
		}
		return s.deps.Queue.DeleteForTicketExcept(ctx, ticket.ID, actor.ID)
	})
	if err != nil {
		return nil, util.MapError(err)
	}
	return &updated, nil
}

// Close moves a non-terminal ticket to Closed. Admins cannot close, prior
// rejectors cannot close, and the actor must be the assignee or a queue
// holder. Department queue entries for the ticket are cleared.
func (s *LifecycleService) Close(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.closeOnce(ctx, actor, ticketID)
	if util.IsConflict(err) {
		s.recordRetry()
		ticket, err = s.closeOnce(ctx, actor, ticketID)
	}
	if err != nil {
		s.record("close", "error")
		return nil, err
	}
	s.record("close", "ok")

	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketClosed,
		TicketID:  ticket.ID,
		ActorID:   actor.ID,
		Timestamp: time.Now(),
		Payload: events.TicketClosedPayload{
			ClosedByID: actor.ID,
			Title:      ticket.Title,
			CreatorID:  ticket.CreatorID,
		},
	})
	return ticket, nil
}

func (s *LifecycleService) closeOnce(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, util.MapError(err)
	}
	if ticket.Status.IsTerminal() {
		return nil, util.NewInvalidTransition("ticket is already closed or resolved")
	}
	if ResolveCapabilities(actor).Admin {
		return nil, util.NewInvalidTransition("admins cannot close tickets; delete instead")
	}
	rejected, err := s.deps.History.HasRejected(ctx, actor.ID, ticket.ID)
	if err != nil {
		return nil, util.MapError(err)
	}
	if rejected {
		return nil, util.NewInvalidTransition("you have already rejected this ticket and cannot close it")
	}
	isAssignee := ticket.AssigneeID != nil && *ticket.AssigneeID == actor.ID
	if !isAssignee {
		holds, err := s.deps.Queue.Exists(ctx, actor.ID, ticket.ID)
		if err != nil {
			return nil, util.MapError(err)
		}
		if !holds {
			return nil, util.NewPermissionDenied("only the assignee or a queue holder can close this ticket")
		}
	}

	oldStatus := ticket.Status
	now := time.Now()
	updated := *ticket
	updated.Status = domain.TicketStatusClosed
	updated.AssigneeID = &actor.ID
	updated.HolderName = actor.Name
	updated.ClosedByID = &actor.ID
	updated.ClosedAt = &now

	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		ok, err := s.deps.Tickets.UpdateIfAssignee(ctx, &updated, ticket.AssigneeID)
		if err != nil {
			return err
		}
		if !ok {
			return util.NewConflict("ticket state changed, please retry", map[string]any{"ticket_id": ticket.ID})
		}
		if err := s.appendHistory(ctx, ticket.ID, &actor.ID, domain.ActionClosed, "status",
			string(oldStatus), string(domain.TicketStatusClosed),
			fmt.Sprintf("Closed by %s", actor.Name)); err != nil {
			return err
		}
		if ticket.DepartmentID != nil {
			members, err := s.deps.Memberships.ListActiveByDepartment(ctx, *ticket.DepartmentID)
			if err != nil {
				return err
			}
			memberIDs := make([]string, 0, len(members))
			for _, m := range members {
				memberIDs = append(memberIDs, m.UserID)
			}
			return s.deps.Queue.DeleteForTicketUsers(ctx, ticket.ID, memberIDs)
		}
		return s.deps.Queue.DeleteForTicket(ctx, ticket.ID)
	})
	if err != nil {
		return nil, util.MapError(err)
	}
	return &updated, nil
}

// Resolve moves a non-terminal or closed ticket to Resolved. The creator may
// resolve their closed ticket; otherwise the assignee or an admin. The write
// is guarded on the status and assignee the decision was made from, so a
// claim landing in between surfaces as a conflict instead of being
// overwritten.
func (s *LifecycleService) Resolve(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	updated, err := s.resolveOnce(ctx, actor, ticketID)
	if util.IsConflict(err) {
		s.recordRetry()
		updated, err = s.resolveOnce(ctx, actor, ticketID)
	}
	if err != nil {
		s.record("resolve", "error")
		return nil, err
	}
	s.record("resolve", "ok")

	// queue cleanup follows the general eligibility rule: Resolved is
	// terminal, so holders drain on their next sync
	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketResolved,
		TicketID:  updated.ID,
		ActorID:   actor.ID,
		Timestamp: time.Now(),
		Payload: events.TicketResolvedPayload{
			ResolvedByID: actor.ID,
			Title:        updated.Title,
			CreatorID:    updated.CreatorID,
		},
	})
	return updated, nil
}

func (s *LifecycleService) resolveOnce(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, util.MapError(err)
	}
	if ticket.Status == domain.TicketStatusResolved {
		return nil, util.NewInvalidTransition("ticket is already resolved")
	}

	admin := ResolveCapabilities(actor).Admin
	isCreator := ticket.CreatorID == actor.ID
	isAssignee := ticket.AssigneeID != nil && *ticket.AssigneeID == actor.ID
	switch {
	case admin, isAssignee:
	case ticket.Status == domain.TicketStatusClosed && isCreator:
	default:
		return nil, util.NewPermissionDenied("you are not allowed to resolve this ticket")
	}

	oldStatus := ticket.Status
	now := time.Now()
	updated := *ticket
	updated.Status = domain.TicketStatusResolved
	updated.ResolvedAt = &now

	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		ok, err := s.deps.Tickets.UpdateIfUnchanged(ctx, &updated, oldStatus, ticket.AssigneeID)
		if err != nil {
			return err
		}
		if !ok {
			return util.NewConflict("ticket state changed, please retry", map[string]any{"ticket_id": ticket.ID})
		}
		return s.appendHistory(ctx, ticket.ID, &actor.ID, domain.ActionStatusChanged, "status",
			string(oldStatus), string(domain.TicketStatusResolved),
			fmt.Sprintf("Resolved by %s", actor.Name))
	})
	if err != nil {
		return nil, util.MapError(err)
	}
	return &updated, nil
}

// Reopen moves a Closed or Resolved ticket back to Reopen and hands it to
// whoever closed it. Non-admins can reopen a given ticket at most once. The
// write is guarded on the observed status and assignee so a concurrent
// transition is re-read instead of overwritten.
func (s *LifecycleService) Reopen(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	updated, closer, err := s.reopenOnce(ctx, actor, ticketID)
	if util.IsConflict(err) {
		s.recordRetry()
		updated, closer, err = s.reopenOnce(ctx, actor, ticketID)
	}
	if err != nil {
		s.record("reopen", "error")
		return nil, err
	}
	s.record("reopen", "ok")

	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketReopened,
		TicketID:  updated.ID,
		ActorID:   actor.ID,
		Timestamp: time.Now(),
		Payload: events.TicketReopenedPayload{
			ReopenedByID: actor.ID,
			AssigneeID:   closer.ID,
			Title:        updated.Title,
		},
	})
	return updated, nil
}

func (s *LifecycleService) reopenOnce(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, *domain.User, error) {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, util.MapError(err)
	}
	if ticket.Status != domain.TicketStatusClosed && ticket.Status != domain.TicketStatusResolved {
		return nil, nil, util.NewInvalidTransition("only closed or resolved tickets can be reopened")
	}

	admin := ResolveCapabilities(actor).Admin
	if !admin && ticket.CreatorID != actor.ID {
		return nil, nil, util.NewPermissionDenied("only the ticket creator or an admin can reopen")
	}
	if !admin {
		reopened, err := s.deps.History.HasReopened(ctx, actor.ID, ticket.ID)
		if err != nil {
			return nil, nil, util.MapError(err)
		}
		if reopened {
			return nil, nil, util.NewInvalidTransition("you can reopen a ticket only once")
		}
	}
	if ticket.ClosedByID == nil {
		return nil, nil, util.NewInvalidTransition("ticket has no recorded closer to hand back to")
	}
	closer, err := s.deps.Users.GetByID(ctx, *ticket.ClosedByID)
	if err != nil {
		return nil, nil, util.MapError(err)
	}

	oldStatus := ticket.Status
	now := time.Now()
	updated := *ticket
	updated.Status = domain.TicketStatusReopen
	updated.AssigneeID = &closer.ID
	updated.HolderName = closer.Name
	updated.AssignedAt = &now
	updated.ClosedAt = nil
	updated.ResolvedAt = nil

	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		ok, err := s.deps.Tickets.UpdateIfUnchanged(ctx, &updated, oldStatus, ticket.AssigneeID)
		if err != nil {
			return err
		}
		if !ok {
			return util.NewConflict("ticket state changed, please retry", map[string]any{"ticket_id": ticket.ID})
		}
		if err := s.appendHistory(ctx, ticket.ID, &actor.ID, domain.ActionReopened, "status",
			string(oldStatus), string(domain.TicketStatusReopen),
			fmt.Sprintf("Reopened by %s, returned to %s", actor.Name, closer.Name)); err != nil {
			return err
		}
		return s.deps.Queue.Upsert(ctx, closer.ID, ticket.ID)
	})
	if err != nil {
		return nil, nil, util.MapError(err)
	}
	return &updated, closer, nil
}

// Delete removes the ticket entirely. Creator or admin only. The final
// Deleted ledger entry is written first so the rest of the ledger and the
// queue entries cascade away with the row.
func (s *LifecycleService) Delete(ctx context.Context, actor *domain.User, ticketID string) error {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return util.MapError(err)
	}
	if !ResolveCapabilities(actor).Admin && ticket.CreatorID != actor.ID {
		return util.NewPermissionDenied("only the ticket creator or an admin can delete")
	}

	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		if err := s.appendHistory(ctx, ticket.ID, &actor.ID, domain.ActionDeleted, "ticket",
			ticket.Title, "", fmt.Sprintf("Deleted by %s", actor.Name)); err != nil {
			return err
		}
		return s.deps.Tickets.Delete(ctx, ticket.ID)
	})
	if err != nil {
		s.record("delete", "error")
		return util.MapError(err)
	}
	s.record("delete", "ok")

	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketDeleted,
		TicketID:  ticket.ID,
		ActorID:   actor.ID,
		Timestamp: time.Now(),
		Payload: events.TicketDeletedPayload{
			DeletedByID: actor.ID,
			Title:       ticket.Title,
		},
	})
	return nil
}

// UpdatePriority changes the ticket priority. Only the creator of an open
// ticket or an admin may do this. The write carries the full row, so it is
// guarded on the status and assignee it was computed from; a claim landing
// in between forces a re-read.
func (s *LifecycleService) UpdatePriority(ctx context.Context, actor *domain.User, ticketID string, priority domain.TicketPriority) (*domain.Ticket, error) {
	switch priority {
	case domain.TicketPriorityLow, domain.TicketPriorityMedium, domain.TicketPriorityHigh, domain.TicketPriorityUrgent:
	default:
		return nil, util.NewValidationError("unknown priority", map[string]any{"priority": string(priority)})
	}

	updated, oldPriority, err := s.updatePriorityOnce(ctx, actor, ticketID, priority)
	if util.IsConflict(err) {
		s.recordRetry()
		updated, oldPriority, err = s.updatePriorityOnce(ctx, actor, ticketID, priority)
	}
	if err != nil {
		return nil, err
	}
	if oldPriority == priority {
		return updated, nil
	}

	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketPriorityChanged,
		TicketID:  updated.ID,
		ActorID:   actor.ID,
		Timestamp: time.Now(),
		Payload: events.TicketPriorityChangedPayload{
			OldPriority: oldPriority,
			NewPriority: priority,
		},
	})
	return updated, nil
}

func (s *LifecycleService) updatePriorityOnce(ctx context.Context, actor *domain.User, ticketID string, priority domain.TicketPriority) (*domain.Ticket, domain.TicketPriority, error) {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, "", util.MapError(err)
	}
	admin := ResolveCapabilities(actor).Admin
	if !admin && (ticket.CreatorID != actor.ID || ticket.Status != domain.TicketStatusOpen) {
		return nil, "", util.NewPermissionDenied("only the creator of an open ticket or an admin can change priority")
	}
	if ticket.Priority == priority {
		return ticket, priority, nil
	}

	oldPriority := ticket.Priority
	updated := *ticket
	updated.Priority = priority

	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		ok, err := s.deps.Tickets.UpdateIfUnchanged(ctx, &updated, ticket.Status, ticket.AssigneeID)
		if err != nil {
			return err
		}
		if !ok {
			return util.NewConflict("ticket state changed, please retry", map[string]any{"ticket_id": ticket.ID})
		}
		return s.appendHistory(ctx, ticket.ID, &actor.ID, domain.ActionPriorityChanged, "priority",
			string(oldPriority), string(priority),
			fmt.Sprintf("Priority changed by %s", actor.Name))
	})
	if err != nil {
		return nil, "", util.MapError(err)
	}
	return &updated, oldPriority, nil
}

// Reroute moves the ticket to a different department (or to none), clearing
// the assignment and reseeding member queues. The write is guarded on the
// status and assignee it was computed from; a concurrent claim is re-read,
// then deliberately superseded by the reroute.
func (s *LifecycleService) Reroute(ctx context.Context, actor *domain.User, ticketID string, departmentID *string) (*domain.Ticket, error) {
	updated, oldDepartmentID, memberIDs, err := s.rerouteOnce(ctx, actor, ticketID, departmentID)
	if util.IsConflict(err) {
		s.recordRetry()
		updated, oldDepartmentID, memberIDs, err = s.rerouteOnce(ctx, actor, ticketID, departmentID)
	}
	if err != nil {
		return nil, err
	}

	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketRerouted,
		TicketID:  updated.ID,
		ActorID:   actor.ID,
		Timestamp: time.Now(),
		Payload: events.TicketReroutedPayload{
			OldDepartmentID: oldDepartmentID,
			NewDepartmentID: departmentID,
			Title:           updated.Title,
			MemberIDs:       memberIDs,
		},
	})
	return updated, nil
}

func (s *LifecycleService) rerouteOnce(ctx context.Context, actor *domain.User, ticketID string, departmentID *string) (*domain.Ticket, *string, []string, error) {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, util.MapError(err)
	}
	if !ResolveCapabilities(actor).Admin && ticket.CreatorID != actor.ID {
		return nil, nil, nil, util.NewPermissionDenied("only the ticket creator or an admin can reroute")
	}
	if ticket.Status.IsTerminal() {
		return nil, nil, nil, util.NewInvalidTransition("cannot reroute a closed or resolved ticket")
	}

	oldName := "None"
	if ticket.DepartmentID != nil {
		if dep, err := s.deps.Departments.GetByID(ctx, *ticket.DepartmentID); err == nil {
			oldName = dep.Name
		}
	}
	newName := "None"
	if departmentID != nil {
		department, err := s.deps.Departments.GetByID(ctx, *departmentID)
		if err != nil {
			return nil, nil, nil, util.MapError(err)
		}
		if !department.IsActive {
			return nil, nil, nil, util.NewValidationError("department is not active", map[string]any{"department_id": department.ID})
		}
		newName = department.Name
	}

	updated := *ticket
	updated.DepartmentID = departmentID
	updated.AssigneeID = nil
	updated.AssignedByID = &actor.ID
	updated.AssignmentType = domain.AssignmentUnassigned
	updated.HolderName = ""
	updated.AssignedAt = nil
	if updated.Status == domain.TicketStatusInProgress || updated.Status == domain.TicketStatusReopen {
		updated.Status = domain.TicketStatusOpen
	}

	var memberIDs []string
	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		ok, err := s.deps.Tickets.UpdateIfUnchanged(ctx, &updated, ticket.Status, ticket.AssigneeID)
		if err != nil {
			return err
		}
		if !ok {
			return util.NewConflict("ticket state changed, please retry", map[string]any{"ticket_id": ticket.ID})
		}
		if err := s.appendHistory(ctx, ticket.ID, &actor.ID, domain.ActionUpdated, "assigned_department",
			oldName, newName,
			fmt.Sprintf("Rerouted from %s to %s by %s", oldName, newName, actor.Name)); err != nil {
			return err
		}
		if err := s.deps.Queue.DeleteForTicket(ctx, ticket.ID); err != nil {
			return err
		}
		if departmentID != nil {
			ids, err := s.seedDepartmentQueue(ctx, &updated)
			if err != nil {
				return err
			}
			memberIDs = ids
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, util.MapError(err)
	}
	return &updated, ticket.DepartmentID, memberIDs, nil
}

// History lists the ticket's ledger, newest first. Requires view access.
func (s *LifecycleService) History(ctx context.Context, actor *domain.User, ticketID string, limit, offset int) ([]domain.HistoryEntry, error) {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, util.MapError(err)
	}
	viewable, err := s.deps.Access.CanView(ctx, actor, ticket)
	if err != nil {
		return nil, util.MapError(err)
	}
	if !viewable {
		return nil, util.NewPermissionDenied("you do not have access to this ticket")
	}
	entries, err := s.deps.History.ListByTicket(ctx, ticketID, limit, offset)
	if err != nil {
		return nil, util.MapError(err)
	}
	return entries, nil
}

// Get returns the ticket when the actor may view it.
func (s *LifecycleService) Get(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, util.MapError(err)
	}
	viewable, err := s.deps.Access.CanView(ctx, actor, ticket)
	if err != nil {
		return nil, util.MapError(err)
	}
	if !viewable {
		return nil, util.NewPermissionDenied("you do not have access to this ticket")
	}
	return ticket, nil
}

// TicketView pairs a ticket with the actions the viewer may take on it.
type TicketView struct {
	Ticket    *domain.Ticket
	CanWorkOn bool
	CanClose  bool
	CanAccept bool
}

// View returns the ticket together with the viewer's permitted actions, for
// the detail endpoint. Admins and creators never get the accept flag: they
// cannot claim.
func (s *LifecycleService) View(ctx context.Context, actor *domain.User, ticketID string) (*TicketView, error) {
	ticket, err := s.Get(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	view := &TicketView{Ticket: ticket}
	if view.CanWorkOn, err = s.deps.Access.CanWorkOn(ctx, actor, ticket); err != nil {
		return nil, util.MapError(err)
	}
	if view.CanClose, err = s.deps.Access.CanClose(ctx, actor, ticket); err != nil {
		return nil, util.MapError(err)
	}
	if !ResolveCapabilities(actor).Admin && ticket.CreatorID != actor.ID && !ticket.Status.IsTerminal() {
		if view.CanAccept, err = s.deps.Access.CanAccept(ctx, actor, ticket); err != nil {
			return nil, util.MapError(err)
		}
	}
	return view, nil
}

// List returns tickets matching the filter. Non-admins only see tickets
// they created, hold, or handle.
func (s *LifecycleService) List(ctx context.Context, actor *domain.User, filter repository.TicketFilter) ([]domain.Ticket, error) {
	if !ResolveCapabilities(actor).Admin {
		filter.InvolvedUserID = &actor.ID
	}
	tickets, err := s.deps.Tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, util.MapError(err)
	}
	return tickets, nil
}

// seedDepartmentQueue inserts queue entries for every active non-admin
// member except the creator, returning the seeded user ids.
func (s *LifecycleService) seedDepartmentQueue(ctx context.Context, ticket *domain.Ticket) ([]string, error) {
	members, err := s.deps.Memberships.ListActiveByDepartment(ctx, *ticket.DepartmentID)
	if err != nil {
		return nil, err
	}
	seeded := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID == ticket.CreatorID {
			continue
		}
		member, err := s.deps.Users.GetByID(ctx, m.UserID)
		if err != nil || !member.Active || member.IsAdmin() {
			continue
		}
		if err := s.deps.Queue.Upsert(ctx, m.UserID, ticket.ID); err != nil {
			return nil, err
		}
		seeded = append(seeded, m.UserID)
	}
	return seeded, nil
}

// appendAssigned writes an ASSIGNED entry carrying the assignee's id. The
// rejection guard matches on that id; the name values are display-only.
func (s *LifecycleService) appendAssigned(ctx context.Context, ticketID string, actorID, assigneeID string, oldHolder, newHolder, description string) error {
	return s.deps.History.Append(ctx, &domain.HistoryEntry{
		ID:           uuid.NewString(),
		TicketID:     ticketID,
		ActorID:      &actorID,
		Action:       domain.ActionAssigned,
		FieldName:    "assigned_to",
		OldValue:     oldHolder,
		NewValue:     newHolder,
		Description:  description,
		TargetUserID: &assigneeID,
		CreatedAt:    time.Now(),
	})
}

func (s *LifecycleService) appendHistory(ctx context.Context, ticketID string, actorID *string, action domain.HistoryAction, field, oldValue, newValue, description string) error {
	return s.deps.History.Append(ctx, &domain.HistoryEntry{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		ActorID:     actorID,
		Action:      action,
		FieldName:   field,
		OldValue:    oldValue,
		NewValue:    newValue,
		Description: description,
		CreatedAt:   time.Now(),
	})
}

func (s *LifecycleService) record(op, outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordOperation(op, outcome)
	}
}

func (s *LifecycleService) recordRetry() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordConflictRetry()
	}
}

func (s *LifecycleService) log() *zap.Logger {
	if s.deps.Logger == nil {
		return zap.NewNop()
	}
	return s.deps.Logger
}
