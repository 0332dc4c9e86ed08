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

// RejectOutcome reports what a rejection did.
type RejectOutcome struct {
	RemovedFromQueue bool    `json:"removed_from_queue"`
	WasAssignee      bool    `json:"was_assignee"`
	AutoAssigneeID   *string `json:"auto_assignee_id,omitempty"`
}

// RejectionServiceDeps bundles rejection service dependencies.
type RejectionServiceDeps struct {
	DB          *pgxpool.Pool
	Users       repository.UserRepository
	Tickets     repository.TicketRepository
	Queue       repository.QueueRepository
	Memberships repository.MembershipRepository
	History     repository.HistoryRepository
	Access      *AccessService
	Cache       *cache.QueueCache
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// RejectionService handles a user declining a ticket and the automatic
// reassignment cascade that follows a department rejection.
type RejectionService struct {
	deps RejectionServiceDeps
}

// NewRejectionService creates the service.
func NewRejectionService(deps RejectionServiceDeps) *RejectionService {
	return &RejectionService{deps: deps}
}

// Reject removes the ticket from the actor's queue, releases the assignment
// if the actor currently holds it, and runs the auto-assignment cascade.
// A lost race on the assignee is retried once before surfacing a conflict.
func (s *RejectionService) Reject(ctx context.Context, actor *domain.User, ticketID, reason string) (*RejectOutcome, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, util.NewValidationError("a rejection reason is required", map[string]any{"field": "reason"})
	}

	outcome, err := s.rejectOnce(ctx, actor, ticketID, reason)
	if util.IsConflict(err) {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordConflictRetry()
		}
		outcome, err = s.rejectOnce(ctx, actor, ticketID, reason)
	}
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordOperation("reject", "error")
		}
		return nil, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordOperation("reject", "ok")
	}

	s.publishRejected(ctx, actor, ticketID, reason, outcome)
	s.deps.Cache.Invalidate(ctx, actor.ID)
	return outcome, nil
}

func (s *RejectionService) rejectOnce(ctx context.Context, actor *domain.User, ticketID, reason string) (*RejectOutcome, error) {
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

	assigner, err := s.loadAssigner(ctx, ticket)
	if err != nil {
		return nil, err
	}
	nonRejectable, err := s.deps.Access.IsNonRejectable(ctx, actor, ticket, assigner)
	if err != nil {
		return nil, util.MapError(err)
	}
	if nonRejectable {
		return nil, util.NewInvalidTransition("this assignment cannot be rejected")
	}

	isAssignee := ticket.AssigneeID != nil && *ticket.AssigneeID == actor.ID

	holdsEntry, err := s.deps.Queue.Exists(ctx, actor.ID, ticket.ID)
	if err != nil {
		return nil, util.MapError(err)
	}
	if !holdsEntry && !isAssignee {
		return nil, util.NewPermissionDenied("only a queue holder or the current assignee can reject this ticket")
	}

	outcome := &RejectOutcome{RemovedFromQueue: holdsEntry, WasAssignee: isAssignee}

	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		if err := s.deps.Queue.Delete(ctx, actor.ID, ticket.ID); err != nil {
			return err
		}

		if isAssignee {
			oldStatus := ticket.Status
			released := *ticket
			released.AssigneeID = nil
			released.AssignedByID = nil
			released.AssignmentType = domain.AssignmentUnassigned
			released.HolderName = ""
			released.AssignedAt = nil
			if oldStatus == domain.TicketStatusInProgress || oldStatus == domain.TicketStatusReopen {
				released.Status = domain.TicketStatusOpen
			}

			actorID := actor.ID
			ok, err := s.deps.Tickets.UpdateIfAssignee(ctx, &released, &actorID)
			if err != nil {
				return err
			}
			if !ok {
				return util.NewConflict("ticket state changed, please retry", map[string]any{"ticket_id": ticket.ID})
			}
			*ticket = released

			if oldStatus != released.Status {
				if err := s.appendHistory(ctx, ticket.ID, actor.ID, domain.ActionStatusChanged, "status",
					string(oldStatus), string(released.Status),
					fmt.Sprintf("Ticket released by %s. Reason: %s", actor.Name, reason)); err != nil {
					return err
				}
			}
			if err := s.appendHistory(ctx, ticket.ID, actor.ID, domain.ActionRejected, "assigned_to",
				actor.Name, "Unassigned",
				fmt.Sprintf("Ticket rejected by %s. Reason: %s", actor.Name, reason)); err != nil {
				return err
			}
		} else {
			if err := s.appendHistory(ctx, ticket.ID, actor.ID, domain.ActionRejected, "queue",
				"In queue", "Removed",
				fmt.Sprintf("Ticket rejected from queue by %s. Reason: %s", actor.Name, reason)); err != nil {
				return err
			}
		}

		assignee, err := s.autoAssignOnRejection(ctx, ticket, actor)
		if err != nil {
			return err
		}
		if assignee != nil {
			outcome.AutoAssigneeID = &assignee.ID
		}
		return nil
	})
	if err != nil {
		return nil, util.MapError(err)
	}
	return outcome, nil
}

// autoAssignOnRejection picks the next handler after a department rejection.
// Greedy single pass: active non-admin members, minus the creator and
// everyone who has ever rejected the ticket, most recently joined first. An
// empty pool means everyone declined and the ticket stays in the shared pool.
func (s *RejectionService) autoAssignOnRejection(ctx context.Context, ticket *domain.Ticket, rejectedBy *domain.User) (*domain.User, error) {
	if ticket.DepartmentID == nil || ticket.Status.IsTerminal() {
		return nil, nil
	}

	members, err := s.deps.Memberships.ListActiveByDepartment(ctx, *ticket.DepartmentID)
	if err != nil {
		return nil, err
	}

	assignable := make([]*domain.User, 0, len(members))
	assignableIDs := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID == ticket.CreatorID {
			continue
		}
		member, err := s.deps.Users.GetByID(ctx, m.UserID)
		if err != nil {
			s.log().Warn("cascade member lookup failed", zap.String("user_id", m.UserID), zap.Error(err))
			continue
		}
		if !member.Active || member.IsAdmin() {
			continue
		}
		assignable = append(assignable, member)
		assignableIDs = append(assignableIDs, member.ID)
	}
	if len(assignable) == 0 {
		return nil, nil
	}

	rejectorIDs, err := s.deps.History.RejectedUserIDs(ctx, ticket.ID, assignableIDs)
	if err != nil {
		return nil, err
	}
	rejected := make(map[string]bool, len(rejectorIDs)+1)
	for _, id := range rejectorIDs {
		rejected[id] = true
	}
	rejected[rejectedBy.ID] = true

	// members are ordered most recently joined first; the first survivor wins
	var pick *domain.User
	for _, candidate := range assignable {
		if !rejected[candidate.ID] {
			pick = candidate
			break
		}
	}
	if pick == nil {
		s.log().Info("auto-assignment gave up, every candidate has rejected",
			zap.String("ticket_id", ticket.ID))
		return nil, nil
	}

	if ticket.AssigneeID != nil && *ticket.AssigneeID == pick.ID {
		return pick, nil
	}

	oldHolder := ticket.HolderName
	if oldHolder == "" {
		oldHolder = "Unassigned"
	}

	now := time.Now()
	assigned := *ticket
	assigned.AssigneeID = &pick.ID
	assigned.HolderName = pick.Name
	assigned.AssignmentType = domain.AssignmentAutoML
	assigned.AssignedByID = nil
	assigned.AssignedAt = &now

	ok, err := s.deps.Tickets.UpdateIfAssignee(ctx, &assigned, ticket.AssigneeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.NewConflict("ticket state changed, please retry", map[string]any{"ticket_id": ticket.ID})
	}
	*ticket = assigned

	if err := s.deps.Queue.Upsert(ctx, pick.ID, ticket.ID); err != nil {
		return nil, err
	}
	if err := s.deps.History.Append(ctx, &domain.HistoryEntry{
		ID:           uuid.NewString(),
		TicketID:     ticket.ID,
		ActorID:      &rejectedBy.ID,
		Action:       domain.ActionAssigned,
		FieldName:    "assigned_to",
		OldValue:     oldHolder,
		NewValue:     pick.Name,
		Description:  fmt.Sprintf("%s %s after department rejections.", domain.AutoAssignTag, pick.Name),
		TargetUserID: &pick.ID,
		CreatedAt:    time.Now(),
	}); err != nil {
		return nil, err
	}
	return pick, nil
}

func (s *RejectionService) publishRejected(ctx context.Context, actor *domain.User, ticketID, reason string, outcome *RejectOutcome) {
	_ = s.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketRejected,
		TicketID:  ticketID,
		ActorID:   actor.ID,
		Timestamp: time.Now(),
		Payload: events.TicketRejectedPayload{
			RejectedByID:   actor.ID,
			Reason:         reason,
			WasAssignee:    outcome.WasAssignee,
			AutoAssigneeID: outcome.AutoAssigneeID,
		},
	})
	if outcome.AutoAssigneeID != nil {
		ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
		if err != nil {
			return
		}
		_ = s.deps.Dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventTicketAssigned,
			TicketID:  ticketID,
			ActorID:   actor.ID,
			Timestamp: time.Now(),
			Payload: events.TicketAssignedPayload{
				AssigneeID:     *outcome.AutoAssigneeID,
				AssignedByID:   actor.ID,
				AssignmentType: domain.AssignmentAutoML,
				AutoAssigned:   true,
				Title:          ticket.Title,
			},
		})
	}
}

func (s *RejectionService) appendHistory(ctx context.Context, ticketID, actorID string, action domain.HistoryAction, field, oldValue, newValue, description string) error {
	return s.deps.History.Append(ctx, &domain.HistoryEntry{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		ActorID:     &actorID,
		Action:      action,
		FieldName:   field,
		OldValue:    oldValue,
		NewValue:    newValue,
		Description: description,
		CreatedAt:   time.Now(),
	})
}

func (s *RejectionService) loadAssigner(ctx context.Context, ticket *domain.Ticket) (*domain.User, error) {
	if ticket.AssignedByID == nil {
		return nil, nil
	}
	assigner, err := s.deps.Users.GetByID(ctx, *ticket.AssignedByID)
	if err != nil {
		s.log().Warn("assigner lookup failed", zap.String("user_id", *ticket.AssignedByID), zap.Error(err))
		return nil, nil
	}
	return assigner, nil
}

func (s *RejectionService) log() *zap.Logger {
	if s.deps.Logger == nil {
		return zap.NewNop()
	}
	return s.deps.Logger
}
