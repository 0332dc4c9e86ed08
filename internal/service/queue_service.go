package service

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/cache"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// QueueSort selects the ordering of a queue listing.
type QueueSort string

const (
	QueueSortNewest  QueueSort = "newest"
	QueueSortUrgent  QueueSort = "urgent"
	QueueSortOverdue QueueSort = "overdue"
)

// QueueFilter narrows a queue listing.
type QueueFilter struct {
	DepartmentID *string
	Priority     *domain.TicketPriority
	Sort         QueueSort
}

// QueueItem is one ticket in a user's queue, annotated with the flags the
// holder needs to decide what they may do with it.
type QueueItem struct {
	Ticket        domain.Ticket
	AcceptedAt    time.Time
	IsAssignee    bool
	NonRejectable bool
	Overdue       bool
}

// QueueStats summarizes a user's queue.
type QueueStats struct {
	Total      int `json:"total"`
	Assigned   int `json:"assigned"`
	InProgress int `json:"in_progress"`
	Overdue    int `json:"overdue"`
}

// QueueServiceDeps bundles queue service dependencies.
type QueueServiceDeps struct {
	DB          *pgxpool.Pool
	Users       repository.UserRepository
	Tickets     repository.TicketRepository
	Queue       repository.QueueRepository
	Memberships repository.MembershipRepository
	History     repository.HistoryRepository
	Access      *AccessService
	Cache       *cache.QueueCache
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// QueueService reconciles per-user work queues with the tickets each user is
// actually eligible to handle.
type QueueService struct {
	deps QueueServiceDeps
}

// NewQueueService creates the service.
func NewQueueService(deps QueueServiceDeps) *QueueService {
	return &QueueService{deps: deps}
}

// SyncForUser reconciles one user's queue. Admins are skipped entirely: they
// never hold a personal queue. The reconciliation is idempotent; running it
// twice in a row leaves the queue unchanged.
func (s *QueueService) SyncForUser(ctx context.Context, userID string) error {
	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return util.MapError(err)
	}
	if user.IsAdmin() || !user.Active {
		return nil
	}

	departmentIDs, err := s.deps.Memberships.ActiveDepartmentIDs(ctx, userID)
	if err != nil {
		return util.MapError(err)
	}
	eligible, err := s.deps.Tickets.ListEligibleForQueue(ctx, userID, departmentIDs)
	if err != nil {
		return util.MapError(err)
	}
	rejectedIDs, err := s.deps.History.RejectedTicketIDs(ctx, userID)
	if err != nil {
		return util.MapError(err)
	}
	rejected := make(map[string]bool, len(rejectedIDs))
	for _, id := range rejectedIDs {
		rejected[id] = true
	}

	// A rejected ticket stays out of the queue unless the user has since
	// become the current assignee again.
	keep := make([]string, 0, len(eligible))
	for i := range eligible {
		t := &eligible[i]
		isAssignee := t.AssigneeID != nil && *t.AssigneeID == userID
		if rejected[t.ID] && !isAssignee {
			continue
		}
		keep = append(keep, t.ID)
	}

	existing, err := s.deps.Queue.TicketIDsByUser(ctx, userID)
	if err != nil {
		return util.MapError(err)
	}
	present := make(map[string]bool, len(existing))
	for _, id := range existing {
		present[id] = true
	}

	err = persistence.WithTx(ctx, s.deps.DB, func(ctx context.Context) error {
		for _, ticketID := range keep {
			if present[ticketID] {
				continue
			}
			if err := s.deps.Queue.Upsert(ctx, userID, ticketID); err != nil {
				return err
			}
		}
		if err := s.deps.Queue.DeleteStale(ctx, userID, keep); err != nil {
			return err
		}
		// prune rejected entries that predate this sync, except where the
		// user is the current assignee
		if len(rejectedIDs) > 0 {
			if err := s.deps.Queue.DeleteRejected(ctx, userID, rejectedIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return util.MapError(err)
	}

	s.deps.Cache.SetSize(ctx, userID, len(keep))
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordOperation("queue_sync", "ok")
	}
	return nil
}

// SyncDepartment re-runs the reconciliation for every active member of a
// department. Per-member failures are logged and do not stop the loop.
func (s *QueueService) SyncDepartment(ctx context.Context, departmentID string) error {
	members, err := s.deps.Memberships.ListActiveByDepartment(ctx, departmentID)
	if err != nil {
		return util.MapError(err)
	}
	for _, m := range members {
		if err := s.SyncForUser(ctx, m.UserID); err != nil {
			s.log().Warn("queue sync failed for member",
				zap.String("user_id", m.UserID),
				zap.String("department_id", departmentID),
				zap.Error(err))
		}
	}
	return nil
}

// MyQueue reconciles and then lists the user's queue. Each item carries the
// flags a queue view needs: assignee, non-rejectable, overdue.
func (s *QueueService) MyQueue(ctx context.Context, user *domain.User, filter QueueFilter) ([]QueueItem, QueueStats, error) {
	stats := QueueStats{}
	if user.IsAdmin() {
		return nil, stats, util.NewPermissionDenied("admins do not hold a work queue")
	}
	if err := s.SyncForUser(ctx, user.ID); err != nil {
		return nil, stats, err
	}

	entries, err := s.deps.Queue.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, stats, util.MapError(err)
	}

	now := time.Now()
	items := make([]QueueItem, 0, len(entries))
	for _, entry := range entries {
		ticket, err := s.deps.Tickets.GetByID(ctx, entry.TicketID)
		if err != nil {
			s.log().Warn("queue entry references missing ticket",
				zap.String("ticket_id", entry.TicketID), zap.Error(err))
			continue
		}
		if !matchesFilter(ticket, filter) {
			continue
		}
		isAssignee := ticket.AssigneeID != nil && *ticket.AssigneeID == user.ID

		item := QueueItem{
			Ticket:     *ticket,
			AcceptedAt: entry.AcceptedAt,
			IsAssignee: isAssignee,
			Overdue:    ticket.IsOverdue(now),
		}
		if isAssignee {
			assigner, err := s.loadAssigner(ctx, ticket)
			if err != nil {
				return nil, stats, err
			}
			nonRejectable, err := s.deps.Access.IsNonRejectable(ctx, user, ticket, assigner)
			if err != nil {
				return nil, stats, util.MapError(err)
			}
			item.NonRejectable = nonRejectable
		}
		items = append(items, item)

		stats.Total++
		if isAssignee {
			stats.Assigned++
		}
		if ticket.Status == domain.TicketStatusInProgress {
			stats.InProgress++
		}
		if item.Overdue {
			stats.Overdue++
		}
	}

	sortQueueItems(items, filter.Sort)
	return items, stats, nil
}

// QueueSize returns the cached queue size, falling back to a count of stored
// entries when the cache is cold.
func (s *QueueService) QueueSize(ctx context.Context, userID string) (int, error) {
	if size, ok := s.deps.Cache.GetSize(ctx, userID); ok {
		return size, nil
	}
	ids, err := s.deps.Queue.TicketIDsByUser(ctx, userID)
	if err != nil {
		return 0, util.MapError(err)
	}
	s.deps.Cache.SetSize(ctx, userID, len(ids))
	return len(ids), nil
}

func (s *QueueService) loadAssigner(ctx context.Context, ticket *domain.Ticket) (*domain.User, error) {
	if ticket.AssignedByID == nil {
		return nil, nil
	}
	assigner, err := s.deps.Users.GetByID(ctx, *ticket.AssignedByID)
	if err != nil {
		// an assigner deleted since assignment is not an error for the view
		s.log().Warn("assigner lookup failed", zap.String("user_id", *ticket.AssignedByID), zap.Error(err))
		return nil, nil
	}
	return assigner, nil
}

func (s *QueueService) log() *zap.Logger {
	if s.deps.Logger == nil {
		return zap.NewNop()
	}
	return s.deps.Logger
}

func matchesFilter(ticket *domain.Ticket, filter QueueFilter) bool {
	if filter.DepartmentID != nil {
		if ticket.DepartmentID == nil || *ticket.DepartmentID != *filter.DepartmentID {
			return false
		}
	}
	if filter.Priority != nil && ticket.Priority != *filter.Priority {
		return false
	}
	if filter.Sort == QueueSortOverdue && !ticket.IsOverdue(time.Now()) {
		return false
	}
	return true
}

var priorityRank = map[domain.TicketPriority]int{
	domain.TicketPriorityUrgent: 0,
	domain.TicketPriorityHigh:   1,
	domain.TicketPriorityMedium: 2,
	domain.TicketPriorityLow:    3,
}

func sortQueueItems(items []QueueItem, order QueueSort) {
	switch order {
	case QueueSortUrgent:
		sort.Slice(items, func(i, j int) bool {
			ri, rj := priorityRank[items[i].Ticket.Priority], priorityRank[items[j].Ticket.Priority]
			if ri != rj {
				return ri < rj
			}
			return items[i].Ticket.CreatedAt.After(items[j].Ticket.CreatedAt)
		})
	case QueueSortOverdue:
		sort.Slice(items, func(i, j int) bool {
			di, dj := items[i].Ticket.DueDate, items[j].Ticket.DueDate
			switch {
			case di == nil:
				return false
			case dj == nil:
				return true
			default:
				return di.Before(*dj)
			}
		})
	default:
		sort.Slice(items, func(i, j int) bool {
			return items[i].Ticket.CreatedAt.After(items[j].Ticket.CreatedAt)
		})
	}
}
