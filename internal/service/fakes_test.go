package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/cache"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
)

// testClock hands out strictly increasing timestamps so ledger ordering is
// deterministic regardless of wall-clock resolution.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeUserRepo struct {
	mu    sync.Mutex
	seq   int
	users map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*domain.User{}}
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		r.seq++
		user.ID = fmt.Sprintf("user-%d", r.seq)
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type fakeTicketRepo struct {
	mu      sync.Mutex
	seq     int
	tickets map[string]*domain.Ticket

	// beforeGuardedUpdate, when set, runs exactly once before the next
	// UpdateIfUnchanged, outside the lock. Tests use it to interleave a
	// competing writer between a service's read and its guarded write.
	beforeGuardedUpdate func()
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: map[string]*domain.Ticket{}}
}

func (r *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ticket.ID = fmt.Sprintf("ticket-%d", r.seq)
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	ticket.UpdatedAt = ticket.CreatedAt
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *fakeTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[ticket.ID]; !ok {
		return pgx.ErrNoRows
	}
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *fakeTicketRepo) UpdateIfAssignee(_ context.Context, ticket *domain.Ticket, expectedAssignee *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return false, nil
	}
	if !sameID(stored.AssigneeID, expectedAssignee) {
		return false, nil
	}
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return true, nil
}

func (r *fakeTicketRepo) UpdateIfUnchanged(_ context.Context, ticket *domain.Ticket, expectedStatus domain.TicketStatus, expectedAssignee *string) (bool, error) {
	r.mu.Lock()
	hook := r.beforeGuardedUpdate
	r.beforeGuardedUpdate = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return false, nil
	}
	if stored.Status != expectedStatus || !sameID(stored.AssigneeID, expectedAssignee) {
		return false, nil
	}
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return true, nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *ticket
	return &clone, nil
}

func (r *fakeTicketRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.tickets, id)
	return nil
}

func (r *fakeTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if filter.CreatorID != nil && ticket.CreatorID != *filter.CreatorID {
			continue
		}
		if filter.DepartmentID != nil && !sameID(ticket.DepartmentID, filter.DepartmentID) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ticket.Status) {
			continue
		}
		result = append(result, *ticket)
	}
	return result, nil
}

func (r *fakeTicketRepo) ListEligibleForQueue(_ context.Context, userID string, departmentIDs []string) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	departments := map[string]bool{}
	for _, id := range departmentIDs {
		departments[id] = true
	}
	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.Status.IsTerminal() || ticket.CreatorID == userID {
			continue
		}
		assignedToUser := ticket.AssigneeID != nil && *ticket.AssigneeID == userID
		inDepartmentPool := ticket.AssigneeID == nil &&
			ticket.DepartmentID != nil && departments[*ticket.DepartmentID]
		if assignedToUser || inDepartmentPool {
			result = append(result, *ticket)
		}
	}
	return result, nil
}

type fakeQueueRepo struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time
	tickets *fakeTicketRepo
	clock   *testClock
}

func newFakeQueueRepo(tickets *fakeTicketRepo, clock *testClock) *fakeQueueRepo {
	return &fakeQueueRepo{entries: map[string]map[string]time.Time{}, tickets: tickets, clock: clock}
}

func (r *fakeQueueRepo) Upsert(_ context.Context, userID, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[userID] == nil {
		r.entries[userID] = map[string]time.Time{}
	}
	if _, ok := r.entries[userID][ticketID]; !ok {
		r.entries[userID][ticketID] = r.clock.next()
	}
	return nil
}

func (r *fakeQueueRepo) Delete(_ context.Context, userID, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries[userID], ticketID)
	return nil
}

func (r *fakeQueueRepo) Exists(_ context.Context, userID, ticketID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[userID][ticketID]
	return ok, nil
}

func (r *fakeQueueRepo) ListByUser(_ context.Context, userID string) ([]domain.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.QueueEntry
	for ticketID, acceptedAt := range r.entries[userID] {
		result = append(result, domain.QueueEntry{
			UserID:     userID,
			TicketID:   ticketID,
			AcceptedAt: acceptedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AcceptedAt.Before(result[j].AcceptedAt) })
	return result, nil
}

func (r *fakeQueueRepo) TicketIDsByUser(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []string
	for ticketID := range r.entries[userID] {
		result = append(result, ticketID)
	}
	sort.Strings(result)
	return result, nil
}

func (r *fakeQueueRepo) HolderIDsByTicket(_ context.Context, ticketID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []string
	for userID, tickets := range r.entries {
		if _, ok := tickets[ticketID]; ok {
			result = append(result, userID)
		}
	}
	sort.Strings(result)
	return result, nil
}

func (r *fakeQueueRepo) DeleteStale(_ context.Context, userID string, keep []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	keepSet := map[string]bool{}
	for _, id := range keep {
		keepSet[id] = true
	}
	for ticketID := range r.entries[userID] {
		if !keepSet[ticketID] {
			delete(r.entries[userID], ticketID)
		}
	}
	return nil
}

func (r *fakeQueueRepo) DeleteRejected(ctx context.Context, userID string, ticketIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticketID := range ticketIDs {
		ticket, err := r.tickets.GetByID(ctx, ticketID)
		if err != nil {
			continue
		}
		if ticket.AssigneeID != nil && *ticket.AssigneeID == userID {
			continue
		}
		delete(r.entries[userID], ticketID)
	}
	return nil
}

func (r *fakeQueueRepo) DeleteForTicket(_ context.Context, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tickets := range r.entries {
		delete(tickets, ticketID)
	}
	return nil
}

func (r *fakeQueueRepo) DeleteForTicketUsers(_ context.Context, ticketID string, userIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, userID := range userIDs {
		delete(r.entries[userID], ticketID)
	}
	return nil
}

func (r *fakeQueueRepo) DeleteForTicketExcept(_ context.Context, ticketID, keepUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, tickets := range r.entries {
		if userID == keepUserID {
			continue
		}
		delete(tickets, ticketID)
	}
	return nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	seq     int
	entries []domain.HistoryEntry
	clock   *testClock
}

func newFakeHistoryRepo(clock *testClock) *fakeHistoryRepo {
	return &fakeHistoryRepo{clock: clock}
}

func (r *fakeHistoryRepo) Append(_ context.Context, entry *domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	entry.ID = fmt.Sprintf("history-%d", r.seq)
	entry.CreatedAt = r.clock.next()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeHistoryRepo) ListByTicket(_ context.Context, ticketID string, limit, offset int) ([]domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.HistoryEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].TicketID == ticketID {
			result = append(result, r.entries[i])
		}
	}
	if offset > 0 && offset < len(result) {
		result = result[offset:]
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (r *fakeHistoryRepo) HasRejected(_ context.Context, userID, ticketID string) (bool, error) {
	return r.hasAction(userID, ticketID, domain.ActionRejected), nil
}

func (r *fakeHistoryRepo) HasReopened(_ context.Context, userID, ticketID string) (bool, error) {
	return r.hasAction(userID, ticketID, domain.ActionReopened), nil
}

func (r *fakeHistoryRepo) hasAction(userID, ticketID string, action domain.HistoryAction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		entry := &r.entries[i]
		if entry.TicketID == ticketID && entry.Action == action &&
			entry.ActorID != nil && *entry.ActorID == userID {
			return true
		}
	}
	return false
}

func (r *fakeHistoryRepo) RejectedTicketIDs(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var result []string
	for i := range r.entries {
		entry := &r.entries[i]
		if entry.Action != domain.ActionRejected || entry.ActorID == nil || *entry.ActorID != userID {
			continue
		}
		if !seen[entry.TicketID] {
			seen[entry.TicketID] = true
			result = append(result, entry.TicketID)
		}
	}
	return result, nil
}

func (r *fakeHistoryRepo) RejectedUserIDs(_ context.Context, ticketID string, userIDs []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	allowed := map[string]bool{}
	for _, id := range userIDs {
		allowed[id] = true
	}
	seen := map[string]bool{}
	var result []string
	for i := range r.entries {
		entry := &r.entries[i]
		if entry.TicketID != ticketID || entry.Action != domain.ActionRejected || entry.ActorID == nil {
			continue
		}
		if allowed[*entry.ActorID] && !seen[*entry.ActorID] {
			seen[*entry.ActorID] = true
			result = append(result, *entry.ActorID)
		}
	}
	return result, nil
}

func (r *fakeHistoryRepo) LatestByAction(_ context.Context, ticketID string, action domain.HistoryAction) (*domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].TicketID == ticketID && r.entries[i].Action == action {
			entry := r.entries[i]
			return &entry, nil
		}
	}
	return nil, nil
}

func (r *fakeHistoryRepo) countByAction(ticketID string, action domain.HistoryAction) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for i := range r.entries {
		if r.entries[i].TicketID == ticketID && r.entries[i].Action == action {
			count++
		}
	}
	return count
}

type fakeMembershipRepo struct {
	mu          sync.Mutex
	seq         int64
	memberships []domain.DepartmentMembership
}

func newFakeMembershipRepo() *fakeMembershipRepo {
	return &fakeMembershipRepo{}
}

func (r *fakeMembershipRepo) Create(_ context.Context, membership *domain.DepartmentMembership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.memberships {
		existing := &r.memberships[i]
		if existing.UserID == membership.UserID && existing.DepartmentID == membership.DepartmentID {
			existing.Role = membership.Role
			existing.IsActive = membership.IsActive
			existing.CanAssign = membership.CanAssign
			existing.CanClose = membership.CanClose
			existing.CanDelete = membership.CanDelete
			*membership = *existing
			return nil
		}
	}
	r.seq++
	membership.ID = fmt.Sprintf("membership-%d", r.seq)
	membership.Seq = r.seq
	r.memberships = append(r.memberships, *membership)
	return nil
}

func (r *fakeMembershipRepo) Deactivate(_ context.Context, userID, departmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.memberships {
		m := &r.memberships[i]
		if m.UserID == userID && m.DepartmentID == departmentID {
			m.IsActive = false
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeMembershipRepo) GetByUserAndDepartment(_ context.Context, userID, departmentID string) (*domain.DepartmentMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.memberships {
		m := r.memberships[i]
		if m.UserID == userID && m.DepartmentID == departmentID {
			return &m, nil
		}
	}
	return nil, nil
}

func (r *fakeMembershipRepo) IsActiveMember(_ context.Context, userID, departmentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.memberships {
		m := &r.memberships[i]
		if m.UserID == userID && m.DepartmentID == departmentID && m.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeMembershipRepo) ActiveDepartmentIDs(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []string
	for i := range r.memberships {
		m := &r.memberships[i]
		if m.UserID == userID && m.IsActive {
			result = append(result, m.DepartmentID)
		}
	}
	return result, nil
}

func (r *fakeMembershipRepo) ListActiveByDepartment(_ context.Context, departmentID string) ([]domain.DepartmentMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.DepartmentMembership
	for i := range r.memberships {
		m := r.memberships[i]
		if m.DepartmentID == departmentID && m.IsActive {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq > result[j].Seq })
	return result, nil
}

type fakeDepartmentRepo struct {
	mu          sync.Mutex
	seq         int
	departments map[string]*domain.Department
}

func newFakeDepartmentRepo() *fakeDepartmentRepo {
	return &fakeDepartmentRepo{departments: map[string]*domain.Department{}}
}

func (r *fakeDepartmentRepo) Create(_ context.Context, department *domain.Department) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if department.ID == "" {
		r.seq++
		department.ID = fmt.Sprintf("department-%d", r.seq)
	}
	clone := *department
	r.departments[department.ID] = &clone
	return nil
}

func (r *fakeDepartmentRepo) GetByID(_ context.Context, id string) (*domain.Department, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	department, ok := r.departments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *department
	return &clone, nil
}

func (r *fakeDepartmentRepo) List(_ context.Context, activeOnly bool) ([]domain.Department, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Department
	for _, department := range r.departments {
		if activeOnly && !department.IsActive {
			continue
		}
		result = append(result, *department)
	}
	return result, nil
}

type fakeNotificationRepo struct {
	mu            sync.Mutex
	seq           int
	notifications []domain.Notification
	failCreate    bool
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{}
}

func (r *fakeNotificationRepo) Create(_ context.Context, notification *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return fmt.Errorf("notification store unavailable")
	}
	r.seq++
	notification.ID = fmt.Sprintf("notification-%d", r.seq)
	r.notifications = append(r.notifications, *notification)
	return nil
}

func (r *fakeNotificationRepo) ListByUser(_ context.Context, userID string, unreadOnly bool, _, _ int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Notification
	for i := range r.notifications {
		n := r.notifications[i]
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}

func (r *fakeNotificationRepo) CountUnread(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for i := range r.notifications {
		if r.notifications[i].UserID == userID && !r.notifications[i].IsRead {
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, userID, notificationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		n := &r.notifications[i]
		if n.ID == notificationID && n.UserID == userID {
			n.IsRead = true
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeNotificationRepo) MarkAllRead(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		if r.notifications[i].UserID == userID {
			r.notifications[i].IsRead = true
		}
	}
	return nil
}

func (r *fakeNotificationRepo) MarkEmailSent(_ context.Context, notificationID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		if r.notifications[i].ID == notificationID {
			r.notifications[i].EmailSent = true
			r.notifications[i].EmailSentAt = &at
			return nil
		}
	}
	return nil
}

func (r *fakeNotificationRepo) ListPendingEmail(_ context.Context, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Notification
	for i := range r.notifications {
		if !r.notifications[i].EmailSent {
			result = append(result, r.notifications[i])
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *fakeNotificationRepo) Delete(_ context.Context, userID, notificationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		if r.notifications[i].ID == notificationID && r.notifications[i].UserID == userID {
			r.notifications = append(r.notifications[:i], r.notifications[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeNotificationRepo) DeleteAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.notifications[:0]
	for i := range r.notifications {
		if r.notifications[i].UserID != userID {
			kept = append(kept, r.notifications[i])
		}
	}
	r.notifications = kept
	return nil
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func containsStatus(statuses []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// testEnv wires every service over the in-memory fakes.
type testEnv struct {
	clock         *testClock
	users         *fakeUserRepo
	tickets       *fakeTicketRepo
	queue         *fakeQueueRepo
	memberships   *fakeMembershipRepo
	departments   *fakeDepartmentRepo
	history       *fakeHistoryRepo
	notifications *fakeNotificationRepo
	dispatcher    events.Dispatcher
	access        *AccessService
	queueSvc      *QueueService
	rejection     *RejectionService
	lifecycle     *LifecycleService
	directory     *DirectoryService
	notifySvc     *NotificationService
}

func newTestEnv() *testEnv {
	clock := newTestClock()
	users := newFakeUserRepo()
	tickets := newFakeTicketRepo()
	queue := newFakeQueueRepo(tickets, clock)
	memberships := newFakeMembershipRepo()
	departments := newFakeDepartmentRepo()
	history := newFakeHistoryRepo(clock)
	notifications := newFakeNotificationRepo()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	queueCache := cache.NewQueueCache(nil)
	dispatcher := events.NewInMemoryDispatcher()
	access := NewAccessService(queue, memberships, history)

	queueSvc := NewQueueService(QueueServiceDeps{
		Users:       users,
		Tickets:     tickets,
		Queue:       queue,
		Memberships: memberships,
		History:     history,
		Access:      access,
		Cache:       queueCache,
		Logger:      logger,
		Metrics:     metrics,
	})
	rejection := NewRejectionService(RejectionServiceDeps{
		Users:       users,
		Tickets:     tickets,
		Queue:       queue,
		Memberships: memberships,
		History:     history,
		Access:      access,
		Cache:       queueCache,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
	})
	lifecycle := NewLifecycleService(LifecycleServiceDeps{
		Users:       users,
		Tickets:     tickets,
		Queue:       queue,
		Memberships: memberships,
		Departments: departments,
		History:     history,
		Access:      access,
		QueueSvc:    queueSvc,
		Cache:       queueCache,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
	})
	directory := NewDirectoryService(departments, memberships, users, queueSvc, logger)
	notifySvc := NewNotificationService(notifications, logger)
	notifySvc.Register(dispatcher)

	return &testEnv{
		clock:         clock,
		users:         users,
		tickets:       tickets,
		queue:         queue,
		memberships:   memberships,
		departments:   departments,
		history:       history,
		notifications: notifications,
		dispatcher:    dispatcher,
		access:        access,
		queueSvc:      queueSvc,
		rejection:     rejection,
		lifecycle:     lifecycle,
		directory:     directory,
		notifySvc:     notifySvc,
	}
}

func (e *testEnv) addUser(name string, role domain.UserRole) *domain.User {
	user := &domain.User{
		Name:   name,
		Email:  fmt.Sprintf("%s@example.com", name),
		Role:   role,
		Active: true,
	}
	_ = e.users.Create(context.Background(), user)
	return user
}

func (e *testEnv) addDepartment(name string) *domain.Department {
	department := &domain.Department{Name: name, Code: name, IsActive: true}
	_ = e.departments.Create(context.Background(), department)
	return department
}

func (e *testEnv) addMember(user *domain.User, department *domain.Department) *domain.DepartmentMembership {
	membership := &domain.DepartmentMembership{
		UserID:       user.ID,
		DepartmentID: department.ID,
		Role:         domain.MembershipRoleMember,
		IsActive:     true,
	}
	_ = e.memberships.Create(context.Background(), membership)
	return membership
}

func (e *testEnv) createTicket(creator *domain.User, department *domain.Department) *domain.Ticket {
	input := CreateTicketInput{Title: "printer on fire", Priority: domain.TicketPriorityMedium}
	if department != nil {
		input.DepartmentID = &department.ID
	}
	ticket, err := e.lifecycle.Create(context.Background(), creator, input)
	if err != nil {
		panic(err)
	}
	return ticket
}
