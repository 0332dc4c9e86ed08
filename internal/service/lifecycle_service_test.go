package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

func TestCreateRequiresTitle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	_, err := env.lifecycle.Create(ctx, creator, CreateTicketInput{Title: "  "})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", util.ToDomainError(err).Code)
}

func TestCreateRejectsUnknownDepartment(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	missing := "no-such-department"
	_, err := env.lifecycle.Create(ctx, creator, CreateTicketInput{
		Title:        "printer on fire",
		DepartmentID: &missing,
	})
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", util.ToDomainError(err).Code)
}

func TestCreateSeedsMemberQueuesAndNotifies(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	admin := env.addUser("admin", domain.UserRoleAdmin)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	env.addMember(creator, department)
	env.addMember(admin, department)

	ticket := env.createTicket(creator, department)

	aliceHolds, _ := env.queue.Exists(ctx, alice.ID, ticket.ID)
	creatorHolds, _ := env.queue.Exists(ctx, creator.ID, ticket.ID)
	adminHolds, _ := env.queue.Exists(ctx, admin.ID, ticket.ID)
	assert.True(t, aliceHolds)
	assert.False(t, creatorHolds)
	assert.False(t, adminHolds)

	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)

	notifications, err := env.notifySvc.ListForUser(ctx, alice.ID, false, 50, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, ticket.ID, *notifications[0].TicketID)
}

func TestCreateSurvivesNotificationFailure(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)

	env.notifications.failCreate = true
	ticket, err := env.lifecycle.Create(ctx, creator, CreateTicketInput{
		Title:        "printer on fire",
		DepartmentID: &department.ID,
	})
	require.NoError(t, err)
	holds, _ := env.queue.Exists(ctx, alice.ID, ticket.ID)
	assert.True(t, holds)
}

func TestClaimTakesUnassignedTicket(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	claimed, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, claimed.Status)
	require.NotNil(t, claimed.AssigneeID)
	assert.Equal(t, alice.ID, *claimed.AssigneeID)
	assert.Equal(t, domain.AssignmentSelfAssigned, claimed.AssignmentType)
}

func TestClaimConflictsWhenAlreadyTaken(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	bob := env.addUser("bob", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	env.addMember(bob, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)

	_, err = env.lifecycle.Claim(ctx, bob, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", util.ToDomainError(err).Code)
}

func TestClaimIsIdempotentForCurrentHandler(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	entriesBefore := env.history.countByAction(ticket.ID, domain.ActionAssigned)

	again, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, again.Status)
	assert.Equal(t, entriesBefore, env.history.countByAction(ticket.ID, domain.ActionAssigned))
}

func TestClaimForbiddenForCreatorAndAdmin(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	admin := env.addUser("admin", domain.UserRoleAdmin)
	department := env.addDepartment("support")
	env.addMember(creator, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, creator, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)

	_, err = env.lifecycle.Claim(ctx, admin, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)
}

func TestAssignBySeniorMember(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	senior := env.addUser("senior", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	membership := env.addMember(senior, department)
	membership.Role = domain.MembershipRoleLead
	require.NoError(t, env.memberships.Create(ctx, membership))
	env.addMember(alice, department)

	ticket := env.createTicket(creator, department)
	assigned, err := env.lifecycle.AssignToUser(ctx, senior, ticket.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, assigned.AssigneeID)
	assert.Equal(t, alice.ID, *assigned.AssigneeID)
	assert.Equal(t, domain.TicketStatusInProgress, assigned.Status)
	assert.Equal(t, domain.AssignmentManual, assigned.AssignmentType)

	// everyone else's pool entry is gone, only the handler keeps one
	holders, _ := env.queue.HolderIDsByTicket(ctx, ticket.ID)
	assert.Equal(t, []string{alice.ID}, holders)
}

func TestAssignRejectsAdminsAndOutsiders(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	admin := env.addUser("admin", domain.UserRoleAdmin)
	outsider := env.addUser("outsider", domain.UserRoleMember)
	department := env.addDepartment("support")
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.AssignToUser(ctx, creator, ticket.ID, admin.ID)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", util.ToDomainError(err).Code)

	_, err = env.lifecycle.AssignToUser(ctx, creator, ticket.ID, outsider.ID)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", util.ToDomainError(err).Code)
}

func TestPlainMemberCannotReassign(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	bob := env.addUser("bob", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	env.addMember(bob, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)

	_, err = env.lifecycle.AssignToUser(ctx, bob, ticket.ID, bob.ID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)
}

func TestCloseByAssigneeClearsDepartmentQueues(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	bob := env.addUser("bob", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	env.addMember(bob, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	closed, err := env.lifecycle.Close(ctx, alice, ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedByID)
	assert.Equal(t, alice.ID, *closed.ClosedByID)

	holders, _ := env.queue.HolderIDsByTicket(ctx, ticket.ID)
	assert.Empty(t, holders)
}

func TestCloseGuards(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	admin := env.addUser("admin", domain.UserRoleAdmin)
	alice := env.addUser("alice", domain.UserRoleMember)
	bob := env.addUser("bob", domain.UserRoleMember)
	outsider := env.addUser("outsider", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	env.addMember(bob, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Close(ctx, admin, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", util.ToDomainError(err).Code)

	_, err = env.lifecycle.Close(ctx, outsider, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)

	// a prior rejector can never close, even while holding a queue entry
	require.NoError(t, env.queueSvc.SyncForUser(ctx, alice.ID))
	_, err = env.rejection.Reject(ctx, alice, ticket.ID, "pass")
	require.NoError(t, err)
	require.NoError(t, env.queue.Upsert(ctx, alice.ID, ticket.ID))
	_, err = env.lifecycle.Close(ctx, alice, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", util.ToDomainError(err).Code)
}

func TestResolvePermissions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	// the creator cannot resolve an open ticket
	_, err := env.lifecycle.Resolve(ctx, creator, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)

	_, err = env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	resolved, err := env.lifecycle.Resolve(ctx, alice, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = env.lifecycle.Resolve(ctx, alice, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", util.ToDomainError(err).Code)
}

func TestCreatorResolvesClosedTicket(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	_, err = env.lifecycle.Close(ctx, alice, ticket.ID)
	require.NoError(t, err)

	resolved, err := env.lifecycle.Resolve(ctx, creator, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, resolved.Status)
}

func TestReopenReturnsTicketToCloser(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	_, err = env.lifecycle.Close(ctx, alice, ticket.ID)
	require.NoError(t, err)

	reopened, err := env.lifecycle.Reopen(ctx, creator, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReopen, reopened.Status)
	require.NotNil(t, reopened.AssigneeID)
	assert.Equal(t, alice.ID, *reopened.AssigneeID)
	assert.Nil(t, reopened.ClosedAt)

	holds, _ := env.queue.Exists(ctx, alice.ID, ticket.ID)
	assert.True(t, holds)
}

func TestReopenOncePerNonAdmin(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	admin := env.addUser("admin", domain.UserRoleAdmin)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	_, err = env.lifecycle.Close(ctx, alice, ticket.ID)
	require.NoError(t, err)
	_, err = env.lifecycle.Reopen(ctx, creator, ticket.ID)
	require.NoError(t, err)

	_, err = env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	_, err = env.lifecycle.Close(ctx, alice, ticket.ID)
	require.NoError(t, err)

	_, err = env.lifecycle.Reopen(ctx, creator, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", util.ToDomainError(err).Code)

	// admins are not limited
	_, err = env.lifecycle.Reopen(ctx, admin, ticket.ID)
	require.NoError(t, err)
}

func TestReopenOnlyFromTerminalStates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	department := env.addDepartment("support")
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Reopen(ctx, creator, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", util.ToDomainError(err).Code)
}

func TestDeleteCreatorOrAdminOnly(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	err := env.lifecycle.Delete(ctx, alice, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)

	require.NoError(t, env.lifecycle.Delete(ctx, creator, ticket.ID))
	_, err = env.tickets.GetByID(ctx, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", util.ToDomainError(err).Code)
}

func TestAdminDeletesInsteadOfClosing(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	admin := env.addUser("admin", domain.UserRoleAdmin)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Close(ctx, admin, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", util.ToDomainError(err).Code)

	require.NoError(t, env.lifecycle.Delete(ctx, admin, ticket.ID))
	assert.Equal(t, 1, env.history.countByAction(ticket.ID, domain.ActionDeleted))
	_, err = env.tickets.GetByID(ctx, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", util.ToDomainError(err).Code)
}

func TestUpdatePriorityGuards(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.UpdatePriority(ctx, creator, ticket.ID, "EXTREME")
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", util.ToDomainError(err).Code)

	_, err = env.lifecycle.UpdatePriority(ctx, alice, ticket.ID, domain.TicketPriorityHigh)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)

	updated, err := env.lifecycle.UpdatePriority(ctx, creator, ticket.ID, domain.TicketPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, updated.Priority)

	// once the ticket is being worked on, the creator loses the knob
	_, err = env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	_, err = env.lifecycle.UpdatePriority(ctx, creator, ticket.ID, domain.TicketPriorityUrgent)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)
}

func TestRerouteReseedsQueuesAndClearsAssignment(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	bob := env.addUser("bob", domain.UserRoleMember)
	support := env.addDepartment("support")
	billing := env.addDepartment("billing")
	env.addMember(alice, support)
	env.addMember(bob, billing)

	ticket := env.createTicket(creator, support)
	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)

	rerouted, err := env.lifecycle.Reroute(ctx, creator, ticket.ID, &billing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, rerouted.Status)
	assert.Nil(t, rerouted.AssigneeID)
	require.NotNil(t, rerouted.DepartmentID)
	assert.Equal(t, billing.ID, *rerouted.DepartmentID)

	aliceHolds, _ := env.queue.Exists(ctx, alice.ID, ticket.ID)
	bobHolds, _ := env.queue.Exists(ctx, bob.ID, ticket.ID)
	assert.False(t, aliceHolds)
	assert.True(t, bobHolds)

	entry, err := env.history.LatestByAction(ctx, ticket.ID, domain.ActionUpdated)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "support", entry.OldValue)
	assert.Equal(t, "billing", entry.NewValue)
}

func TestGetRequiresViewAccess(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	outsider := env.addUser("outsider", domain.UserRoleMember)
	admin := env.addUser("admin", domain.UserRoleAdmin)
	department := env.addDepartment("support")
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Get(ctx, outsider, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)

	got, err := env.lifecycle.Get(ctx, admin, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)

	got, err = env.lifecycle.Get(ctx, creator, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)
}

func TestViewAnnotatesPermittedActions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	admin := env.addUser("admin", domain.UserRoleAdmin)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	view, err := env.lifecycle.View(ctx, alice, ticket.ID)
	require.NoError(t, err)
	assert.True(t, view.CanWorkOn)
	assert.True(t, view.CanClose)
	assert.True(t, view.CanAccept)

	view, err = env.lifecycle.View(ctx, creator, ticket.ID)
	require.NoError(t, err)
	assert.True(t, view.CanWorkOn)
	assert.False(t, view.CanClose)
	assert.False(t, view.CanAccept)

	view, err = env.lifecycle.View(ctx, admin, ticket.ID)
	require.NoError(t, err)
	assert.False(t, view.CanWorkOn)
	assert.False(t, view.CanClose)
	assert.False(t, view.CanAccept)
}

func TestHistoryIsOrderedNewestFirst(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)

	entries, err := env.lifecycle.History(ctx, creator, ticket.ID, 50, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 3)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i-1].CreatedAt.Before(entries[i].CreatedAt))
	}
	assert.Equal(t, domain.ActionCreated, entries[len(entries)-1].Action)
}

// A claim committing between the resolver's read and write must not be
// overwritten: the guarded update forces a re-read that carries the new
// assignee into the resolved row.
func TestResolvePreservesConcurrentClaim(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	admin := env.addUser("root", domain.UserRoleAdmin)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	env.tickets.beforeGuardedUpdate = func() {
		if _, err := env.lifecycle.Claim(ctx, alice, ticket.ID); err != nil {
			t.Errorf("interleaved claim: %v", err)
		}
	}

	resolved, err := env.lifecycle.Resolve(ctx, admin, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, resolved.Status)
	require.NotNil(t, resolved.AssigneeID)
	assert.Equal(t, alice.ID, *resolved.AssigneeID)

	stored, err := env.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, stored.Status)
	require.NotNil(t, stored.AssigneeID)
	assert.Equal(t, alice.ID, *stored.AssigneeID)
	assert.Equal(t, alice.Name, stored.HolderName)
}

// A claim landing mid-flight turns the ticket non-Open, so the creator's
// retried priority change is refused instead of silently clobbering it.
func TestPriorityChangeYieldsToConcurrentClaim(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	env.tickets.beforeGuardedUpdate = func() {
		if _, err := env.lifecycle.Claim(ctx, alice, ticket.ID); err != nil {
			t.Errorf("interleaved claim: %v", err)
		}
	}

	_, err := env.lifecycle.UpdatePriority(ctx, creator, ticket.ID, domain.TicketPriorityUrgent)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", util.ToDomainError(err).Code)

	stored, err := env.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)
	require.NotNil(t, stored.AssigneeID)
	assert.Equal(t, alice.ID, *stored.AssigneeID)
	assert.Equal(t, domain.TicketPriorityMedium, stored.Priority)
}

// Reroute observes a mid-flight claim on retry and supersedes it cleanly
// rather than writing a stale row over it.
func TestRerouteSerializesWithConcurrentClaim(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	billing := env.addDepartment("billing")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	env.tickets.beforeGuardedUpdate = func() {
		if _, err := env.lifecycle.Claim(ctx, alice, ticket.ID); err != nil {
			t.Errorf("interleaved claim: %v", err)
		}
	}

	rerouted, err := env.lifecycle.Reroute(ctx, creator, ticket.ID, &billing.ID)
	require.NoError(t, err)
	assert.Nil(t, rerouted.AssigneeID)
	assert.Equal(t, domain.TicketStatusOpen, rerouted.Status)

	stored, err := env.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DepartmentID)
	assert.Equal(t, billing.ID, *stored.DepartmentID)
	assert.Nil(t, stored.AssigneeID)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
}

// Reopen racing a resolve re-reads and still lands on Reopen, handing the
// ticket back to the closer with the resolve timestamps cleared.
func TestReopenSerializesWithConcurrentResolve(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	creator := env.addUser("creator", domain.UserRoleMember)
	alice := env.addUser("alice", domain.UserRoleMember)
	department := env.addDepartment("support")
	env.addMember(alice, department)
	ticket := env.createTicket(creator, department)

	_, err := env.lifecycle.Claim(ctx, alice, ticket.ID)
	require.NoError(t, err)
	_, err = env.lifecycle.Close(ctx, alice, ticket.ID)
	require.NoError(t, err)

	env.tickets.beforeGuardedUpdate = func() {
		if _, err := env.lifecycle.Resolve(ctx, alice, ticket.ID); err != nil {
			t.Errorf("interleaved resolve: %v", err)
		}
	}

	reopened, err := env.lifecycle.Reopen(ctx, creator, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReopen, reopened.Status)
	require.NotNil(t, reopened.AssigneeID)
	assert.Equal(t, alice.ID, *reopened.AssigneeID)

	stored, err := env.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReopen, stored.Status)
	assert.Nil(t, stored.ResolvedAt)
	assert.Nil(t, stored.ClosedAt)
}
