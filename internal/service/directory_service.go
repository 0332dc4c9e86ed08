package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// DirectoryService manages departments and memberships. Every membership
// change re-runs the member's queue reconciliation so the queue invariant
// holds immediately, not at the next view.
type DirectoryService struct {
	departments repository.DepartmentRepository
	memberships repository.MembershipRepository
	users       repository.UserRepository
	queueSvc    *QueueService
	logger      *zap.Logger
}

// NewDirectoryService creates the service.
func NewDirectoryService(departments repository.DepartmentRepository, memberships repository.MembershipRepository, users repository.UserRepository, queueSvc *QueueService, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{
		departments: departments,
		memberships: memberships,
		users:       users,
		queueSvc:    queueSvc,
		logger:      logger,
	}
}

// CreateDepartment registers a department. Admin only.
func (s *DirectoryService) CreateDepartment(ctx context.Context, actor *domain.User, name, code, description, email string) (*domain.Department, error) {
	if !ResolveCapabilities(actor).Admin {
		return nil, util.NewPermissionDenied("admin role required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, util.NewValidationError("department name is required", map[string]any{"field": "name"})
	}
	department := &domain.Department{
		Name:        name,
		Code:        strings.ToUpper(strings.TrimSpace(code)),
		Description: description,
		Email:       strings.ToLower(strings.TrimSpace(email)),
		IsActive:    true,
		CreatedByID: &actor.ID,
		CreatedAt:   time.Now(),
	}
	if err := s.departments.Create(ctx, department); err != nil {
		return nil, util.MapError(err)
	}
	return department, nil
}

// ListDepartments returns departments, optionally only active ones.
func (s *DirectoryService) ListDepartments(ctx context.Context, activeOnly bool) ([]domain.Department, error) {
	departments, err := s.departments.List(ctx, activeOnly)
	if err != nil {
		return nil, util.MapError(err)
	}
	return departments, nil
}

// AddMember adds (or reactivates) a user in a department and reconciles
// their queue: joining makes the department's unassigned tickets eligible.
func (s *DirectoryService) AddMember(ctx context.Context, actor *domain.User, departmentID, userID string, role domain.MembershipRole) (*domain.DepartmentMembership, error) {
	if err := s.checkManagePermission(ctx, actor, departmentID); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, util.MapError(err)
	}
	if user.IsAdmin() {
		return nil, util.NewValidationError("admins do not join departments", map[string]any{"user_id": userID})
	}
	if role == "" {
		role = domain.MembershipRoleMember
	}

	membership := &domain.DepartmentMembership{
		UserID:       userID,
		DepartmentID: departmentID,
		Role:         role,
		IsActive:     true,
		AddedByID:    &actor.ID,
		JoinedAt:     time.Now(),
	}
	if err := s.memberships.Create(ctx, membership); err != nil {
		return nil, util.MapError(err)
	}

	if err := s.queueSvc.SyncForUser(ctx, userID); err != nil {
		s.logger.Warn("post-join queue sync failed", zap.String("user_id", userID), zap.Error(err))
	}
	return membership, nil
}

// RemoveMember deactivates a membership and reconciles the member's queue:
// leaving drains the department's unassigned tickets from it.
func (s *DirectoryService) RemoveMember(ctx context.Context, actor *domain.User, departmentID, userID string) error {
	if err := s.checkManagePermission(ctx, actor, departmentID); err != nil {
		return err
	}
	if err := s.memberships.Deactivate(ctx, userID, departmentID); err != nil {
		return util.MapError(err)
	}
	if err := s.queueSvc.SyncForUser(ctx, userID); err != nil {
		s.logger.Warn("post-leave queue sync failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// ListMembers returns a department's active members.
func (s *DirectoryService) ListMembers(ctx context.Context, departmentID string) ([]domain.DepartmentMembership, error) {
	members, err := s.memberships.ListActiveByDepartment(ctx, departmentID)
	if err != nil {
		return nil, util.MapError(err)
	}
	return members, nil
}

func (s *DirectoryService) checkManagePermission(ctx context.Context, actor *domain.User, departmentID string) error {
	if ResolveCapabilities(actor).Admin {
		return nil
	}
	membership, err := s.memberships.GetByUserAndDepartment(ctx, actor.ID, departmentID)
	if err != nil {
		return util.MapError(err)
	}
	if membership == nil || !membership.IsActive || !membership.IsSenior() {
		return util.NewPermissionDenied("department management requires a senior membership")
	}
	return nil
}
