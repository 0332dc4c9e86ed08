package domain

import "time"

// MembershipRole enumerates a member's standing within a department.
type MembershipRole string

const (
	MembershipRoleMember  MembershipRole = "MEMBER"
	MembershipRoleLead    MembershipRole = "LEAD"
	MembershipRoleManager MembershipRole = "MANAGER"
	MembershipRoleHead    MembershipRole = "HEAD"
)

// DepartmentMembership links a user to a department with capability flags.
// Seq is a monotonically increasing sequence number: the auto-assignment
// cascade breaks ties by picking the highest Seq (most recently joined).
type DepartmentMembership struct {
	ID           string
	Seq          int64
	UserID       string
	DepartmentID string
	Role         MembershipRole
	IsActive     bool
	CanAssign    bool
	CanClose     bool
	CanDelete    bool
	AddedByID    *string
	JoinedAt     time.Time
}

// IsSenior reports whether the member may act on tickets beyond their own
// assignments (lead, manager or department head).
func (m *DepartmentMembership) IsSenior() bool {
	return m.Role == MembershipRoleLead || m.Role == MembershipRoleManager || m.Role == MembershipRoleHead
}
