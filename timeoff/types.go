// Package timeoff implements the leave request workflow: approval chains,
// the request state machine, visibility scoping and lifecycle events.
// Balance arithmetic and calendar math come from the generic package.
package timeoff

import (
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// IsDecision reports whether s is a valid outcome for an approval step.
func (s Status) IsDecision() bool {
	return s == StatusApproved || s == StatusRejected
}

// =============================================================================
// LEAVE REQUEST - The aggregate root
// =============================================================================

type LeaveRequest struct {
	ID           string
	EmployeeID   generic.EntityID
	EmployeeName string // snapshot taken at submission
	LeaveType    string
	StartDate    generic.TimePoint
	EndDate      generic.TimePoint
	Reason       string
	Status       Status

	// Insertion order is approval order. Never reordered.
	ApprovalChain []ApprovalStep

	CreatedAt  time.Time
	ActionedAt *time.Time // set on the terminal transition only

	// Version is bumped on every update; SQL stores compare-and-swap on it.
	Version int
}

// Days is the business-day size of the request. It is recomputed rather
// than stored so the credit on rejection always equals the debit.
func (r *LeaveRequest) Days() int {
	return generic.CountBusinessDays(r.StartDate, r.EndDate)
}

// ActiveStep returns the step awaiting action, or nil when the request is
// resolved.
func (r *LeaveRequest) ActiveStep() *ApprovalStep {
	if r.Status != StatusPending {
		return nil
	}
	i := FirstPendingStep(r.ApprovalChain)
	if i < 0 {
		return nil
	}
	return &r.ApprovalChain[i]
}

// Clone returns a deep copy.
func (r *LeaveRequest) Clone() *LeaveRequest {
	c := *r
	c.ApprovalChain = make([]ApprovalStep, len(r.ApprovalChain))
	for i, s := range r.ApprovalChain {
		c.ApprovalChain[i] = s.clone()
	}
	if r.ActionedAt != nil {
		t := *r.ActionedAt
		c.ActionedAt = &t
	}
	return &c
}

// =============================================================================
// APPROVAL STEP
// =============================================================================

type ApprovalStep struct {
	ApproverID   generic.EntityID
	ApproverName string // snapshot taken when the chain was built
	Status       Status
	ActionedAt   *time.Time
	Comments     string
}

func (s ApprovalStep) clone() ApprovalStep {
	if s.ActionedAt != nil {
		t := *s.ActionedAt
		s.ActionedAt = &t
	}
	return s
}

// FirstPendingStep returns the index of the active step: the earliest step
// still PENDING. Steps after it are not yet started. -1 if every step has
// been actioned.
func FirstPendingStep(chain []ApprovalStep) int {
	for i, s := range chain {
		if s.Status == StatusPending {
			return i
		}
	}
	return -1
}

// =============================================================================
// DIRECTORY TYPES
// =============================================================================

type RoleName string

const (
	RoleSystemAdmin    RoleName = "SYSTEM_ADMIN"
	RoleHRManager      RoleName = "HR_MANAGER"
	RoleBranchManager  RoleName = "BRANCH_MANAGER"
	RoleDepartmentHead RoleName = "DEPARTMENT_HEAD"
	RoleEmployee       RoleName = "EMPLOYEE"
)

type RoleSet []RoleName

func (rs RoleSet) Has(role RoleName) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// IsFinalApprover reports whether an approval chain stops at this holder.
func (rs RoleSet) IsFinalApprover() bool {
	return rs.Has(RoleHRManager) || rs.Has(RoleSystemAdmin)
}

type EmployeeRef struct {
	ID   generic.EntityID
	Name string
}

type BranchRef struct {
	ID string
}

type DepartmentRef struct {
	ID string
}

// Employee is a directory record as seeded by an administrator.
// LeaveBalance is the opening balance on first save; afterwards the
// ledger owns it.
type Employee struct {
	ID           generic.EntityID
	Name         string
	SupervisorID generic.EntityID
	BranchID     string
	DepartmentID string
	Roles        RoleSet
	LeaveBalance int
}

// Placement is the slice of an employee's org position visibility cares about.
type Placement struct {
	EmployeeID   generic.EntityID
	SupervisorID generic.EntityID
	BranchID     string
	DepartmentID string
}

func (e Employee) Placement() Placement {
	return Placement{
		EmployeeID:   e.ID,
		SupervisorID: e.SupervisorID,
		BranchID:     e.BranchID,
		DepartmentID: e.DepartmentID,
	}
}

// OnLeave is one employee absent on a given day.
type OnLeave struct {
	RequestID    string
	EmployeeID   generic.EntityID
	EmployeeName string
	LeaveType    string
	StartDate    generic.TimePoint
	EndDate      generic.TimePoint
}
