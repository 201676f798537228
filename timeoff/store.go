package timeoff

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ORG GRAPH - Read-only directory collaborator
// =============================================================================

// OrgGraph answers the directory questions the engine needs. The engine
// never writes through it.
type OrgGraph interface {
	// GetEmployee returns generic.ErrEntityNotFound for unknown ids.
	GetEmployee(ctx context.Context, id generic.EntityID) (*EmployeeRef, error)

	// GetSupervisor returns nil when the employee reports to no one.
	GetSupervisor(ctx context.Context, id generic.EntityID) (*EmployeeRef, error)

	GetRoles(ctx context.Context, id generic.EntityID) (RoleSet, error)

	// GetBranch and GetDepartment return nil when unassigned.
	GetBranch(ctx context.Context, id generic.EntityID) (*BranchRef, error)
	GetDepartment(ctx context.Context, id generic.EntityID) (*DepartmentRef, error)
}

// Directory is the administrative side of the org graph, used for seeding.
type Directory interface {
	// SaveEmployee upserts directory fields and roles. A new employee gets
	// e.LeaveBalance as an opening ledger entry; existing balances are kept.
	SaveEmployee(ctx context.Context, e Employee) error
	ListEmployees(ctx context.Context) ([]Employee, error)

	// Reset clears all data. Development only.
	Reset(ctx context.Context) error
}

// =============================================================================
// REQUEST STORE
// =============================================================================

type RequestStore interface {
	CreateRequest(ctx context.Context, r *LeaveRequest) error

	// UpdateRequest writes status and steps when r.Version matches the
	// stored version, then increments r.Version. generic.ErrConcurrentModification
	// otherwise.
	UpdateRequest(ctx context.Context, r *LeaveRequest) error

	// GetRequest returns generic.ErrRequestNotFound for unknown ids. Called
	// through a transactional view it locks the row where the database can.
	GetRequest(ctx context.Context, id string) (*LeaveRequest, error)

	ListRequests(ctx context.Context, f RequestFilter) ([]LeaveRequest, error)
}

// RequestFilter narrows ListRequests. Zero fields don't filter.
type RequestFilter struct {
	EmployeeID generic.EntityID
	Status     Status

	// PendingApproverID keeps requests with a PENDING step for this approver.
	// Callers still check the step is the active one.
	PendingApproverID generic.EntityID

	Scope      *Scope
	CoversDate *generic.TimePoint

	// OldestFirst flips the default newest-first order.
	OldestFirst bool
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	RequestStore
	generic.BalanceStore
}

// TxStore runs a unit of work spanning request and balance rows.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Backend is everything a deployment needs from one storage implementation.
type Backend interface {
	TxStore
	OrgGraph
	Directory
	Close() error
}
