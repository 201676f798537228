package timeoff

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SCOPE - Which employees' requests a viewer may see
// =============================================================================

type ScopeKind string

const (
	ScopeAll           ScopeKind = "all"
	ScopeBranch        ScopeKind = "branch"
	ScopeDepartment    ScopeKind = "department"
	ScopeDirectReports ScopeKind = "direct_reports"
	ScopeNone          ScopeKind = "none"
)

type Scope struct {
	Kind         ScopeKind
	BranchID     string
	DepartmentID string
	SupervisorID generic.EntityID
}

// Matches is the filter predicate. Unknown kinds match nothing.
func (s Scope) Matches(p Placement) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeBranch:
		return s.BranchID != "" && p.BranchID == s.BranchID
	case ScopeDepartment:
		return s.DepartmentID != "" && p.DepartmentID == s.DepartmentID
	case ScopeDirectReports:
		return s.SupervisorID != "" && p.SupervisorID == s.SupervisorID
	default:
		return false
	}
}

// =============================================================================
// VISIBILITY RESOLVER
// =============================================================================

// VisibilityResolver picks the viewer's scope from the first matching rule:
// admin or HR, branch manager, department head, then everyone else who sees
// their direct reports.
type VisibilityResolver struct {
	Org OrgGraph
}

func NewVisibilityResolver(org OrgGraph) *VisibilityResolver {
	return &VisibilityResolver{Org: org}
}

func (v *VisibilityResolver) Resolve(ctx context.Context, viewerID generic.EntityID) (Scope, error) {
	if _, err := v.Org.GetEmployee(ctx, viewerID); err != nil {
		return Scope{Kind: ScopeNone}, err
	}
	roles, err := v.Org.GetRoles(ctx, viewerID)
	if err != nil {
		return Scope{Kind: ScopeNone}, err
	}

	switch {
	case roles.Has(RoleSystemAdmin), roles.Has(RoleHRManager):
		return Scope{Kind: ScopeAll}, nil

	case roles.Has(RoleBranchManager):
		branch, err := v.Org.GetBranch(ctx, viewerID)
		if err != nil {
			return Scope{Kind: ScopeNone}, err
		}
		if branch == nil || branch.ID == "" {
			return Scope{Kind: ScopeNone}, nil
		}
		return Scope{Kind: ScopeBranch, BranchID: branch.ID}, nil

	case roles.Has(RoleDepartmentHead):
		dept, err := v.Org.GetDepartment(ctx, viewerID)
		if err != nil {
			return Scope{Kind: ScopeNone}, err
		}
		if dept == nil || dept.ID == "" {
			return Scope{Kind: ScopeNone}, nil
		}
		return Scope{Kind: ScopeDepartment, DepartmentID: dept.ID}, nil

	default:
		return Scope{Kind: ScopeDirectReports, SupervisorID: viewerID}, nil
	}
}
