/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

Dates are YYYY-MM-DD strings, timestamps RFC 3339 in UTC. Validation is done
in handlers, not in DTOs.
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type CreateLeaveRequest struct {
	LeaveType string `json:"leave_type"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Reason    string `json:"reason"`
}

type ActionRequest struct {
	Comments string `json:"comments"`
}

type SaveEmployeeRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	SupervisorID string   `json:"supervisor_id,omitempty"`
	BranchID     string   `json:"branch_id,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	LeaveBalance int      `json:"leave_balance"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ApprovalStepDTO struct {
	ApproverID   string  `json:"approver_id"`
	ApproverName string  `json:"approver_name"`
	Status       string  `json:"status"`
	ActionedAt   *string `json:"actioned_at,omitempty"`
	Comments     string  `json:"comments,omitempty"`
}

type RequestDTO struct {
	ID               string            `json:"id"`
	EmployeeID       string            `json:"employee_id"`
	EmployeeName     string            `json:"employee_name"`
	LeaveType        string            `json:"leave_type"`
	StartDate        string            `json:"start_date"`
	EndDate          string            `json:"end_date"`
	Days             int               `json:"days"`
	Reason           string            `json:"reason,omitempty"`
	Status           string            `json:"status"`
	ApprovalChain    []ApprovalStepDTO `json:"approval_chain"`
	ActiveApproverID string            `json:"active_approver_id,omitempty"`
	CreatedAt        string            `json:"created_at"`
	ActionedAt       *string           `json:"actioned_at,omitempty"`
	Version          int               `json:"version"`
}

type EmployeeDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	SupervisorID string   `json:"supervisor_id,omitempty"`
	BranchID     string   `json:"branch_id,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	Roles        []string `json:"roles"`
	LeaveBalance int      `json:"leave_balance"`
}

type BalanceDTO struct {
	EmployeeID string `json:"employee_id"`
	Balance    int    `json:"balance"`
	Unit       string `json:"unit"`
}

type LedgerEntryDTO struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Delta        int    `json:"delta"`
	BalanceAfter int    `json:"balance_after"`
	ReferenceID  string `json:"reference_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type OnLeaveDTO struct {
	RequestID    string `json:"request_id"`
	EmployeeID   string `json:"employee_id"`
	EmployeeName string `json:"employee_name"`
	LeaveType    string `json:"leave_type"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toRequestDTO(r *timeoff.LeaveRequest) RequestDTO {
	steps := make([]ApprovalStepDTO, len(r.ApprovalChain))
	for i, s := range r.ApprovalChain {
		steps[i] = ApprovalStepDTO{
			ApproverID:   string(s.ApproverID),
			ApproverName: s.ApproverName,
			Status:       string(s.Status),
			ActionedAt:   formatTimePtr(s.ActionedAt),
			Comments:     s.Comments,
		}
	}
	dto := RequestDTO{
		ID:            r.ID,
		EmployeeID:    string(r.EmployeeID),
		EmployeeName:  r.EmployeeName,
		LeaveType:     r.LeaveType,
		StartDate:     r.StartDate.String(),
		EndDate:       r.EndDate.String(),
		Days:          r.Days(),
		Reason:        r.Reason,
		Status:        string(r.Status),
		ApprovalChain: steps,
		CreatedAt:     formatTime(r.CreatedAt),
		ActionedAt:    formatTimePtr(r.ActionedAt),
		Version:       r.Version,
	}
	if r.Status == timeoff.StatusPending {
		if step := r.ActiveStep(); step != nil {
			dto.ActiveApproverID = string(step.ApproverID)
		}
	}
	return dto
}

func toRequestDTOs(reqs []timeoff.LeaveRequest) []RequestDTO {
	out := make([]RequestDTO, len(reqs))
	for i := range reqs {
		out[i] = toRequestDTO(&reqs[i])
	}
	return out
}

func toEmployeeDTO(e timeoff.Employee) EmployeeDTO {
	roles := make([]string, len(e.Roles))
	for i, r := range e.Roles {
		roles[i] = string(r)
	}
	return EmployeeDTO{
		ID:           string(e.ID),
		Name:         e.Name,
		SupervisorID: string(e.SupervisorID),
		BranchID:     e.BranchID,
		DepartmentID: e.DepartmentID,
		Roles:        roles,
		LeaveBalance: e.LeaveBalance,
	}
}

func (r SaveEmployeeRequest) toEmployee() timeoff.Employee {
	roles := make(timeoff.RoleSet, len(r.Roles))
	for i, name := range r.Roles {
		roles[i] = timeoff.RoleName(name)
	}
	return timeoff.Employee{
		ID:           generic.EntityID(r.ID),
		Name:         r.Name,
		SupervisorID: generic.EntityID(r.SupervisorID),
		BranchID:     r.BranchID,
		DepartmentID: r.DepartmentID,
		Roles:        roles,
		LeaveBalance: r.LeaveBalance,
	}
}

func toLedgerDTOs(entries []generic.Entry) []LedgerEntryDTO {
	out := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = LedgerEntryDTO{
			ID:           string(e.ID),
			Type:         string(e.Type),
			Delta:        e.Delta.Int(),
			BalanceAfter: e.BalanceAfter.Int(),
			ReferenceID:  e.ReferenceID,
			Reason:       e.Reason,
			CreatedAt:    formatTime(e.CreatedAt),
		}
	}
	return out
}

func toOnLeaveDTOs(list []timeoff.OnLeave) []OnLeaveDTO {
	out := make([]OnLeaveDTO, len(list))
	for i, o := range list {
		out[i] = OnLeaveDTO{
			RequestID:    o.RequestID,
			EmployeeID:   string(o.EmployeeID),
			EmployeeName: o.EmployeeName,
			LeaveType:    o.LeaveType,
			StartDate:    o.StartDate.String(),
			EndDate:      o.EndDate.String(),
		}
	}
	return out
}
