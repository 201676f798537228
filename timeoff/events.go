package timeoff

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// Event types as they appear on the wire.
const (
	EventLeaveSubmitted             = "leave.submitted"
	EventLeaveRequestedFromApprover = "leave.requested_from_approver"
	EventLeaveApproved              = "leave.approved"
	EventLeaveRejected              = "leave.rejected"
)

// Event is a lifecycle notification addressed to one employee.
type Event interface {
	EventType() string
	RecipientID() generic.EntityID
	AggregateID() string
}

type LeaveSubmitted struct {
	RequestID  string           `json:"request_id"`
	EmployeeID generic.EntityID `json:"employee_id"`
	Days       int              `json:"days"`
}

func (e LeaveSubmitted) EventType() string             { return EventLeaveSubmitted }
func (e LeaveSubmitted) RecipientID() generic.EntityID { return e.EmployeeID }
func (e LeaveSubmitted) AggregateID() string           { return e.RequestID }

type LeaveRequestedFromApprover struct {
	RequestID    string           `json:"request_id"`
	ApproverID   generic.EntityID `json:"approver_id"`
	EmployeeName string           `json:"employee_name"`
	Days         int              `json:"days"`
}

func (e LeaveRequestedFromApprover) EventType() string             { return EventLeaveRequestedFromApprover }
func (e LeaveRequestedFromApprover) RecipientID() generic.EntityID { return e.ApproverID }
func (e LeaveRequestedFromApprover) AggregateID() string           { return e.RequestID }

type LeaveApproved struct {
	RequestID  string           `json:"request_id"`
	EmployeeID generic.EntityID `json:"employee_id"`
	Days       int              `json:"days"`
}

func (e LeaveApproved) EventType() string             { return EventLeaveApproved }
func (e LeaveApproved) RecipientID() generic.EntityID { return e.EmployeeID }
func (e LeaveApproved) AggregateID() string           { return e.RequestID }

type LeaveRejected struct {
	RequestID  string           `json:"request_id"`
	EmployeeID generic.EntityID `json:"employee_id"`
	Days       int              `json:"days"`
}

func (e LeaveRejected) EventType() string             { return EventLeaveRejected }
func (e LeaveRejected) RecipientID() generic.EntityID { return e.EmployeeID }
func (e LeaveRejected) AggregateID() string           { return e.RequestID }

// Notifier receives events after the transition that produced them has
// committed. Implementations must not block the caller and must not report
// failures back; a lost notification never undoes a transition.
type Notifier interface {
	Notify(ctx context.Context, events ...Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, ...Event) {}
