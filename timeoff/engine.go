/*
engine.go - Leave request lifecycle

PURPOSE:
  The Engine owns every transition of a LeaveRequest. A request is created
  PENDING with its approval chain (or APPROVED straight away when the chain
  is empty), then advances one step at a time until an approver rejects it
  or the last approver accepts it.

STATE MACHINE:
  (none) --Create, chain empty--> APPROVED
  (none) --Create-------------->  PENDING(step 0)
  PENDING(i) --approve, more-->   PENDING(i+1)
  PENDING(i) --approve, last-->   APPROVED
  PENDING(i) --reject-------->    REJECTED

  APPROVED and REJECTED accept nothing further.

UNIT OF WORK:
  Create and TakeAction each run inside one TxStore.WithTx. The ledger is
  built over the transactional store so the balance change and the request
  write commit or roll back together. Events are handed to the Notifier
  only after commit.

SEE ALSO:
  - chain.go: Approval chain derivation
  - visibility.go: History and on-leave scoping
  - generic/ledger.go: Debit on submission, credit on rejection
*/
package timeoff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// CreateInput is what the requester supplies.
type CreateInput struct {
	LeaveType string
	StartDate generic.TimePoint
	EndDate   generic.TimePoint
	Reason    string
}

type Engine struct {
	store      TxStore
	org        OrgGraph
	chain      *ChainBuilder
	visibility *VisibilityResolver
	notifier   Notifier
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.Named("timeoff.engine")
		}
	}
}

func WithChainPolicy(p ChainPolicy) Option {
	return func(e *Engine) { e.chain = NewChainBuilder(e.org, p) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store TxStore, org OrgGraph, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		org:        org,
		visibility: NewVisibilityResolver(org),
		notifier:   NopNotifier{},
		logger:     zap.L().Named("timeoff.engine"),
		now:        time.Now,
	}
	e.chain = NewChainBuilder(org, DefaultChainPolicy())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Create submits a leave request for requesterID, reserving its business
// days against the requester's balance.
func (e *Engine) Create(ctx context.Context, requesterID generic.EntityID, in CreateInput) (*LeaveRequest, error) {
	log := e.logger.With(zap.String("employee_id", string(requesterID)))
	log.Debug("create leave requested",
		zap.String("leave_type", in.LeaveType),
		zap.Stringer("start_date", in.StartDate),
		zap.Stringer("end_date", in.EndDate),
	)

	days := generic.CountBusinessDays(in.StartDate, in.EndDate)
	if in.EndDate.Before(in.StartDate) || days == 0 {
		err := &generic.InvalidRangeError{Start: in.StartDate, End: in.EndDate}
		log.Warn("create leave validation failed", zap.Error(err))
		return nil, err
	}

	requester, err := e.org.GetEmployee(ctx, requesterID)
	if err != nil {
		return nil, e.fail(log, "load requester", err)
	}

	chain, err := e.chain.Build(ctx, requester.ID)
	if err != nil {
		return nil, e.fail(log, "build approval chain", err)
	}

	now := e.now().UTC()
	req := &LeaveRequest{
		ID:            uuid.NewString(),
		EmployeeID:    requester.ID,
		EmployeeName:  requester.Name,
		LeaveType:     in.LeaveType,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		Reason:        in.Reason,
		Status:        StatusPending,
		ApprovalChain: chain,
		CreatedAt:     now,
		Version:       1,
	}
	if len(chain) == 0 {
		req.Status = StatusApproved
		req.ActionedAt = &now
	}

	err = e.store.WithTx(ctx, func(tx Store) error {
		if _, err := e.ledger(tx).Debit(ctx, requester.ID, generic.Days(days), req.ID); err != nil {
			return err
		}
		return tx.CreateRequest(ctx, req)
	})
	if err != nil {
		return nil, e.fail(log, "create leave", err)
	}

	events := []Event{LeaveSubmitted{RequestID: req.ID, EmployeeID: req.EmployeeID, Days: days}}
	if req.Status == StatusApproved {
		events = append(events, LeaveApproved{RequestID: req.ID, EmployeeID: req.EmployeeID, Days: days})
	} else {
		first := req.ApprovalChain[0]
		events = append(events, LeaveRequestedFromApprover{
			RequestID:    req.ID,
			ApproverID:   first.ApproverID,
			EmployeeName: req.EmployeeName,
			Days:         days,
		})
	}
	e.notifier.Notify(ctx, events...)

	log.Info("create leave success",
		zap.String("request_id", req.ID),
		zap.String("status", string(req.Status)),
		zap.Int("days", days),
		zap.Int("chain_length", len(chain)),
	)
	return req, nil
}

// TakeAction applies actorID's decision to the active step of requestID.
func (e *Engine) TakeAction(ctx context.Context, requestID string, actorID generic.EntityID, decision Status, comments string) (*LeaveRequest, error) {
	log := e.logger.With(
		zap.String("request_id", requestID),
		zap.String("actor_id", string(actorID)),
		zap.String("decision", string(decision)),
	)
	log.Debug("take action requested")

	if !decision.IsDecision() {
		err := fmt.Errorf("%w: %q", generic.ErrInvalidDecision, decision)
		log.Warn("take action validation failed", zap.Error(err))
		return nil, err
	}

	var (
		updated *LeaveRequest
		events  []Event
	)
	err := e.store.WithTx(ctx, func(tx Store) error {
		events = nil

		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return &generic.AlreadyTerminalError{RequestID: req.ID, Status: string(req.Status)}
		}

		idx := FirstPendingStep(req.ApprovalChain)
		if idx < 0 {
			return fmt.Errorf("request %s is pending with no active step", req.ID)
		}
		step := &req.ApprovalChain[idx]
		if step.ApproverID != actorID {
			return &generic.NotAuthorizedError{
				RequestID:          req.ID,
				ActorID:            actorID,
				ExpectedApproverID: step.ApproverID,
			}
		}

		now := e.now().UTC()
		step.Status = decision
		step.ActionedAt = &now
		step.Comments = comments
		days := req.Days()

		switch decision {
		case StatusRejected:
			req.Status = StatusRejected
			req.ActionedAt = &now
			if _, err := e.ledger(tx).Credit(ctx, req.EmployeeID, generic.Days(days), req.ID); err != nil {
				return err
			}
			events = append(events, LeaveRejected{RequestID: req.ID, EmployeeID: req.EmployeeID, Days: days})

		case StatusApproved:
			if next := FirstPendingStep(req.ApprovalChain); next >= 0 {
				events = append(events, LeaveRequestedFromApprover{
					RequestID:    req.ID,
					ApproverID:   req.ApprovalChain[next].ApproverID,
					EmployeeName: req.EmployeeName,
					Days:         days,
				})
			} else {
				req.Status = StatusApproved
				req.ActionedAt = &now
				events = append(events, LeaveApproved{RequestID: req.ID, EmployeeID: req.EmployeeID, Days: days})
			}
		}

		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, e.fail(log, "take action", err)
	}

	e.notifier.Notify(ctx, events...)

	log.Info("take action success",
		zap.String("status", string(updated.Status)),
		zap.Int("version", updated.Version),
	)
	return updated, nil
}

// Approve is TakeAction with an APPROVED decision.
func (e *Engine) Approve(ctx context.Context, requestID string, actorID generic.EntityID, comments string) (*LeaveRequest, error) {
	return e.TakeAction(ctx, requestID, actorID, StatusApproved, comments)
}

// Reject is TakeAction with a REJECTED decision.
func (e *Engine) Reject(ctx context.Context, requestID string, actorID generic.EntityID, comments string) (*LeaveRequest, error) {
	return e.TakeAction(ctx, requestID, actorID, StatusRejected, comments)
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) Get(ctx context.Context, requestID string) (*LeaveRequest, error) {
	return e.store.GetRequest(ctx, requestID)
}

// FindForEmployee returns the employee's own requests, newest first.
func (e *Engine) FindForEmployee(ctx context.Context, employeeID generic.EntityID) ([]LeaveRequest, error) {
	return e.store.ListRequests(ctx, RequestFilter{EmployeeID: employeeID})
}

// FindPendingForApprover returns the requests whose active step belongs to
// approverID, oldest first. Steps further down a chain don't count yet.
func (e *Engine) FindPendingForApprover(ctx context.Context, approverID generic.EntityID) ([]LeaveRequest, error) {
	candidates, err := e.store.ListRequests(ctx, RequestFilter{
		Status:            StatusPending,
		PendingApproverID: approverID,
		OldestFirst:       true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]LeaveRequest, 0, len(candidates))
	for _, r := range candidates {
		idx := FirstPendingStep(r.ApprovalChain)
		if idx >= 0 && r.ApprovalChain[idx].ApproverID == approverID {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindVisibleHistory returns every request the viewer's scope covers.
func (e *Engine) FindVisibleHistory(ctx context.Context, viewerID generic.EntityID) ([]LeaveRequest, error) {
	scope, err := e.visibility.Resolve(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if scope.Kind == ScopeNone {
		return []LeaveRequest{}, nil
	}
	return e.store.ListRequests(ctx, RequestFilter{Scope: &scope})
}

// FindOnLeave lists employees in the viewer's scope with an approved request
// covering date. An employee appears once even with overlapping requests.
func (e *Engine) FindOnLeave(ctx context.Context, viewerID generic.EntityID, date generic.TimePoint) ([]OnLeave, error) {
	scope, err := e.visibility.Resolve(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if scope.Kind == ScopeNone {
		return []OnLeave{}, nil
	}

	reqs, err := e.store.ListRequests(ctx, RequestFilter{
		Status:      StatusApproved,
		Scope:       &scope,
		CoversDate:  &date,
		OldestFirst: true,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[generic.EntityID]bool, len(reqs))
	out := make([]OnLeave, 0, len(reqs))
	for _, r := range reqs {
		if seen[r.EmployeeID] {
			continue
		}
		seen[r.EmployeeID] = true
		out = append(out, OnLeave{
			RequestID:    r.ID,
			EmployeeID:   r.EmployeeID,
			EmployeeName: r.EmployeeName,
			LeaveType:    r.LeaveType,
			StartDate:    r.StartDate,
			EndDate:      r.EndDate,
		})
	}
	return out, nil
}

func (e *Engine) Balance(ctx context.Context, employeeID generic.EntityID) (generic.Amount, error) {
	return e.store.Balance(ctx, employeeID)
}

// Ledger returns the employee's balance journal, oldest first.
func (e *Engine) Ledger(ctx context.Context, employeeID generic.EntityID) ([]generic.Entry, error) {
	return e.store.Entries(ctx, employeeID)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) ledger(tx Store) *generic.DefaultLedger {
	l := generic.NewLedger(tx)
	l.Now = e.now
	return l
}

// fail passes domain errors through and wraps everything else as a
// persistence failure.
func (e *Engine) fail(log *zap.Logger, op string, err error) error {
	if generic.IsDomainError(err) {
		log.Warn(op+" rejected", zap.Error(err))
		return err
	}
	log.Error(op+" failed", zap.Error(err))
	return &generic.PersistenceError{Op: op, Err: err}
}
