// Package memory provides an in-memory Backend for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory holds the directory, requests and balance journal in maps guarded
// by one lock. WithTx keeps the lock for the whole unit of work and restores
// a snapshot if it fails.
type Memory struct {
	mu          sync.RWMutex
	employees   map[generic.EntityID]*timeoff.Employee
	requests    map[string]*timeoff.LeaveRequest
	entries     map[generic.EntityID][]generic.Entry
	idempotency map[string]bool
	now         func() time.Time
}

func New() *Memory {
	m := &Memory{now: time.Now}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.employees = make(map[generic.EntityID]*timeoff.Employee)
	m.requests = make(map[string]*timeoff.LeaveRequest)
	m.entries = make(map[generic.EntityID][]generic.Entry)
	m.idempotency = make(map[string]bool)
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e timeoff.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := e
	rec.Roles = append(timeoff.RoleSet(nil), e.Roles...)

	if existing, ok := m.employees[e.ID]; ok {
		rec.LeaveBalance = existing.LeaveBalance
		m.employees[e.ID] = &rec
		return nil
	}

	rec.LeaveBalance = 0
	m.employees[e.ID] = &rec
	if e.LeaveBalance > 0 {
		_, err := m.applyEntryLocked(generic.Entry{
			ID:             generic.EntryID(uuid.NewString()),
			EntityID:       e.ID,
			Delta:          generic.Days(e.LeaveBalance),
			Type:           generic.EntryOpening,
			Reason:         "opening balance",
			IdempotencyKey: generic.IdempotencyKey(string(e.ID), generic.EntryOpening),
			CreatedAt:      m.now().UTC(),
		})
		return err
	}
	return nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]timeoff.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]timeoff.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

// =============================================================================
// ORG GRAPH
// =============================================================================

func (m *Memory) GetEmployee(_ context.Context, id generic.EntityID) (*timeoff.EmployeeRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return nil, generic.ErrEntityNotFound
	}
	return &timeoff.EmployeeRef{ID: e.ID, Name: e.Name}, nil
}

func (m *Memory) GetSupervisor(_ context.Context, id generic.EntityID) (*timeoff.EmployeeRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return nil, generic.ErrEntityNotFound
	}
	if e.SupervisorID == "" {
		return nil, nil
	}
	sup, ok := m.employees[e.SupervisorID]
	if !ok {
		return nil, nil
	}
	return &timeoff.EmployeeRef{ID: sup.ID, Name: sup.Name}, nil
}

func (m *Memory) GetRoles(_ context.Context, id generic.EntityID) (timeoff.RoleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return nil, generic.ErrEntityNotFound
	}
	return append(timeoff.RoleSet(nil), e.Roles...), nil
}

func (m *Memory) GetBranch(_ context.Context, id generic.EntityID) (*timeoff.BranchRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return nil, generic.ErrEntityNotFound
	}
	if e.BranchID == "" {
		return nil, nil
	}
	return &timeoff.BranchRef{ID: e.BranchID}, nil
}

func (m *Memory) GetDepartment(_ context.Context, id generic.EntityID) (*timeoff.DepartmentRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return nil, generic.ErrEntityNotFound
	}
	if e.DepartmentID == "" {
		return nil, nil
	}
	return &timeoff.DepartmentRef{ID: e.DepartmentID}, nil
}

// =============================================================================
// REQUESTS AND BALANCES
// =============================================================================

func (m *Memory) CreateRequest(_ context.Context, r *timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createRequestLocked(r)
}

func (m *Memory) UpdateRequest(_ context.Context, r *timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRequestLocked(r)
}

func (m *Memory) GetRequest(_ context.Context, id string) (*timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRequestLocked(id)
}

func (m *Memory) ListRequests(_ context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRequestsLocked(f), nil
}

func (m *Memory) Balance(_ context.Context, id generic.EntityID) (generic.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(id)
}

func (m *Memory) ApplyEntry(_ context.Context, e generic.Entry) (generic.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyEntryLocked(e)
}

func (m *Memory) Entries(_ context.Context, id generic.EntityID) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(id)
}

func (m *Memory) createRequestLocked(r *timeoff.LeaveRequest) error {
	if _, ok := m.employees[r.EmployeeID]; !ok {
		return generic.ErrEntityNotFound
	}
	if r.Version == 0 {
		r.Version = 1
	}
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *Memory) updateRequestLocked(r *timeoff.LeaveRequest) error {
	cur, ok := m.requests[r.ID]
	if !ok {
		return generic.ErrRequestNotFound
	}
	if cur.Version != r.Version {
		return generic.ErrConcurrentModification
	}
	r.Version++
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *Memory) getRequestLocked(id string) (*timeoff.LeaveRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, generic.ErrRequestNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) listRequestsLocked(f timeoff.RequestFilter) []timeoff.LeaveRequest {
	out := make([]timeoff.LeaveRequest, 0)
	for _, r := range m.requests {
		if !m.matches(r, f) {
			continue
		}
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if f.OldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if f.OldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
	return out
}

func (m *Memory) matches(r *timeoff.LeaveRequest, f timeoff.RequestFilter) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.PendingApproverID != "" && !hasPendingStep(r, f.PendingApproverID) {
		return false
	}
	if f.CoversDate != nil && !generic.Covers(r.StartDate, r.EndDate, *f.CoversDate) {
		return false
	}
	if f.Scope != nil {
		e, ok := m.employees[r.EmployeeID]
		if !ok || !f.Scope.Matches(e.Placement()) {
			return false
		}
	}
	return true
}

func hasPendingStep(r *timeoff.LeaveRequest, approverID generic.EntityID) bool {
	for _, s := range r.ApprovalChain {
		if s.ApproverID == approverID && s.Status == timeoff.StatusPending {
			return true
		}
	}
	return false
}

func (m *Memory) balanceLocked(id generic.EntityID) (generic.Amount, error) {
	e, ok := m.employees[id]
	if !ok {
		return generic.Amount{}, generic.ErrEntityNotFound
	}
	return generic.Days(e.LeaveBalance), nil
}

func (m *Memory) applyEntryLocked(entry generic.Entry) (generic.Amount, error) {
	e, ok := m.employees[entry.EntityID]
	if !ok {
		return generic.Amount{}, generic.ErrEntityNotFound
	}
	if entry.IdempotencyKey != "" && m.idempotency[entry.IdempotencyKey] {
		return generic.Amount{}, generic.ErrDuplicateIdempotencyKey
	}

	current := generic.Days(e.LeaveBalance)
	after := current.Add(entry.Delta)
	if after.IsNegative() {
		requested := entry.Delta.Neg()
		return generic.Amount{}, &generic.InsufficientBalanceError{
			EntityID:  entry.EntityID,
			Available: current,
			Requested: requested,
			Shortfall: requested.Sub(current),
		}
	}

	e.LeaveBalance = after.Int()
	entry.BalanceAfter = after
	m.entries[entry.EntityID] = append(m.entries[entry.EntityID], entry)
	if entry.IdempotencyKey != "" {
		m.idempotency[entry.IdempotencyKey] = true
	}
	return after, nil
}

func (m *Memory) entriesLocked(id generic.EntityID) ([]generic.Entry, error) {
	if _, ok := m.employees[id]; !ok {
		return nil, generic.ErrEntityNotFound
	}
	return append([]generic.Entry{}, m.entries[id]...), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error
// or panic. A panic is re-raised after the rollback.
func (m *Memory) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	defer func() {
		if r := recover(); r != nil {
			m.restore(snapshot)
			panic(r)
		}
	}()

	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	employees   map[generic.EntityID]*timeoff.Employee
	requests    map[string]*timeoff.LeaveRequest
	entries     map[generic.EntityID][]generic.Entry
	idempotency map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		employees:   make(map[generic.EntityID]*timeoff.Employee, len(m.employees)),
		requests:    make(map[string]*timeoff.LeaveRequest, len(m.requests)),
		entries:     make(map[generic.EntityID][]generic.Entry, len(m.entries)),
		idempotency: make(map[string]bool, len(m.idempotency)),
	}
	for k, v := range m.employees {
		e := *v
		s.employees[k] = &e
	}
	for k, v := range m.requests {
		s.requests[k] = v.Clone()
	}
	for k, v := range m.entries {
		s.entries[k] = append([]generic.Entry{}, v...)
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.employees = s.employees
	m.requests = s.requests
	m.entries = s.entries
	m.idempotency = s.idempotency
}

// txView runs against the parent's maps with the lock already held.
type txView struct {
	parent *Memory
}

func (tv *txView) CreateRequest(_ context.Context, r *timeoff.LeaveRequest) error {
	return tv.parent.createRequestLocked(r)
}

func (tv *txView) UpdateRequest(_ context.Context, r *timeoff.LeaveRequest) error {
	return tv.parent.updateRequestLocked(r)
}

func (tv *txView) GetRequest(_ context.Context, id string) (*timeoff.LeaveRequest, error) {
	return tv.parent.getRequestLocked(id)
}

func (tv *txView) ListRequests(_ context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	return tv.parent.listRequestsLocked(f), nil
}

func (tv *txView) Balance(_ context.Context, id generic.EntityID) (generic.Amount, error) {
	return tv.parent.balanceLocked(id)
}

func (tv *txView) ApplyEntry(_ context.Context, e generic.Entry) (generic.Amount, error) {
	return tv.parent.applyEntryLocked(e)
}

func (tv *txView) Entries(_ context.Context, id generic.EntityID) ([]generic.Entry, error) {
	return tv.parent.entriesLocked(id)
}

var (
	_ timeoff.Backend = (*Memory)(nil)
	_ timeoff.Store   = (*txView)(nil)
)
