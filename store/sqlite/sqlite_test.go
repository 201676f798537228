package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.Store, employees ...timeoff.Employee) {
	t.Helper()
	for _, e := range employees {
		require.NoError(t, store.SaveEmployee(context.Background(), e))
	}
}

// org: hr (HQ) <- manager (north/sales) <- dev1, dev2 (north/sales), ops (south/ops) <- hr
func org() []timeoff.Employee {
	return []timeoff.Employee{
		{ID: "hr", Name: "Hana", BranchID: "hq", Roles: timeoff.RoleSet{timeoff.RoleHRManager}, LeaveBalance: 30},
		{ID: "manager", Name: "Mo", SupervisorID: "hr", BranchID: "north", DepartmentID: "sales",
			Roles: timeoff.RoleSet{timeoff.RoleBranchManager}, LeaveBalance: 25},
		{ID: "dev1", Name: "Dana", SupervisorID: "manager", BranchID: "north", DepartmentID: "sales", LeaveBalance: 21},
		{ID: "dev2", Name: "Dev", SupervisorID: "manager", BranchID: "north", DepartmentID: "sales", LeaveBalance: 21},
		{ID: "ops", Name: "Olu", SupervisorID: "hr", BranchID: "south", DepartmentID: "ops", LeaveBalance: 15},
	}
}

func newEngine(store *sqlite.Store) *timeoff.Engine {
	t := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		t = t.Add(time.Second)
		return t
	}
	return timeoff.NewEngine(store, store, timeoff.WithClock(clock))
}

func week() timeoff.CreateInput {
	return timeoff.CreateInput{
		LeaveType: "annual",
		StartDate: generic.NewTimePoint(2025, time.March, 10),
		EndDate:   generic.NewTimePoint(2025, time.March, 14),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestLifecycle_SubmitApproveApprove(t *testing.T) {
	// GIVEN: dev1 -> manager -> hr
	// WHEN: dev1 submits a week and both approve
	// THEN: APPROVED, one debit, steps persisted in order

	store := newTestStore(t)
	seed(t, store, org()...)
	engine := newEngine(store)
	ctx := context.Background()

	req, err := engine.Create(ctx, "dev1", week())
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, req.Status)

	stored, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, stored.ApprovalChain, 2)
	assert.Equal(t, generic.EntityID("manager"), stored.ApprovalChain[0].ApproverID)
	assert.Equal(t, "Mo", stored.ApprovalChain[0].ApproverName)
	assert.Equal(t, 1, stored.Version)
	assert.True(t, stored.StartDate.Equal(week().StartDate))
	assert.Equal(t, req.CreatedAt.UnixNano(), stored.CreatedAt.UnixNano())

	_, err = engine.Approve(ctx, req.ID, "manager", "fine by me")
	require.NoError(t, err)
	final, err := engine.Approve(ctx, req.ID, "hr", "")
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, final.Status)

	stored, err = store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, stored.Status)
	assert.Equal(t, 3, stored.Version)
	assert.Equal(t, "fine by me", stored.ApprovalChain[0].Comments)
	require.NotNil(t, stored.ActionedAt)

	bal, err := engine.Balance(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, 16, bal.Int())

	entries, err := engine.Ledger(ctx, "dev1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, generic.EntryOpening, entries[0].Type)
	assert.Equal(t, 21, entries[0].BalanceAfter.Int())
	assert.Equal(t, generic.EntryDebit, entries[1].Type)
	assert.Equal(t, req.ID, entries[1].ReferenceID)
	assert.Equal(t, 16, entries[1].BalanceAfter.Int())
}

func TestLifecycle_RejectRestores(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, org()...)
	engine := newEngine(store)
	ctx := context.Background()

	req, err := engine.Create(ctx, "dev1", week())
	require.NoError(t, err)
	_, err = engine.Reject(ctx, req.ID, "manager", "sprint deadline")
	require.NoError(t, err)

	bal, err := engine.Balance(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, 21, bal.Int())

	_, err = engine.Approve(ctx, req.ID, "hr", "")
	assert.ErrorIs(t, err, generic.ErrAlreadyTerminal)
}

func TestCreate_InsufficientBalanceRollsBack(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, org()...)
	seed(t, store, timeoff.Employee{ID: "intern", Name: "Ina", SupervisorID: "manager", LeaveBalance: 2})
	engine := newEngine(store)
	ctx := context.Background()

	_, err := engine.Create(ctx, "intern", week())
	require.ErrorIs(t, err, generic.ErrInsufficientBalance)

	reqs, err := engine.FindForEmployee(ctx, "intern")
	require.NoError(t, err)
	assert.Empty(t, reqs)

	bal, err := engine.Balance(ctx, "intern")
	require.NoError(t, err)
	assert.Equal(t, 2, bal.Int())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, org()...)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx timeoff.Store) error {
		_, err := generic.NewLedger(tx).Debit(ctx, "dev1", generic.Days(3), "req-x")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := store.Balance(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, 21, bal.Int())

	entries, err := store.Entries(ctx, "dev1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// BALANCE PRIMITIVE
// =============================================================================

func TestApplyEntry_DuplicateKey(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, org()...)
	ledger := generic.NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, "dev1", generic.Days(1), "req-1")
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, "dev1", generic.Days(1), "req-1")
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	bal, err := store.Balance(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, 20, bal.Int())
}

func TestApplyEntry_GuardedUpdate(t *testing.T) {
	// Bypassing the ledger's pre-check, the store still refuses to go negative.
	store := newTestStore(t)
	seed(t, store, org()...)

	_, err := store.ApplyEntry(context.Background(), generic.Entry{
		ID:             "e-1",
		EntityID:       "ops",
		Delta:          generic.Days(-16),
		Type:           generic.EntryDebit,
		IdempotencyKey: "k-1",
	})

	var ib *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, 15, ib.Available.Int())
}

func TestBalance_UnknownEmployee(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Balance(context.Background(), "ghost")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

// =============================================================================
// REQUEST STORE
// =============================================================================

func TestUpdateRequest_StaleVersion(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, org()...)
	engine := newEngine(store)
	ctx := context.Background()

	req, err := engine.Create(ctx, "dev1", week())
	require.NoError(t, err)

	a, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	b, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)

	a.ApprovalChain[0].Status = timeoff.StatusApproved
	require.NoError(t, store.UpdateRequest(ctx, a))

	b.ApprovalChain[0].Status = timeoff.StatusRejected
	assert.ErrorIs(t, store.UpdateRequest(ctx, b), generic.ErrConcurrentModification)

	missing := *a
	missing.ID = "nope"
	assert.ErrorIs(t, store.UpdateRequest(ctx, &missing), generic.ErrRequestNotFound)
}

func TestGetRequest_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRequest(context.Background(), "nope")
	assert.ErrorIs(t, err, generic.ErrRequestNotFound)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestQueries_ScopeFilters(t *testing.T) {
	// GIVEN: requests from dev1, dev2 (north/sales) and ops (south)
	// THEN: each viewer sees exactly their scope

	store := newTestStore(t)
	seed(t, store, org()...)
	seed(t, store, timeoff.Employee{ID: "head", Name: "Hed", SupervisorID: "hr", BranchID: "south",
		DepartmentID: "ops", Roles: timeoff.RoleSet{timeoff.RoleDepartmentHead}})
	engine := newEngine(store)
	ctx := context.Background()

	for _, who := range []generic.EntityID{"dev1", "dev2", "ops"} {
		_, err := engine.Create(ctx, who, week())
		require.NoError(t, err)
	}

	count := func(viewer generic.EntityID) int {
		reqs, err := engine.FindVisibleHistory(ctx, viewer)
		require.NoError(t, err)
		return len(reqs)
	}

	assert.Equal(t, 3, count("hr"))      // all
	assert.Equal(t, 2, count("manager")) // branch north
	assert.Equal(t, 1, count("head"))    // department ops
	assert.Equal(t, 0, count("dev1"))    // no direct reports
}

func TestQueries_PendingAndOnLeave(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, org()...)
	engine := newEngine(store)
	ctx := context.Background()

	first, err := engine.Create(ctx, "dev1", week())
	require.NoError(t, err)
	second, err := engine.Create(ctx, "dev2", week())
	require.NoError(t, err)
	opsReq, err := engine.Create(ctx, "ops", week())
	require.NoError(t, err)

	pending, err := engine.FindPendingForApprover(ctx, "manager")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	pending, err = engine.FindPendingForApprover(ctx, "hr")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, opsReq.ID, pending[0].ID)

	_, err = engine.Approve(ctx, opsReq.ID, "hr", "")
	require.NoError(t, err)

	out, err := engine.FindOnLeave(ctx, "hr", generic.NewTimePoint(2025, time.March, 12))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, generic.EntityID("ops"), out[0].EmployeeID)
	assert.Equal(t, "Olu", out[0].EmployeeName)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory_SaveAndList(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, org()...)
	ctx := context.Background()

	// Re-saving keeps the balance and replaces roles.
	updated := org()[1]
	updated.Name = "Mo Renamed"
	updated.Roles = timeoff.RoleSet{timeoff.RoleDepartmentHead}
	updated.LeaveBalance = 1
	seed(t, store, updated)

	emps, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, emps, 5)

	var mgr timeoff.Employee
	for _, e := range emps {
		if e.ID == "manager" {
			mgr = e
		}
	}
	assert.Equal(t, "Mo Renamed", mgr.Name)
	assert.Equal(t, 25, mgr.LeaveBalance)
	assert.Equal(t, timeoff.RoleSet{timeoff.RoleDepartmentHead}, mgr.Roles)

	sup, err := store.GetSupervisor(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, "Mo Renamed", sup.Name)

	sup, err = store.GetSupervisor(ctx, "hr")
	require.NoError(t, err)
	assert.Nil(t, sup)

	branch, err := store.GetBranch(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, "north", branch.ID)

	dept, err := store.GetDepartment(ctx, "hr")
	require.NoError(t, err)
	assert.Nil(t, dept)

	_, err = store.GetRoles(ctx, "ghost")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, org()...)
	engine := newEngine(store)
	ctx := context.Background()
	_, err := engine.Create(ctx, "dev1", week())
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	emps, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, emps)
}
