package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

var requestCols = []string{
	"id", "employee_id", "employee_name", "leave_type", "start_date", "end_date",
	"reason", "status", "created_at", "actioned_at", "version",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	store := New(db)
	store.now = func() time.Time { return time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC) }
	return store, mock
}

func TestApplyEntry_CommitsCounterAndJournal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE employees").
		WithArgs(-5, sqlmock.AnyArg(), "alice").
		WillReturnRows(sqlmock.NewRows([]string{"leave_balance"}).AddRow(16))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs("e1", "alice", "-5", "days", "debit", "r1", sqlmock.AnyArg(), "r1:debit", "16", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	after, err := store.ApplyEntry(context.Background(), generic.Entry{
		ID:             "e1",
		EntityID:       "alice",
		Delta:          generic.Days(-5),
		Type:           generic.EntryDebit,
		ReferenceID:    "r1",
		IdempotencyKey: "r1:debit",
	})

	require.NoError(t, err)
	assert.Equal(t, 16, after.Int())
}

func TestApplyEntry_GuardRejectsOverdraw(t *testing.T) {
	store, mock := newMockStore(t)

	// GIVEN: the guarded update matches no row
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE employees").
		WithArgs(-5, sqlmock.AnyArg(), "alice").
		WillReturnRows(sqlmock.NewRows([]string{"leave_balance"}))
	mock.ExpectQuery(`SELECT leave_balance FROM employees WHERE id = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"leave_balance"}).AddRow(3))
	mock.ExpectRollback()

	// WHEN
	_, err := store.ApplyEntry(context.Background(), generic.Entry{
		ID: "e1", EntityID: "alice", Delta: generic.Days(-5), Type: generic.EntryDebit,
	})

	// THEN: the shortfall is reported against the current balance
	var insufficient *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Available.Int())
	assert.Equal(t, 2, insufficient.Shortfall.Int())
}

func TestApplyEntry_UniqueViolationMapsToDuplicateKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE employees").
		WillReturnRows(sqlmock.NewRows([]string{"leave_balance"}).AddRow(16))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := store.ApplyEntry(context.Background(), generic.Entry{
		ID: "e2", EntityID: "alice", Delta: generic.Days(-5), Type: generic.EntryDebit,
		IdempotencyKey: "r1:debit",
	})

	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
}

func TestWithTx_CreateRequestWritesSteps(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO leave_requests").
		WithArgs("r1", "alice", "Alice", "annual", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"PENDING", created, sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO approval_steps").
		WithArgs("r1", 0, "bob", "Bob", "PENDING", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO approval_steps").
		WithArgs("r1", 1, "hana", "Hana", "PENDING", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx timeoff.Store) error {
		return tx.CreateRequest(context.Background(), &timeoff.LeaveRequest{
			ID:           "r1",
			EmployeeID:   "alice",
			EmployeeName: "Alice",
			LeaveType:    "annual",
			StartDate:    generic.NewTimePoint(2025, time.March, 10),
			EndDate:      generic.NewTimePoint(2025, time.March, 14),
			Status:       timeoff.StatusPending,
			ApprovalChain: []timeoff.ApprovalStep{
				{ApproverID: "bob", ApproverName: "Bob", Status: timeoff.StatusPending},
				{ApproverID: "hana", ApproverName: "Hana", Status: timeoff.StatusPending},
			},
			CreatedAt: created,
		})
	})

	require.NoError(t, err)
}

func TestTxGetRequest_LocksRowAndLoadsChain(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM leave_requests r WHERE r.id = \$1 FOR UPDATE`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(requestCols).AddRow(
			"r1", "alice", "Alice", "annual",
			time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
			time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC),
			nil, "PENDING", created, nil, 2,
		))
	mock.ExpectQuery("FROM approval_steps WHERE request_id = \\$1").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"approver_id", "approver_name", "status", "actioned_at", "comments"}).
			AddRow("bob", "Bob", "APPROVED", created, "ok").
			AddRow("hana", "Hana", "PENDING", nil, nil))
	mock.ExpectCommit()

	var got *timeoff.LeaveRequest
	err := store.WithTx(context.Background(), func(tx timeoff.Store) error {
		var err error
		got, err = tx.GetRequest(context.Background(), "r1")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, 5, got.Days())
	require.Len(t, got.ApprovalChain, 2)
	assert.Equal(t, "ok", got.ApprovalChain[0].Comments)
	assert.Nil(t, got.ApprovalChain[1].ActionedAt)
	assert.Equal(t, 1, timeoff.FirstPendingStep(got.ApprovalChain))
}

func TestGetRequest_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM leave_requests r WHERE r.id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(requestCols))

	_, err := store.GetRequest(context.Background(), "missing")

	assert.ErrorIs(t, err, generic.ErrRequestNotFound)
}

func TestUpdateRequest_StaleVersion(t *testing.T) {
	store, mock := newMockStore(t)

	// GIVEN: another writer already bumped the version
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leave_requests").
		WithArgs("APPROVED", sqlmock.AnyArg(), "r1", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM leave_requests WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	// WHEN
	err := store.UpdateRequest(context.Background(), &timeoff.LeaveRequest{
		ID: "r1", Status: timeoff.StatusApproved, Version: 1,
	})

	// THEN
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
}

func TestUpdateRequest_MissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leave_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM leave_requests WHERE id = \$1`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	err := store.UpdateRequest(context.Background(), &timeoff.LeaveRequest{ID: "gone", Version: 1})

	assert.ErrorIs(t, err, generic.ErrRequestNotFound)
}

func TestGetRoles_ScansArray(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("array_agg").
		WithArgs("hana").
		WillReturnRows(sqlmock.NewRows([]string{"roles"}).AddRow("{HR_MANAGER,SYSTEM_ADMIN}"))

	roles, err := store.GetRoles(context.Background(), "hana")

	require.NoError(t, err)
	assert.True(t, roles.Has(timeoff.RoleHRManager))
	assert.True(t, roles.IsFinalApprover())
}

func TestGetSupervisor_TopLevel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("LEFT JOIN employees sup").
		WithArgs("hana").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(nil, nil))
	mock.ExpectQuery("LEFT JOIN employees sup").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	sup, err := store.GetSupervisor(context.Background(), "hana")
	require.NoError(t, err)
	assert.Nil(t, sup)

	_, err = store.GetSupervisor(context.Background(), "ghost")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestBuildListQuery(t *testing.T) {
	day := generic.NewTimePoint(2025, time.March, 12)

	tests := []struct {
		name     string
		filter   timeoff.RequestFilter
		contains []string
		args     int
	}{
		{
			name:     "no filter",
			filter:   timeoff.RequestFilter{},
			contains: []string{"ORDER BY r.created_at DESC"},
		},
		{
			name:     "pending approver oldest first",
			filter:   timeoff.RequestFilter{Status: timeoff.StatusPending, PendingApproverID: "bob", OldestFirst: true},
			contains: []string{"r.status = $1", "s.approver_id = $2", "ORDER BY r.created_at ASC"},
			args:     2,
		},
		{
			name: "branch scope covering a day",
			filter: timeoff.RequestFilter{
				CoversDate: &day,
				Scope:      &timeoff.Scope{Kind: timeoff.ScopeBranch, BranchID: "north"},
			},
			contains: []string{"r.start_date <= $1 AND r.end_date >= $1", "e.branch_id = $2"},
			args:     2,
		},
		{
			name:     "no scope matches nothing",
			filter:   timeoff.RequestFilter{EmployeeID: "alice", Scope: &timeoff.Scope{Kind: timeoff.ScopeNone}},
			contains: []string{"r.employee_id = $1", "FALSE"},
			args:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			for _, want := range tt.contains {
				assert.Contains(t, query, want)
			}
			assert.Len(t, args, tt.args)
		})
	}
}
