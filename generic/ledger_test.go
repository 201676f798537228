package generic_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/timeoff"
)

func newTestLedger(t *testing.T, balance int) (*generic.DefaultLedger, *memory.Memory) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.SaveEmployee(context.Background(), timeoff.Employee{
		ID:           "emp-1",
		Name:         "Test User",
		LeaveBalance: balance,
	}))
	return generic.NewLedger(store), store
}

func TestLedger_DebitThenCredit(t *testing.T) {
	// GIVEN: 21 days
	// WHEN: debit 5 then credit 5 for the same request
	// THEN: 16 in between, 21 after, journal has opening, debit, credit

	ledger, _ := newTestLedger(t, 21)
	ctx := context.Background()

	after, err := ledger.Debit(ctx, "emp-1", generic.Days(5), "req-1")
	require.NoError(t, err)
	assert.Equal(t, 16, after.Int())

	after, err = ledger.Credit(ctx, "emp-1", generic.Days(5), "req-1")
	require.NoError(t, err)
	assert.Equal(t, 21, after.Int())

	entries, err := ledger.Entries(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, generic.EntryOpening, entries[0].Type)
	assert.Equal(t, generic.EntryDebit, entries[1].Type)
	assert.Equal(t, "req-1:debit", entries[1].IdempotencyKey)
	assert.Equal(t, -5, entries[1].Delta.Int())
	assert.Equal(t, 16, entries[1].BalanceAfter.Int())
	assert.Equal(t, generic.EntryCredit, entries[2].Type)
	assert.Equal(t, "req-1", entries[2].ReferenceID)
}

func TestLedger_DebitBeyondBalance(t *testing.T) {
	ledger, _ := newTestLedger(t, 3)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, "emp-1", generic.Days(4), "req-1")

	var ib *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, 3, ib.Available.Int())
	assert.Equal(t, 1, ib.Shortfall.Int())
	assert.True(t, generic.IsClientError(err))

	bal, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, bal.Int())
}

func TestLedger_DebitWholeBalance(t *testing.T) {
	ledger, _ := newTestLedger(t, 5)

	after, err := ledger.Debit(context.Background(), "emp-1", generic.Days(5), "req-1")
	require.NoError(t, err)
	assert.True(t, after.IsZero())
}

func TestLedger_SameRequestDebitedOnce(t *testing.T) {
	// GIVEN: req-1 already debited
	// WHEN: the same debit is retried
	// THEN: duplicate key, balance debited once

	ledger, _ := newTestLedger(t, 21)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, "emp-1", generic.Days(5), "req-1")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, "emp-1", generic.Days(5), "req-1")
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	_, err = ledger.Credit(ctx, "emp-1", generic.Days(5), "req-1")
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, "emp-1", generic.Days(5), "req-1")
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	bal, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 21, bal.Int())
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	ledger, _ := newTestLedger(t, 21)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, "emp-1", generic.Days(0), "req-1")
	assert.Error(t, err)
	_, err = ledger.Credit(ctx, "emp-1", generic.Days(-2), "req-1")
	assert.Error(t, err)
}

func TestLedger_UnknownEmployee(t *testing.T) {
	ledger, _ := newTestLedger(t, 21)

	_, err := ledger.Debit(context.Background(), "ghost", generic.Days(1), "req-1")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
	assert.True(t, generic.IsNotFound(err))
}

func TestErrors_PersistenceUnwrapsBoth(t *testing.T) {
	cause := generic.ErrConcurrentModification
	err := &generic.PersistenceError{Op: "take action", Err: cause}

	assert.ErrorIs(t, err, generic.ErrPersistence)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))
	assert.False(t, generic.IsDomainError(err))
}
