/*
ledger.go - Balance ledger with an append-only journal

PURPOSE:
  The Ledger owns every change to an employee's leave balance. It offers
  exactly two mutations, Debit and Credit, and both funnel into the same
  BalanceStore.ApplyEntry primitive. A ledger is cheap to construct; the
  engine builds one over the transactional store handed to it by WithTx so
  that the balance write commits or rolls back with the request write.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: A debit larger than the balance is refused
  2. APPEND-ONLY: Journal entries are never edited or deleted
  3. ONCE PER KEY: An idempotency key can be applied a single time

RESERVE-ON-SUBMIT:
  Days are debited when a request is submitted, not when it is finally
  approved. The balance therefore shows days still available, with days
  under review already reserved. Rejection credits the same amount back.

EXAMPLE FLOW:
  1. Employee seeded with 21 days:     opening +21   → 21
  2. Submits Mon–Fri:                   debit   -5    → 16
  3. HR rejects:                        credit  +5    → 21

SEE ALSO:
  - store.go: Low-level persistence interface
  - timeoff/engine.go: Calls Debit on Create and Credit on rejection
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the only writer of leave balances.
type Ledger interface {
	// Debit reserves amount for the referenced request.
	Debit(ctx context.Context, entityID EntityID, amount Amount, referenceID string) (Amount, error)

	// Credit restores amount for the referenced request.
	Credit(ctx context.Context, entityID EntityID, amount Amount, referenceID string) (Amount, error)

	// Balance returns the current balance. Read-only.
	Balance(ctx context.Context, entityID EntityID) (Amount, error)

	// Entries returns the journal, oldest first. Read-only.
	Entries(ctx context.Context, entityID EntityID) ([]Entry, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using BalanceStore
// =============================================================================

type DefaultLedger struct {
	Store BalanceStore
	Now   func() time.Time
}

func NewLedger(store BalanceStore) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

func (l *DefaultLedger) Debit(ctx context.Context, entityID EntityID, amount Amount, referenceID string) (Amount, error) {
	if !amount.IsPositive() {
		return Amount{}, fmt.Errorf("debit amount must be positive, got %v", amount.Value)
	}

	available, err := l.Store.Balance(ctx, entityID)
	if err != nil {
		return Amount{}, err
	}
	if amount.GreaterThan(available) {
		return Amount{}, &InsufficientBalanceError{
			EntityID:  entityID,
			Available: available,
			Requested: amount,
			Shortfall: amount.Sub(available),
		}
	}

	return l.Store.ApplyEntry(ctx, l.entry(entityID, amount.Neg(), EntryDebit, referenceID, "reserved on submission"))
}

func (l *DefaultLedger) Credit(ctx context.Context, entityID EntityID, amount Amount, referenceID string) (Amount, error) {
	if !amount.IsPositive() {
		return Amount{}, fmt.Errorf("credit amount must be positive, got %v", amount.Value)
	}
	return l.Store.ApplyEntry(ctx, l.entry(entityID, amount, EntryCredit, referenceID, "restored on rejection"))
}

func (l *DefaultLedger) Balance(ctx context.Context, entityID EntityID) (Amount, error) {
	return l.Store.Balance(ctx, entityID)
}

func (l *DefaultLedger) Entries(ctx context.Context, entityID EntityID) ([]Entry, error) {
	return l.Store.Entries(ctx, entityID)
}

func (l *DefaultLedger) entry(entityID EntityID, delta Amount, typ EntryType, referenceID, reason string) Entry {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return Entry{
		ID:             EntryID(uuid.NewString()),
		EntityID:       entityID,
		Delta:          delta,
		Type:           typ,
		ReferenceID:    referenceID,
		Reason:         reason,
		IdempotencyKey: IdempotencyKey(referenceID, typ),
		CreatedAt:      now().UTC(),
	}
}

// IdempotencyKey derives the journal key for a request's debit or credit.
func IdempotencyKey(referenceID string, typ EntryType) string {
	return referenceID + ":" + string(typ)
}
