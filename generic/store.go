/*
store.go - Persistence interface for leave balances

PURPOSE:
  Defines the interface between the ledger and the database. The balance
  counter and its journal live behind one primitive, ApplyEntry, so that
  debit and credit can never take different code paths to the same row.

KEY INTERFACES:
  BalanceStore:  Balance read + the single atomic write primitive

  The transaction boundary itself (WithTx) is declared by timeoff.TxStore,
  because a unit of work spans the balance and the leave request rows.

APPEND-ONLY CONTRACT:
  - ApplyEntry(): Adjusts the balance and appends the journal entry together
  - NO Update() or Delete() methods exist for entries

IDEMPOTENCY:
  Every entry carries an idempotency key. If the key already exists the
  write is rejected with ErrDuplicateIdempotencyKey. A request's debit and
  credit keys are derived from its ID, so a retried or concurrent action
  cannot reserve or restore the same days twice.

IMPLEMENTATIONS:
  - store/memory: In-memory for tests and demos
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL with row locks

SEE ALSO:
  - ledger.go: Higher-level interface using BalanceStore
*/
package generic

import "context"

// =============================================================================
// BALANCE STORE
// =============================================================================

// BalanceStore persists employee leave balances.
type BalanceStore interface {
	// Balance returns the current balance. ErrEntityNotFound if unknown.
	Balance(ctx context.Context, entityID EntityID) (Amount, error)

	// ApplyEntry adds e.Delta to the balance and appends e to the journal in
	// one atomic write. It fails with *InsufficientBalanceError if the result
	// would be negative and with ErrDuplicateIdempotencyKey if the key exists.
	// Returns the balance after the change.
	ApplyEntry(ctx context.Context, e Entry) (Amount, error)

	// Entries returns the journal for an entity, oldest first.
	Entries(ctx context.Context, entityID EntityID) ([]Entry, error)
}
