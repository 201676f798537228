package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// BALANCE STORE (generic.BalanceStore interface)
// =============================================================================

func (s *Store) Balance(ctx context.Context, id generic.EntityID) (generic.Amount, error) {
	return balance(ctx, s.db, id, false)
}

func (s *Store) ApplyEntry(ctx context.Context, e generic.Entry) (generic.Amount, error) {
	var after generic.Amount
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		after, err = s.applyEntry(ctx, tx, e)
		return err
	})
	return after, err
}

func (s *Store) Entries(ctx context.Context, id generic.EntityID) ([]generic.Entry, error) {
	return entries(ctx, s.db, id)
}

// Balance locks the employee row so the pre-check in Ledger.Debit and the
// following update see the same value.
func (ts *txStore) Balance(ctx context.Context, id generic.EntityID) (generic.Amount, error) {
	return balance(ctx, ts.tx, id, true)
}

func (ts *txStore) ApplyEntry(ctx context.Context, e generic.Entry) (generic.Amount, error) {
	return ts.parent.applyEntry(ctx, ts.tx, e)
}

func (ts *txStore) Entries(ctx context.Context, id generic.EntityID) ([]generic.Entry, error) {
	return entries(ctx, ts.tx, id)
}

// =============================================================================
// STATEMENTS
// =============================================================================

func balance(ctx context.Context, db dbtx, id generic.EntityID, lock bool) (generic.Amount, error) {
	query := `SELECT leave_balance FROM employees WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var days int
	err := db.QueryRowContext(ctx, query, id).Scan(&days)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Amount{}, generic.ErrEntityNotFound
	}
	if err != nil {
		return generic.Amount{}, err
	}
	return generic.Days(days), nil
}

// applyEntry must run inside a transaction: a failed journal insert has to
// undo the counter change.
func (s *Store) applyEntry(ctx context.Context, db dbtx, e generic.Entry) (generic.Amount, error) {
	delta := e.Delta.Int()
	now := s.now().UTC()

	var days int
	err := db.QueryRowContext(ctx, `
		UPDATE employees
		SET leave_balance = leave_balance + $1, updated_at = $2
		WHERE id = $3 AND leave_balance + $1 >= 0
		RETURNING leave_balance
	`, delta, now, e.EntityID).Scan(&days)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := balance(ctx, db, e.EntityID, false)
		if err != nil {
			return generic.Amount{}, err
		}
		requested := e.Delta.Neg()
		return generic.Amount{}, &generic.InsufficientBalanceError{
			EntityID:  e.EntityID,
			Available: current,
			Requested: requested,
			Shortfall: requested.Sub(current),
		}
	}
	if err != nil {
		return generic.Amount{}, fmt.Errorf("failed to update balance: %w", err)
	}
	after := generic.Days(days)

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, employee_id, delta_value, delta_unit, entry_type, reference_id, reason,
		 idempotency_key, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		e.ID, e.EntityID, e.Delta.Value.String(), e.Delta.Unit, e.Type,
		nullString(e.ReferenceID), nullString(e.Reason), nullString(e.IdempotencyKey),
		after.Value.String(), createdAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return generic.Amount{}, generic.ErrDuplicateIdempotencyKey
		}
		return generic.Amount{}, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return after, nil
}

func entries(ctx context.Context, db dbtx, id generic.EntityID) ([]generic.Entry, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM employees WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, employee_id, delta_value, delta_unit, entry_type, reference_id, reason,
			idempotency_key, balance_after, created_at
		FROM ledger_entries
		WHERE employee_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]generic.Entry, 0)
	for rows.Next() {
		var (
			e                        generic.Entry
			value, unit, after       string
			ref, reason, idempotency sql.NullString
			at                       time.Time
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &value, &unit, &e.Type, &ref, &reason,
			&idempotency, &after, &at); err != nil {
			return nil, err
		}
		e.Delta = generic.Amount{Value: generic.MustParseDecimal(value), Unit: generic.Unit(unit)}
		e.BalanceAfter = generic.Amount{Value: generic.MustParseDecimal(after), Unit: generic.Unit(unit)}
		e.ReferenceID = ref.String
		e.Reason = reason.String
		e.IdempotencyKey = idempotency.String
		e.CreatedAt = at.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
