package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// BALANCE STORE (generic.BalanceStore interface)
// =============================================================================

func (s *Store) Balance(ctx context.Context, id generic.EntityID) (generic.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balance(ctx, s.db, id)
}

// ApplyEntry runs in its own transaction when called outside WithTx.
func (s *Store) ApplyEntry(ctx context.Context, e generic.Entry) (generic.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var after generic.Amount
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		after, err = s.applyEntry(ctx, tx, e)
		return err
	})
	return after, err
}

func (s *Store) Entries(ctx context.Context, id generic.EntityID) ([]generic.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entries(ctx, s.db, id)
}

func (ts *txStore) Balance(ctx context.Context, id generic.EntityID) (generic.Amount, error) {
	return balance(ctx, ts.tx, id)
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

func balance(ctx context.Context, db dbtx, id generic.EntityID) (generic.Amount, error) {
	var days int
	err := db.QueryRowContext(ctx, `SELECT leave_balance FROM employees WHERE id = ?`, id).Scan(&days)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Amount{}, generic.ErrEntityNotFound
	}
	if err != nil {
		return generic.Amount{}, err
	}
	return generic.Days(days), nil
}

// applyEntry moves the counter with a guarded update, then appends the
// journal row. Must run inside a transaction: a failed insert has to undo
// the counter change.
func (s *Store) applyEntry(ctx context.Context, db dbtx, e generic.Entry) (generic.Amount, error) {
	delta := e.Delta.Int()

	res, err := db.ExecContext(ctx, `
		UPDATE employees
		SET leave_balance = leave_balance + ?, updated_at = ?
		WHERE id = ? AND leave_balance + ? >= 0
	`, delta, formatTime(s.now()), e.EntityID, delta)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return generic.Amount{}, err
	}
	if n == 0 {
		current, err := balance(ctx, db, e.EntityID)
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

	after, err := balance(ctx, db, e.EntityID)
	if err != nil {
		return generic.Amount{}, err
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, employee_id, delta_value, delta_unit, entry_type, reference_id, reason,
		 idempotency_key, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.EntityID, e.Delta.Value.String(), e.Delta.Unit, e.Type,
		nullString(e.ReferenceID), nullString(e.Reason), nullString(e.IdempotencyKey),
		after.Value.String(), formatTime(createdAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Amount{}, generic.ErrDuplicateIdempotencyKey
		}
		return generic.Amount{}, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return after, nil
}

func entries(ctx context.Context, db dbtx, id generic.EntityID) ([]generic.Entry, error) {
	exists, err := employeeExists(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, generic.ErrEntityNotFound
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, employee_id, delta_value, delta_unit, entry_type, reference_id, reason,
			idempotency_key, balance_after, created_at
		FROM ledger_entries
		WHERE employee_id = ?
		ORDER BY rowid
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]generic.Entry, 0)
	for rows.Next() {
		var (
			e                        generic.Entry
			value, unit, after, at   string
			ref, reason, idempotency sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &value, &unit, &e.Type, &ref, &reason,
			&idempotency, &after, &at); err != nil {
			return nil, err
		}
		e.Delta = parseAmount(value, unit)
		e.BalanceAfter = parseAmount(after, unit)
		e.ReferenceID = ref.String
		e.Reason = reason.String
		e.IdempotencyKey = idempotency.String
		if e.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseAmount(value, unit string) generic.Amount {
	return generic.Amount{
		Value: generic.MustParseDecimal(value),
		Unit:  generic.Unit(unit),
	}
}
