// Package postgres implements timeoff.Backend on PostgreSQL via lib/pq.
//
// Unlike the sqlite store there is no process-wide lock: a unit of work
// takes row locks (SELECT ... FOR UPDATE on the request, a guarded UPDATE on
// the balance row) so several engine instances can share one database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/warp/leave-engine/timeoff"
)

const uniqueViolation = "23505"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle. Tests pass a sqlmock handle here.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	supervisor_id TEXT,
	branch_id TEXT,
	department_id TEXT,
	leave_balance INTEGER NOT NULL DEFAULT 0 CHECK (leave_balance >= 0),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_employees_supervisor ON employees(supervisor_id);
CREATE INDEX IF NOT EXISTS idx_employees_branch ON employees(branch_id);
CREATE INDEX IF NOT EXISTS idx_employees_department ON employees(department_id);

CREATE TABLE IF NOT EXISTS employee_roles (
	employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	PRIMARY KEY (employee_id, role)
);

CREATE TABLE IF NOT EXISTS leave_requests (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL REFERENCES employees(id),
	employee_name TEXT NOT NULL,
	leave_type TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	reason TEXT,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
	created_at TIMESTAMPTZ NOT NULL,
	actioned_at TIMESTAMPTZ,
	version INTEGER NOT NULL DEFAULT 1,
	CHECK (end_date >= start_date)
);
CREATE INDEX IF NOT EXISTS idx_leave_requests_employee ON leave_requests(employee_id, created_at);
CREATE INDEX IF NOT EXISTS idx_leave_requests_status ON leave_requests(status);
CREATE INDEX IF NOT EXISTS idx_leave_requests_dates ON leave_requests(start_date, end_date);

CREATE TABLE IF NOT EXISTS approval_steps (
	request_id TEXT NOT NULL REFERENCES leave_requests(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	approver_id TEXT NOT NULL,
	approver_name TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
	actioned_at TIMESTAMPTZ,
	comments TEXT,
	PRIMARY KEY (request_id, position)
);
CREATE INDEX IF NOT EXISTS idx_approval_steps_approver ON approval_steps(approver_id, status);

CREATE TABLE IF NOT EXISTS ledger_entries (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	employee_id TEXT NOT NULL REFERENCES employees(id),
	delta_value NUMERIC NOT NULL,
	delta_unit TEXT NOT NULL,
	entry_type TEXT NOT NULL,
	reference_id TEXT,
	reason TEXT,
	idempotency_key TEXT UNIQUE,
	balance_after NUMERIC NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_employee ON ledger_entries(employee_id, seq);
`

// Reset deletes all data. Development only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`TRUNCATE approval_steps, leave_requests, ledger_entries, employee_roles, employees`)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// If fn returns error, the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx, parent: s})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore locks the rows it reads.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

var (
	_ timeoff.Backend = (*Store)(nil)
	_ timeoff.Store   = (*txStore)(nil)
)

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
