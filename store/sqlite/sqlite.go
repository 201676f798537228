/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements timeoff.Backend (requests, balances, the ledger journal and the
  org directory) using SQLite. The postgres package implements the same
  contract with row locks instead of a process-wide mutex.

INTERFACES IMPLEMENTED:
  timeoff.TxStore:   Requests + balances with WithTx
  timeoff.OrgGraph:  Read-only directory lookups for the engine
  timeoff.Directory: Seeding and admin

KEY TABLES:
  employees:       Directory records + the authoritative leave_balance counter
  employee_roles:  Role assignments
  leave_requests:  Request aggregate (version column for optimistic locking)
  approval_steps:  Ordered chain, one row per step (position = approval order)
  ledger_entries:  Append-only journal of balance changes

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries (Reset aside)
  - leave_balance only changes together with a journal insert
  - idempotency_key is UNIQUE, so a request is debited or credited once

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; WithTx holds the write lock for the
  whole unit of work. Request updates additionally compare-and-swap on
  version. The pool is capped at one connection so ":memory:" databases
  are shared by every statement.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := timeoff.NewEngine(store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - timeoff/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/timeoff"
)

// timestampLayout is fixed-width so text ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements timeoff.Backend using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		supervisor_id TEXT,
		branch_id TEXT,
		department_id TEXT,
		leave_balance INTEGER NOT NULL DEFAULT 0 CHECK (leave_balance >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
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
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
		created_at TEXT NOT NULL,
		actioned_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		CHECK (end_date >= start_date)
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee ON leave_requests(employee_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status ON leave_requests(status);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_dates ON leave_requests(start_date, end_date);

	-- Approver id and name are snapshots: no foreign key to employees
	CREATE TABLE IF NOT EXISTS approval_steps (
		request_id TEXT NOT NULL REFERENCES leave_requests(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		approver_id TEXT NOT NULL,
		approver_name TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
		actioned_at TEXT,
		comments TEXT,
		PRIMARY KEY (request_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_approval_steps_approver ON approval_steps(approver_id, status);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		balance_after TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_employee ON ledger_entries(employee_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset deletes all data. Development only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"approval_steps", "leave_requests", "ledger_entries", "employee_roles", "employees"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (timeoff.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store timeoff.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx, parent: s})
	})
}

// inTx assumes s.mu is held.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the view handed to WithTx callbacks. The parent lock is
// already held, so it goes straight to the statements.
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

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
