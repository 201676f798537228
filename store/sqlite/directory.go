package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// DIRECTORY (timeoff.Directory interface)
// =============================================================================

// SaveEmployee upserts an employee and replaces their roles. A new employee's
// LeaveBalance is recorded as an opening ledger entry.
func (s *Store) SaveEmployee(ctx context.Context, e timeoff.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(s.now())

		exists, err := employeeExists(ctx, tx, e.ID)
		if err != nil {
			return err
		}

		if exists {
			_, err = tx.ExecContext(ctx, `
				UPDATE employees
				SET name = ?, supervisor_id = ?, branch_id = ?, department_id = ?, updated_at = ?
				WHERE id = ?
			`, e.Name, nullString(string(e.SupervisorID)), nullString(e.BranchID), nullString(e.DepartmentID), now, e.ID)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO employees (id, name, supervisor_id, branch_id, department_id, leave_balance, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, 0, ?, ?)
			`, e.ID, e.Name, nullString(string(e.SupervisorID)), nullString(e.BranchID), nullString(e.DepartmentID), now, now)
		}
		if err != nil {
			return fmt.Errorf("failed to save employee: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM employee_roles WHERE employee_id = ?`, e.ID); err != nil {
			return fmt.Errorf("failed to clear roles: %w", err)
		}
		for _, role := range e.Roles {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO employee_roles (employee_id, role) VALUES (?, ?)`, e.ID, role); err != nil {
				return fmt.Errorf("failed to save role: %w", err)
			}
		}

		if !exists && e.LeaveBalance > 0 {
			_, err := s.applyEntry(ctx, tx, generic.Entry{
				ID:             generic.EntryID(uuid.NewString()),
				EntityID:       e.ID,
				Delta:          generic.Days(e.LeaveBalance),
				Type:           generic.EntryOpening,
				Reason:         "opening balance",
				IdempotencyKey: generic.IdempotencyKey(string(e.ID), generic.EntryOpening),
				CreatedAt:      s.now().UTC(),
			})
			return err
		}
		return nil
	})
}

// ListEmployees returns all employees with their current balance.
func (s *Store) ListEmployees(ctx context.Context) ([]timeoff.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, supervisor_id, branch_id, department_id, leave_balance
		FROM employees ORDER BY id
	`)
	if err != nil {
		return nil, err
	}

	var emps []timeoff.Employee
	for rows.Next() {
		var e timeoff.Employee
		var supervisor, branch, dept sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &supervisor, &branch, &dept, &e.LeaveBalance); err != nil {
			rows.Close()
			return nil, err
		}
		e.SupervisorID = generic.EntityID(supervisor.String)
		e.BranchID = branch.String
		e.DepartmentID = dept.String
		emps = append(emps, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range emps {
		roles, err := queryRoles(ctx, s.db, emps[i].ID)
		if err != nil {
			return nil, err
		}
		emps[i].Roles = roles
	}
	return emps, nil
}

// =============================================================================
// ORG GRAPH (timeoff.OrgGraph interface)
// =============================================================================

func (s *Store) GetEmployee(ctx context.Context, id generic.EntityID) (*timeoff.EmployeeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref := &timeoff.EmployeeRef{}
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM employees WHERE id = ?`, id).Scan(&ref.ID, &ref.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// GetSupervisor treats a supervisor id that no longer resolves as the top
// of the hierarchy.
func (s *Store) GetSupervisor(ctx context.Context, id generic.EntityID) (*timeoff.EmployeeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var supID, supName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT sup.id, sup.name
		FROM employees e
		LEFT JOIN employees sup ON sup.id = e.supervisor_id
		WHERE e.id = ?
	`, id).Scan(&supID, &supName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	if !supID.Valid {
		return nil, nil
	}
	return &timeoff.EmployeeRef{ID: generic.EntityID(supID.String), Name: supName.String}, nil
}

func (s *Store) GetRoles(ctx context.Context, id generic.EntityID) (timeoff.RoleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := employeeExists(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, generic.ErrEntityNotFound
	}
	return queryRoles(ctx, s.db, id)
}

func (s *Store) GetBranch(ctx context.Context, id generic.EntityID) (*timeoff.BranchRef, error) {
	branch, err := s.placementColumn(ctx, id, "branch_id")
	if err != nil || branch == "" {
		return nil, err
	}
	return &timeoff.BranchRef{ID: branch}, nil
}

func (s *Store) GetDepartment(ctx context.Context, id generic.EntityID) (*timeoff.DepartmentRef, error) {
	dept, err := s.placementColumn(ctx, id, "department_id")
	if err != nil || dept == "" {
		return nil, err
	}
	return &timeoff.DepartmentRef{ID: dept}, nil
}

// placementColumn reads branch_id or department_id; column is never user input.
func (s *Store) placementColumn(ctx context.Context, id generic.EntityID, column string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT `+column+` FROM employees WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", generic.ErrEntityNotFound
	}
	if err != nil {
		return "", err
	}
	return v.String, nil
}

func employeeExists(ctx context.Context, db dbtx, id generic.EntityID) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM employees WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func queryRoles(ctx context.Context, db dbtx, id generic.EntityID) (timeoff.RoleSet, error) {
	rows, err := db.QueryContext(ctx, `SELECT role FROM employee_roles WHERE employee_id = ? ORDER BY role`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles timeoff.RoleSet
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, timeoff.RoleName(r))
	}
	return roles, rows.Err()
}
