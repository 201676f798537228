package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

func (s *Store) SaveEmployee(ctx context.Context, e timeoff.Employee) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()

		var inserted bool
		err := tx.QueryRowContext(ctx, `
			INSERT INTO employees (id, name, supervisor_id, branch_id, department_id, leave_balance, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				supervisor_id = EXCLUDED.supervisor_id,
				branch_id = EXCLUDED.branch_id,
				department_id = EXCLUDED.department_id,
				updated_at = EXCLUDED.updated_at
			RETURNING (xmax = 0)
		`, e.ID, e.Name, nullString(string(e.SupervisorID)), nullString(e.BranchID), nullString(e.DepartmentID), now).Scan(&inserted)
		if err != nil {
			return fmt.Errorf("failed to save employee: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM employee_roles WHERE employee_id = $1`, e.ID); err != nil {
			return fmt.Errorf("failed to clear roles: %w", err)
		}
		if len(e.Roles) > 0 {
			roles := make([]string, len(e.Roles))
			for i, r := range e.Roles {
				roles[i] = string(r)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO employee_roles (employee_id, role)
				SELECT $1, unnest($2::text[])
				ON CONFLICT DO NOTHING
			`, e.ID, pq.Array(roles))
			if err != nil {
				return fmt.Errorf("failed to save roles: %w", err)
			}
		}

		if inserted && e.LeaveBalance > 0 {
			_, err := s.applyEntry(ctx, tx, generic.Entry{
				ID:             generic.EntryID(uuid.NewString()),
				EntityID:       e.ID,
				Delta:          generic.Days(e.LeaveBalance),
				Type:           generic.EntryOpening,
				Reason:         "opening balance",
				IdempotencyKey: generic.IdempotencyKey(string(e.ID), generic.EntryOpening),
				CreatedAt:      now,
			})
			return err
		}
		return nil
	})
}

func (s *Store) ListEmployees(ctx context.Context) ([]timeoff.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.name, e.supervisor_id, e.branch_id, e.department_id, e.leave_balance,
			COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
		FROM employees e
		LEFT JOIN employee_roles r ON r.employee_id = e.id
		GROUP BY e.id
		ORDER BY e.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emps := make([]timeoff.Employee, 0)
	for rows.Next() {
		var (
			e                 timeoff.Employee
			sup, branch, dept sql.NullString
			roles             []string
		)
		if err := rows.Scan(&e.ID, &e.Name, &sup, &branch, &dept, &e.LeaveBalance, pq.Array(&roles)); err != nil {
			return nil, err
		}
		e.SupervisorID = generic.EntityID(sup.String)
		e.BranchID = branch.String
		e.DepartmentID = dept.String
		e.Roles = toRoleSet(roles)
		emps = append(emps, e)
	}
	return emps, rows.Err()
}

// =============================================================================
// ORG GRAPH
// =============================================================================

func (s *Store) GetEmployee(ctx context.Context, id generic.EntityID) (*timeoff.EmployeeRef, error) {
	ref := &timeoff.EmployeeRef{}
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM employees WHERE id = $1`, id).Scan(&ref.ID, &ref.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (s *Store) GetSupervisor(ctx context.Context, id generic.EntityID) (*timeoff.EmployeeRef, error) {
	var supID, supName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT sup.id, sup.name
		FROM employees e
		LEFT JOIN employees sup ON sup.id = e.supervisor_id
		WHERE e.id = $1
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
	var roles []string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
		FROM employees e
		LEFT JOIN employee_roles r ON r.employee_id = e.id
		WHERE e.id = $1
		GROUP BY e.id
	`, id).Scan(pq.Array(&roles))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return toRoleSet(roles), nil
}

func (s *Store) GetBranch(ctx context.Context, id generic.EntityID) (*timeoff.BranchRef, error) {
	var branch, dept sql.NullString
	if err := s.placement(ctx, id, &branch, &dept); err != nil || !branch.Valid {
		return nil, err
	}
	return &timeoff.BranchRef{ID: branch.String}, nil
}

func (s *Store) GetDepartment(ctx context.Context, id generic.EntityID) (*timeoff.DepartmentRef, error) {
	var branch, dept sql.NullString
	if err := s.placement(ctx, id, &branch, &dept); err != nil || !dept.Valid {
		return nil, err
	}
	return &timeoff.DepartmentRef{ID: dept.String}, nil
}

func (s *Store) placement(ctx context.Context, id generic.EntityID, branch, dept *sql.NullString) error {
	err := s.db.QueryRowContext(ctx,
		`SELECT branch_id, department_id FROM employees WHERE id = $1`, id).Scan(branch, dept)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.ErrEntityNotFound
	}
	return err
}

func toRoleSet(roles []string) timeoff.RoleSet {
	out := make(timeoff.RoleSet, 0, len(roles))
	for _, r := range roles {
		out = append(out, timeoff.RoleName(r))
	}
	return out
}
