package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// REQUEST STORE (timeoff.RequestStore interface)
// =============================================================================

func (s *Store) CreateRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error { return createRequest(ctx, tx, r) })
}

func (s *Store) UpdateRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error { return updateRequest(ctx, tx, r) })
}

func (s *Store) GetRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func (s *Store) ListRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, f)
}

func (ts *txStore) CreateRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	return createRequest(ctx, ts.tx, r)
}

func (ts *txStore) UpdateRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	return updateRequest(ctx, ts.tx, r)
}

func (ts *txStore) GetRequest(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	return listRequests(ctx, ts.tx, f)
}

// =============================================================================
// STATEMENTS
// =============================================================================

const requestColumns = `
	r.id, r.employee_id, r.employee_name, r.leave_type, r.start_date, r.end_date,
	r.reason, r.status, r.created_at, r.actioned_at, r.version`

func createRequest(ctx context.Context, db dbtx, r *timeoff.LeaveRequest) error {
	if r.Version == 0 {
		r.Version = 1
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO leave_requests
		(id, employee_id, employee_name, leave_type, start_date, end_date, reason,
		 status, created_at, actioned_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.EmployeeID, r.EmployeeName, r.LeaveType,
		r.StartDate.String(), r.EndDate.String(), nullString(r.Reason),
		r.Status, formatTime(r.CreatedAt), nullTime(r.ActionedAt), r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}

	for i, step := range r.ApprovalChain {
		_, err := db.ExecContext(ctx, `
			INSERT INTO approval_steps
			(request_id, position, approver_id, approver_name, status, actioned_at, comments)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, i, step.ApproverID, step.ApproverName, step.Status, nullTime(step.ActionedAt), nullString(step.Comments))
		if err != nil {
			return fmt.Errorf("failed to insert approval step %d: %w", i, err)
		}
	}
	return nil
}

// updateRequest writes the mutable columns guarded by the version the caller read.
func updateRequest(ctx context.Context, db dbtx, r *timeoff.LeaveRequest) error {
	res, err := db.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, actioned_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, r.Status, nullTime(r.ActionedAt), r.ID, r.Version)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM leave_requests WHERE id = ?`, r.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return generic.ErrRequestNotFound
		}
		if err != nil {
			return err
		}
		return generic.ErrConcurrentModification
	}

	for i, step := range r.ApprovalChain {
		_, err := db.ExecContext(ctx, `
			UPDATE approval_steps SET status = ?, actioned_at = ?, comments = ?
			WHERE request_id = ? AND position = ?
		`, step.Status, nullTime(step.ActionedAt), nullString(step.Comments), r.ID, i)
		if err != nil {
			return fmt.Errorf("failed to update approval step %d: %w", i, err)
		}
	}

	r.Version++
	return nil
}

func getRequest(ctx context.Context, db dbtx, id string) (*timeoff.LeaveRequest, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+requestColumns+` FROM leave_requests r WHERE r.id = ?`, id)
	if err != nil {
		return nil, err
	}
	reqs, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, generic.ErrRequestNotFound
	}
	if err := loadSteps(ctx, db, reqs); err != nil {
		return nil, err
	}
	return &reqs[0], nil
}

func listRequests(ctx context.Context, db dbtx, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	query, args := buildListQuery(f)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	reqs, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}
	if err := loadSteps(ctx, db, reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func buildListQuery(f timeoff.RequestFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.EmployeeID != "" {
		where = append(where, "r.employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, f.Status)
	}
	if f.PendingApproverID != "" {
		where = append(where, `EXISTS (
			SELECT 1 FROM approval_steps s
			WHERE s.request_id = r.id AND s.approver_id = ? AND s.status = 'PENDING')`)
		args = append(args, f.PendingApproverID)
	}
	if f.CoversDate != nil {
		where = append(where, "r.start_date <= ? AND r.end_date >= ?")
		args = append(args, f.CoversDate.String(), f.CoversDate.String())
	}
	if f.Scope != nil {
		switch f.Scope.Kind {
		case timeoff.ScopeAll:
		case timeoff.ScopeBranch:
			where = append(where, "e.branch_id = ?")
			args = append(args, f.Scope.BranchID)
		case timeoff.ScopeDepartment:
			where = append(where, "e.department_id = ?")
			args = append(args, f.Scope.DepartmentID)
		case timeoff.ScopeDirectReports:
			where = append(where, "e.supervisor_id = ?")
			args = append(args, f.Scope.SupervisorID)
		default:
			where = append(where, "1 = 0")
		}
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + requestColumns + `
		FROM leave_requests r
		JOIN employees e ON e.id = r.employee_id`)
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if f.OldestFirst {
		b.WriteString("\n\t\tORDER BY r.created_at ASC, r.id ASC")
	} else {
		b.WriteString("\n\t\tORDER BY r.created_at DESC, r.id DESC")
	}
	return b.String(), args
}

// scanRequests drains and closes rows before any further statement runs on
// the same connection.
func scanRequests(rows *sql.Rows) ([]timeoff.LeaveRequest, error) {
	defer rows.Close()

	reqs := make([]timeoff.LeaveRequest, 0)
	for rows.Next() {
		var (
			r                   timeoff.LeaveRequest
			start, end, created string
			reason, actioned    sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.EmployeeID, &r.EmployeeName, &r.LeaveType, &start, &end,
			&reason, &r.Status, &created, &actioned, &r.Version,
		); err != nil {
			return nil, err
		}

		var err error
		if r.StartDate, err = generic.ParseDate(start); err != nil {
			return nil, err
		}
		if r.EndDate, err = generic.ParseDate(end); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.ActionedAt, err = parseNullTime(actioned); err != nil {
			return nil, err
		}
		r.Reason = reason.String
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func loadSteps(ctx context.Context, db dbtx, reqs []timeoff.LeaveRequest) error {
	for i := range reqs {
		steps, err := querySteps(ctx, db, reqs[i].ID)
		if err != nil {
			return err
		}
		reqs[i].ApprovalChain = steps
	}
	return nil
}

func querySteps(ctx context.Context, db dbtx, requestID string) ([]timeoff.ApprovalStep, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT approver_id, approver_name, status, actioned_at, comments
		FROM approval_steps WHERE request_id = ? ORDER BY position
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := make([]timeoff.ApprovalStep, 0)
	for rows.Next() {
		var (
			s                  timeoff.ApprovalStep
			actioned, comments sql.NullString
		)
		if err := rows.Scan(&s.ApproverID, &s.ApproverName, &s.Status, &actioned, &comments); err != nil {
			return nil, err
		}
		t, err := parseNullTime(actioned)
		if err != nil {
			return nil, err
		}
		s.ActionedAt = t
		s.Comments = comments.String
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
