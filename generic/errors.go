/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain errors are local and recoverable: they are reported to the caller
  and never retried inside the engine. Persistence failures are wrapped in
  PersistenceError so callers can tell them apart from domain rejections.

ERROR CATEGORIES:
  1. Validation errors - InvalidRange, InvalidDecision
  2. Balance errors - InsufficientBalance, DuplicateIdempotencyKey
  3. Workflow errors - NotFound, AlreadyTerminal, NotAuthorized
  4. Directory errors - BrokenOrgChart
  5. Store errors - Persistence, ConcurrentModification

USAGE:
    if errors.Is(err, generic.ErrInsufficientBalance) {
        var ib *generic.InsufficientBalanceError
        errors.As(err, &ib) // ib.Available, ib.Requested
    }

SEE ALSO:
  - ledger.go: Raises balance errors
  - timeoff/engine.go: Raises workflow errors
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRange is returned when a requested range holds no business days
	// or ends before it starts.
	ErrInvalidRange = errors.New("invalid leave range")

	// ErrInsufficientBalance is returned when a debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound is the root of every "unknown employee/request" error.
	ErrNotFound = errors.New("not found")

	// ErrEntityNotFound is returned when a referenced employee doesn't exist.
	ErrEntityNotFound = fmt.Errorf("entity %w", ErrNotFound)

	// ErrRequestNotFound is returned when a referenced leave request doesn't exist.
	ErrRequestNotFound = fmt.Errorf("request %w", ErrNotFound)

	// ErrAlreadyTerminal is returned when acting on an approved or rejected request.
	ErrAlreadyTerminal = errors.New("request already resolved")

	// ErrNotAuthorized is returned when the actor is not the active step's approver.
	ErrNotAuthorized = errors.New("actor is not the active approver")

	// ErrInvalidDecision is returned for a decision other than approve/reject.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrBrokenOrgChart is returned by a strict chain builder that meets a
	// reporting cycle or runs out of hops before reaching the top.
	ErrBrokenOrgChart = errors.New("broken org chart")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// key already exists. This is what makes double debit/credit impossible.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPersistence marks a storage failure that aborted the unit of work.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EntityID  EntityID
	Available Amount
	Requested Amount
	Shortfall Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %v, requested %v, shortfall %v",
		e.EntityID, e.Available.Value, e.Requested.Value, e.Shortfall.Value)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvalidRangeError reports the rejected range.
type InvalidRangeError struct {
	Start TimePoint
	End   TimePoint
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid leave range %s..%s: no business days", e.Start, e.End)
}

func (e *InvalidRangeError) Unwrap() error {
	return ErrInvalidRange
}

// AlreadyTerminalError reports the status that blocked the action.
type AlreadyTerminalError struct {
	RequestID string
	Status    string
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("request %s already %s", e.RequestID, e.Status)
}

func (e *AlreadyTerminalError) Unwrap() error {
	return ErrAlreadyTerminal
}

// NotAuthorizedError reports who tried to act and who is expected to.
type NotAuthorizedError struct {
	RequestID          string
	ActorID            EntityID
	ExpectedApproverID EntityID
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("%s cannot act on request %s: awaiting %s",
		e.ActorID, e.RequestID, e.ExpectedApproverID)
}

func (e *NotAuthorizedError) Unwrap() error {
	return ErrNotAuthorized
}

// BrokenOrgChartError names the employee where the supervisor walk stopped.
type BrokenOrgChartError struct {
	RequesterID EntityID
	At          EntityID
	Reason      string // "cycle" or "hop_limit"
}

func (e *BrokenOrgChartError) Error() string {
	return fmt.Sprintf("broken org chart for %s at %s: %s", e.RequesterID, e.At, e.Reason)
}

func (e *BrokenOrgChartError) Unwrap() error {
	return ErrBrokenOrgChart
}

// PersistenceError wraps a storage failure with the operation it aborted.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or an action the caller is not allowed to take.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDomainError reports whether err belongs to the engine's taxonomy and
// therefore must pass through a transaction boundary unwrapped.
func IsDomainError(err error) bool {
	return IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrBrokenOrgChart)
}
