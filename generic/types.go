/*
Package generic provides the domain-agnostic core of the leave engine.

PURPOSE:
  This package contains the types and algorithms that do not know what a
  leave request is: quantities of days, the balance ledger with its
  append-only journal, calendar arithmetic, and the error taxonomy shared
  by every layer. The timeoff package builds the approval workflow on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (always whole days for leave balances)
  - Entry: An immutable ledger journal record of one balance change
  - EntityID: Type-safe identifier for the employee owning a balance

DESIGN PRINCIPLES:
  1. Immutability: Journal entries are never modified, only offset
  2. Precision: Uses decimal.Decimal so balances never drift
  3. Type Safety: Strong typing for IDs prevents mixing employee/request IDs
  4. Auditability: Every entry has a reference and an idempotency key

USAGE:
  amount := generic.NewAmountFromInt(5, generic.UnitDays)
  entry := generic.Entry{
      EntityID:       "emp-123",
      Delta:          amount.Neg(),
      Type:           generic.EntryDebit,
      ReferenceID:    "req-1",
      IdempotencyKey: "req-1:debit",
  }

SEE ALSO:
  - ledger.go: Debit/Credit over a BalanceStore
  - store.go: Persistence interfaces
  - time.go: Business-day calculation
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays Unit = "days"
)

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

// Days is shorthand for a whole-day amount.
func Days(n int) Amount { return NewAmountFromInt(n, UnitDays) }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }

// Int returns the whole-day part. Leave balances are integral.
func (a Amount) Int() int { return int(a.Value.IntPart()) }

func (a Amount) String() string { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type EntryID string

// =============================================================================
// LEDGER ENTRY - Atomic change to a balance
// =============================================================================

type EntryType string

const (
	EntryOpening EntryType = "opening" // Initial balance recorded when an employee is seeded
	EntryDebit   EntryType = "debit"   // Days reserved at submission
	EntryCredit  EntryType = "credit"  // Days restored on rejection
)

type Entry struct {
	ID             EntryID
	EntityID       EntityID
	Delta          Amount
	Type           EntryType
	ReferenceID    string // request that caused the change
	Reason         string
	IdempotencyKey string
	BalanceAfter   Amount
	CreatedAt      time.Time
}
