/*
errors.go - Error taxonomy for the ledger

PURPOSE:
  Every error leaving this package belongs to exactly one kind:

    NotFound  line, customer, transaction or deleted record absent
    Conflict  duplicate displayId, already-restored record, outstanding
              balance blocking a renewal, duplicate day
    Invalid   missing or malformed input, non-positive loan
    Internal  record-store I/O failure

  Callers branch on the kind with errors.Is (or the Is* helpers below) and
  show the message to the user.

VALIDATION BEFORE WRITES:
  NotFound, Conflict and Invalid are always raised before the first write
  of an operation. Internal errors can surface mid-operation; see
  lifecycle.go for which writes may already have landed.

SEE ALSO:
  - api/handlers.go: maps kinds to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KINDS
// =============================================================================

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
	ErrInternal = errors.New("internal error")
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLineNotFound is returned when an operation addresses an unknown line.
	ErrLineNotFound = kindError{kind: ErrNotFound, msg: "line not found"}

	// ErrCustomerNotFound is returned when a displayId has no active customer
	// on the given line and day.
	ErrCustomerNotFound = kindError{kind: ErrNotFound, msg: "customer not found"}

	// ErrDayNotFound is returned when a day is not one of the line's sub-ledgers.
	ErrDayNotFound = kindError{kind: ErrNotFound, msg: "day not found"}

	// ErrDeletedCustomerNotFound is returned when no deleted record matches
	// the requested (displayId, day, deletionTimestamp).
	ErrDeletedCustomerNotFound = kindError{kind: ErrNotFound, msg: "deleted customer not found"}

	ErrTransactionNotFound = kindError{kind: ErrNotFound, msg: "transaction not found"}

	// ErrDuplicateID is returned when a displayId is already active on the day.
	ErrDuplicateID = kindError{kind: ErrConflict, msg: "customer id already exists"}

	// ErrAlreadyRestored is returned when restoring a record a second time.
	ErrAlreadyRestored = kindError{kind: ErrConflict, msg: "customer already restored"}

	// ErrOutstandingBalance is returned when a renewal is attempted before the
	// current cycle is settled.
	ErrOutstandingBalance = kindError{kind: ErrConflict, msg: "pending balance must be cleared before renewal"}

	ErrDuplicateDay  = kindError{kind: ErrConflict, msg: "day already exists"}
	ErrDuplicateLine = kindError{kind: ErrConflict, msg: "line already exists"}

	// ErrInvalidLoan is returned for loans that move no cash (principal <= 0).
	ErrInvalidLoan = kindError{kind: ErrInvalid, msg: "invalid loan terms"}
)

// kindError is a sentinel that also matches its kind under errors.Is.
type kindError struct {
	kind error
	msg  string
}

func (e kindError) Error() string        { return e.msg }
func (e kindError) Is(target error) bool { return target == e.kind }

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
	base    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.base != nil {
		return e.base
	}
	return ErrInvalid
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func invalidLoan(field, message string) error {
	return &ValidationError{Field: field, Message: message, base: ErrInvalidLoan}
}

// DuplicateIDError names the displayId that is already taken.
type DuplicateIDError struct {
	LineID    string
	Day       string
	DisplayID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("customer id %s already exists on %s/%s", e.DisplayID, e.LineID, e.Day)
}

func (e *DuplicateIDError) Unwrap() error { return ErrDuplicateID }

// AlreadyRestoredError says where a deleted record went.
type AlreadyRestoredError struct {
	Ref          RecordRef
	RestoredAs   string
	RestoredDate *time.Time
}

func (e *AlreadyRestoredError) Error() string {
	return fmt.Sprintf("customer already restored as %s", e.RestoredAs)
}

func (e *AlreadyRestoredError) Unwrap() error { return ErrAlreadyRestored }

// OutstandingBalanceError carries what is still owed on the current cycle.
type OutstandingBalanceError struct {
	DisplayID string
	TotalOwed decimal.Decimal
	TotalPaid decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OutstandingBalanceError) Error() string {
	return fmt.Sprintf("customer %s has pending balance %s (owed %s, paid %s)",
		e.DisplayID, e.Remaining, e.TotalOwed, e.TotalPaid)
}

func (e *OutstandingBalanceError) Unwrap() error { return ErrOutstandingBalance }

// StoreError wraps a record-store failure.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrInternal, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
func IsInvalid(err error) bool  { return errors.Is(err, ErrInvalid) }

// IsClientError returns true if the caller can fix the request.
func IsClientError(err error) bool {
	return IsNotFound(err) || IsConflict(err) || IsInvalid(err)
}

// KindOf returns the kind sentinel for err; unknown errors are Internal.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return ErrNotFound
	case IsConflict(err):
		return ErrConflict
	case IsInvalid(err):
		return ErrInvalid
	default:
		return ErrInternal
	}
}
