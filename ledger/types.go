/*
Package ledger provides the core of the field-collection ledger.

PURPOSE:
  Tracks lines (collection routes), the customers that borrow on them, the
  payments, renewals and restored loans filed under each customer, and the
  line's running cash balance ("BF", balance forward). Every other package
  in this repository is an adapter around this one: stores persist its
  records, the API exposes its operations, reports render its views.

KEY CONCEPTS IN THIS FILE (types.go):
  - Line: a collection route with an opening amount and a cached BF
  - LoanTerms: takenAmount, interest, pc, date, weeks; principal is derived
  - Customer: displayId (reusable) + internalId (permanent)
  - Provenance: present only on customers reactivated by a restore
  - Transaction: payment, renewal or restored-loan record, append-only
  - DeletedCustomerRecord: archival snapshot written at soft-delete time
  - RecordRef: typed back-reference linking a restoration chain

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal
  2. Identity: internalId is minted once and never reused; all history is
     filed under it regardless of how often the displayId changes
  3. Auditability: transactions survive soft-deletes; only an explicit
     transaction delete removes one
  4. Derived balance: Line.CurrentBF is a cache of Recompute (balance.go)

USAGE:
  engine := ledger.NewEngine(store.NewMemory())
  line, _ := engine.CreateLine(ctx, ledger.LineInput{Name: "North", InitialAmount: d(50000)})
  c, _ := engine.CreateCustomer(ctx, line.ID, "Monday", ledger.CustomerInput{...})

SEE ALSO:
  - balance.go: Recompute and ApplyDelta
  - lifecycle.go: create / pay / renew / delete / restore
  - timeline.go: history reconstruction across restoration chains
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LINE - Collection route with a cached running balance
// =============================================================================

type LineType string

const (
	LineDaily  LineType = "Daily"
	LineWeekly LineType = "Weekly"
)

type Line struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          LineType        `json:"type"`
	Days          []string        `json:"days"`
	InitialAmount decimal.Decimal `json:"amount"`
	CurrentBF     decimal.Decimal `json:"currentBF"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// HasDay reports whether day is one of the line's sub-ledgers.
func (l Line) HasDay(day string) bool {
	for _, d := range l.Days {
		if d == day {
			return true
		}
	}
	return false
}

// =============================================================================
// LOAN TERMS
// =============================================================================

// LoanTerms describes one disbursement. TakenAmount is the gross amount the
// borrower owes; Principal is the cash that actually left the till.
type LoanTerms struct {
	TakenAmount decimal.Decimal `json:"takenAmount"`
	Interest    decimal.Decimal `json:"interest"`
	PC          decimal.Decimal `json:"pc"`
	Date        Date            `json:"date"`
	Weeks       int             `json:"weeks"`
}

func (t LoanTerms) Principal() decimal.Decimal {
	return t.TakenAmount.Sub(t.Interest).Sub(t.PC)
}

// Validate rejects loans that would not move cash out of the till.
func (t LoanTerms) Validate() error {
	switch {
	case !t.TakenAmount.IsPositive():
		return invalidLoan("takenAmount", "must be greater than zero")
	case t.Interest.IsNegative():
		return invalidLoan("interest", "must not be negative")
	case t.PC.IsNegative():
		return invalidLoan("pc", "must not be negative")
	case !t.Principal().IsPositive():
		return invalidLoan("takenAmount", "must exceed interest + pc")
	case t.Weeks < 0:
		return invalidLoan("weeks", "must not be negative")
	case t.Date.IsZero():
		return invalidLoan("date", "is required")
	}
	return nil
}

// =============================================================================
// CUSTOMER - Fresh or Restored
// =============================================================================

// Customer is a borrower on one line and one day.
//
// LoanTerms always mirrors the current loan (creation, latest renewal or
// latest restoration). OriginLoan is the loan the internalId was created
// with and never changes after creation except through an edit of that
// same loan.
//
// A customer is either Fresh (Restored == nil) or Restored (Restored != nil);
// provenance fields exist only in the Restored variant.
type Customer struct {
	ID         string `json:"id"`
	InternalID string `json:"internalId"`
	Name       string `json:"name"`
	Village    string `json:"village,omitempty"`
	Phone      string `json:"phone,omitempty"`

	LoanTerms
	OriginLoan LoanTerms   `json:"originLoan"`
	Restored   *Provenance `json:"restoredFrom,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Provenance records which deleted record a customer was reactivated from.
type Provenance struct {
	FromDisplayID string    `json:"fromId"`
	Record        RecordRef `json:"record"`
	RestoredAt    time.Time `json:"restoredAt"`
}

func (c Customer) IsRestored() bool { return c.Restored != nil }

// =============================================================================
// TRANSACTIONS - Append-only records filed per internalId
// =============================================================================

type TxType string

const (
	TxPayment  TxType = "payment"
	TxRenewal  TxType = "renewal"
	TxRestored TxType = "restored"
	// TxCreation never appears in a transactions record; it tags the
	// synthetic creation-loan entry in timelines and collections.
	TxCreation TxType = "customer_creation"
)

type Source string

const (
	SourceQuick Source = "quick"
	SourceChat  Source = "chat"
)

type Transaction struct {
	ID           string          `json:"id"`
	Type         TxType          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Date         Date            `json:"date"`
	Comment      string          `json:"comment,omitempty"`
	CustomerName string          `json:"customerName,omitempty"`
	Source       Source          `json:"source,omitempty"`

	// Loan is set for renewal and restored records only.
	Loan *LoanTerms `json:"loan,omitempty"`

	IsEdited  bool       `json:"isEdited,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (t Transaction) IsLoanEvent() bool {
	return t.Type == TxRenewal || t.Type == TxRestored
}

// Principal is the cash disbursed by a loan event, zero for payments.
func (t Transaction) Principal() decimal.Decimal {
	if !t.IsLoanEvent() || t.Loan == nil {
		return decimal.Zero
	}
	return t.Loan.Principal()
}

// Instant orders records: the recorded-at time when present, else the date.
func (t Transaction) Instant() time.Time {
	if !t.CreatedAt.IsZero() {
		return t.CreatedAt
	}
	return t.Date.Time()
}

// ChatMessage is a free-text comment on a customer.
type ChatMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Date      Date      `json:"date"`
	CreatedAt time.Time `json:"timestamp"`
}

func (m ChatMessage) Instant() time.Time {
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt
	}
	return m.Date.Time()
}

// =============================================================================
// DELETED CUSTOMER RECORD - One per soft-delete event
// =============================================================================

// RecordRef identifies a DeletedCustomerRecord within a line.
type RecordRef struct {
	InternalID        string `json:"internalId"`
	DeletionTimestamp int64  `json:"deletionTimestamp"`
}

// DeletedCustomerRecord is the archival snapshot written by SoftDelete.
// Several records may share an internalId; DeletionTimestamp tells them apart.
type DeletedCustomerRecord struct {
	Customer          Customer  `json:"customer"`
	InternalID        string    `json:"internalId"`
	DeletedFrom       string    `json:"deletedFrom"`
	DeletionTimestamp int64     `json:"deletionTimestamp"`
	DeletedAt         time.Time `json:"deletedAt"`

	// NetContribution is the internalId's whole-life effect on BF at the
	// moment of deletion. It stands in for the internalId while inactive.
	NetContribution     decimal.Decimal `json:"netContribution"`
	RemainingAtDeletion decimal.Decimal `json:"remainingAtDeletion"`

	// Predecessor points at the record this customer was restored from.
	Predecessor *RecordRef `json:"predecessor,omitempty"`

	IsRestored   bool       `json:"isRestored"`
	RestoredAs   string     `json:"restoredAs,omitempty"`
	RestoredDate *time.Time `json:"restoredDate,omitempty"`

	RestorationInvalidated bool       `json:"restorationInvalidated,omitempty"`
	InvalidatedAt          *time.Time `json:"invalidatedDate,omitempty"`
	InvalidatedReason      string     `json:"invalidatedReason,omitempty"`
}

func (r DeletedCustomerRecord) Ref() RecordRef {
	return RecordRef{InternalID: r.InternalID, DeletionTimestamp: r.DeletionTimestamp}
}

func (r DeletedCustomerRecord) DisplayID() string { return r.Customer.ID }
