/*
balance.go - Balance-forward (BF) computation

PURPOSE:
  BF is the cash a line holds: what it started with, minus every principal
  it has disbursed, plus every payment it has collected, plus the net of
  the manual accounts ledger. Line.CurrentBF caches it.

  Two pure functions maintain the cache:

    Recompute(state)       derives BF from an explicit LineState
    ApplyDelta(bf, event)  moves a cached BF by one operation's effect

  Both are stateless; the Engine loads the state, calls one of them and
  writes the result back.

FULL RECOMPUTATION:
  BF = initialAmount
     + Σ contribution(c)   for every ACTIVE internalId c
     + Σ frozenNet(d)      for every soft-deleted internalId d not active
     + accountNet

  contribution(c) = - principal(origin loan)
                    - Σ principal(renewal and restored-loan records)
                    + Σ amount(payment records)

  Records of a soft-deleted internalId are never read. Its net effect was
  frozen into the DeletedCustomerRecord at deletion time (NetContribution),
  which is exactly what BF already held for it. That makes soft-delete a
  no-op on BF and restore free of double counting: once reactivated, the
  internalId is counted live again and its frozen value drops out.

INCREMENTAL UPDATE:
  Create / Restore / Renewal   BF -= principal(new loan)
  Payment add                  BF += amount
  Payment edit                 BF += (new - old)
  Payment delete               BF -= amount
  Loan edit                    BF += principal(old) - principal(new)
  Account entry                BF += credit - debit
  SoftDelete                   no change

EXAMPLE:
  initialAmount 50000
  create A 12000/2000/0    -> 40000
  pay 12000                -> 52000
  soft-delete A            -> 52000
  restore A as B 5000/1000 -> 48000
  pay 5000                 -> 53000

SEE ALSO:
  - snapshot.go: loads LineState from the record store
  - lifecycle.go: emits the BalanceEvent for each operation
*/
package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// LINE STATE - Explicit input to Recompute
// =============================================================================

// CustomerState is an active customer with its transactions record.
type CustomerState struct {
	Customer     Customer
	Day          string
	Transactions []Transaction
}

// ArchivedContribution is the frozen net of an inactive, soft-deleted internalId.
type ArchivedContribution struct {
	InternalID string
	Record     RecordRef
	Net        decimal.Decimal
}

// LineState is everything BF depends on, captured at one instant.
type LineState struct {
	LineID        string
	LineFound     bool
	InitialAmount decimal.Decimal
	Active        []CustomerState
	Archived      []ArchivedContribution
	AccountNet    decimal.Decimal
}

// Breakdown itemises a recomputed BF.
type Breakdown struct {
	InitialAmount decimal.Decimal `json:"initialAmount"`
	NetGiven      decimal.Decimal `json:"totalNetGiven"`
	Collected     decimal.Decimal `json:"totalCollected"`
	ArchivedNet   decimal.Decimal `json:"archivedNet"`
	AccountNet    decimal.Decimal `json:"accountNet"`
	BF            decimal.Decimal `json:"bf"`
}

// =============================================================================
// FULL RECOMPUTE
// =============================================================================

// Recompute derives BF from state. A missing line contributes an
// initialAmount of zero.
func Recompute(state LineState) Breakdown {
	b := Breakdown{
		InitialAmount: state.InitialAmount,
		NetGiven:      decimal.Zero,
		Collected:     decimal.Zero,
		ArchivedNet:   decimal.Zero,
		AccountNet:    state.AccountNet,
	}
	if !state.LineFound {
		b.InitialAmount = decimal.Zero
	}

	for _, cs := range state.Active {
		given, collected := customerFlows(cs)
		b.NetGiven = b.NetGiven.Add(given)
		b.Collected = b.Collected.Add(collected)
	}
	for _, a := range state.Archived {
		b.ArchivedNet = b.ArchivedNet.Add(a.Net)
	}

	b.BF = b.InitialAmount.
		Sub(b.NetGiven).
		Add(b.Collected).
		Add(b.ArchivedNet).
		Add(b.AccountNet)
	return b
}

// Contribution is an internalId's whole-life effect on BF.
func Contribution(cs CustomerState) decimal.Decimal {
	given, collected := customerFlows(cs)
	return collected.Sub(given)
}

func customerFlows(cs CustomerState) (given, collected decimal.Decimal) {
	given = cs.Customer.OriginLoan.Principal()
	collected = decimal.Zero
	for _, tx := range cs.Transactions {
		switch {
		case tx.Type == TxPayment:
			collected = collected.Add(tx.Amount)
		case tx.IsLoanEvent():
			given = given.Add(tx.Principal())
		}
	}
	return given, collected
}

// =============================================================================
// INCREMENTAL UPDATE
// =============================================================================

type EventKind string

const (
	EventLoanCreated    EventKind = "loan_created"
	EventLoanRestored   EventKind = "loan_restored"
	EventLoanRenewed    EventKind = "loan_renewed"
	EventLoanEdited     EventKind = "loan_edited"
	EventPaymentAdded   EventKind = "payment_added"
	EventPaymentEdited  EventKind = "payment_edited"
	EventPaymentDeleted EventKind = "payment_deleted"
	EventSoftDeleted    EventKind = "soft_deleted"
	EventAccountEntry   EventKind = "account_entry"
)

// BalanceEvent is one operation's effect on BF.
type BalanceEvent struct {
	Kind EventKind

	// Amount is the payment amount (added, deleted, or new value of an edit)
	// or the net of an account entry change.
	Amount decimal.Decimal
	// OldAmount is the previous payment amount for edits.
	OldAmount decimal.Decimal

	// Loan is the new loan for create/restore/renew/edit; OldLoan the
	// replaced terms for edits.
	Loan    LoanTerms
	OldLoan LoanTerms
}

// ApplyDelta returns bf moved by ev.
func ApplyDelta(bf decimal.Decimal, ev BalanceEvent) decimal.Decimal {
	switch ev.Kind {
	case EventLoanCreated, EventLoanRestored, EventLoanRenewed:
		return bf.Sub(ev.Loan.Principal())
	case EventLoanEdited:
		return bf.Add(ev.OldLoan.Principal()).Sub(ev.Loan.Principal())
	case EventPaymentAdded:
		return bf.Add(ev.Amount)
	case EventPaymentEdited:
		return bf.Add(ev.Amount.Sub(ev.OldAmount))
	case EventPaymentDeleted:
		return bf.Sub(ev.Amount)
	case EventAccountEntry:
		return bf.Add(ev.Amount)
	default:
		return bf
	}
}
