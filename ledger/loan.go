package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LOAN STATUS - Current cycle of one customer
// =============================================================================

// LoanStatus describes the loan a customer is repaying now.
//
// The current loan is the latest renewal or restored-loan record; without
// one it is the origin loan. Only payments recorded at or after the start
// of that cycle count toward it.
type LoanStatus struct {
	Current    LoanTerms       `json:"current"`
	EventID    string          `json:"eventId,omitempty"`
	EventType  TxType          `json:"eventType"`
	CycleStart time.Time       `json:"cycleStart"`
	TotalOwed  decimal.Decimal `json:"totalOwed"`
	TotalPaid  decimal.Decimal `json:"totalPaid"`
	Remaining  decimal.Decimal `json:"remainingAmount"`
}

func (s LoanStatus) Settled() bool { return !s.Remaining.IsPositive() }

func (e *Engine) loanStatus(c Customer, txs []Transaction) LoanStatus {
	st := LoanStatus{
		Current:    c.OriginLoan,
		EventType:  TxCreation,
		CycleStart: customerStart(c),
	}

	if i := e.latestLoanEvent(txs); i >= 0 {
		ev := txs[i]
		st.Current = *ev.Loan
		st.EventID = ev.ID
		st.EventType = ev.Type
		st.CycleStart = ev.Instant()
	}

	paid := decimal.Zero
	for _, tx := range txs {
		if tx.Type == TxPayment && recordedSince(tx, st.CycleStart) {
			paid = paid.Add(tx.Amount)
		}
	}

	st.TotalOwed = st.Current.TakenAmount
	st.TotalPaid = paid
	st.Remaining = st.TotalOwed.Sub(paid)
	return st
}

// latestLoanEvent returns the index of the latest renewal or restored-loan
// record, or -1.
func (e *Engine) latestLoanEvent(txs []Transaction) int {
	latest := -1
	for i, tx := range txs {
		if !tx.IsLoanEvent() || tx.Loan == nil {
			continue
		}
		if latest < 0 || e.isLater(tx.Instant(), txs[latest].Instant(), i, latest) {
			latest = i
		}
	}
	return latest
}

func customerStart(c Customer) time.Time {
	if !c.CreatedAt.IsZero() {
		return c.CreatedAt
	}
	return c.OriginLoan.Date.Time()
}

// recordedSince compares by recorded-at time when the record has one and by
// calendar day otherwise.
func recordedSince(tx Transaction, start time.Time) bool {
	if !tx.CreatedAt.IsZero() {
		return !tx.CreatedAt.Before(start)
	}
	return !tx.Date.Before(DateOf(start))
}
