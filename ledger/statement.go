package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATEMENT - Per-customer rows aggregated by date
// =============================================================================

type StatementRow struct {
	Date     Date            `json:"date"`
	Taken    decimal.Decimal `json:"taken"`
	Received decimal.Decimal `json:"received"`
}

type StatementTotals struct {
	Taken     decimal.Decimal `json:"taken"`
	Received  decimal.Decimal `json:"received"`
	Remaining decimal.Decimal `json:"remaining"`
}

type Statement struct {
	LineID       string          `json:"lineId"`
	Day          string          `json:"day"`
	CustomerID   string          `json:"customerId"`
	CustomerName string          `json:"customerName"`
	Village      string          `json:"village,omitempty"`
	Deleted      bool            `json:"deleted"`
	Current      LoanTerms       `json:"currentLoan"`
	Rows         []StatementRow  `json:"rows"`
	Totals       StatementTotals `json:"totals"`
}

// CustomerStatement summarizes an active customer's timeline by date.
// Remaining refers to the current loan.
func (e *Engine) CustomerStatement(ctx context.Context, lineID, day, displayID string) (Statement, error) {
	tl, err := e.CustomerTimeline(ctx, lineID, day, displayID)
	if err != nil {
		return Statement{}, err
	}
	remaining := decimal.Zero
	if tl.Loan != nil {
		remaining = tl.Loan.Remaining
	}
	return statementOf(tl, remaining), nil
}

// DeletedCustomerStatement summarizes the history up to one deletion record.
func (e *Engine) DeletedCustomerStatement(ctx context.Context, lineID, displayID, day string, ts int64) (Statement, error) {
	tl, err := e.DeletedCustomerTimeline(ctx, lineID, displayID, day, ts)
	if err != nil {
		return Statement{}, err
	}
	remaining := decimal.Zero
	if n := len(tl.Cycles); n > 0 {
		remaining = tl.Cycles[n-1].Remaining
	}
	return statementOf(tl, remaining), nil
}

func statementOf(tl Timeline, remaining decimal.Decimal) Statement {
	byDate := make(map[string]*StatementRow)
	var keys []string
	row := func(d Date) *StatementRow {
		k := d.String()
		r, ok := byDate[k]
		if !ok {
			r = &StatementRow{Date: d, Taken: decimal.Zero, Received: decimal.Zero}
			byDate[k] = r
			keys = append(keys, k)
		}
		return r
	}

	st := Statement{
		LineID:       tl.LineID,
		Day:          tl.Day,
		CustomerID:   tl.DisplayID,
		CustomerName: tl.Customer.Name,
		Village:      tl.Customer.Village,
		Deleted:      tl.Deleted,
		Current:      tl.Customer.LoanTerms,
		Totals:       StatementTotals{Taken: decimal.Zero, Received: decimal.Zero, Remaining: remaining},
	}
	for _, ev := range tl.Events {
		switch ev.Tag {
		case TagNewLoan, TagRenewal, TagRestoredLoan:
			r := row(ev.Date)
			r.Taken = r.Taken.Add(ev.Amount)
			st.Totals.Taken = st.Totals.Taken.Add(ev.Amount)
		case TagPayment:
			r := row(ev.Date)
			r.Received = r.Received.Add(ev.Amount)
			st.Totals.Received = st.Totals.Received.Add(ev.Amount)
		}
	}

	sort.Strings(keys)
	st.Rows = make([]StatementRow, 0, len(keys))
	for _, k := range keys {
		st.Rows = append(st.Rows, *byDate[k])
	}
	return st
}
