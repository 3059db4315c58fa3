package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COLLECTIONS - Line-wide cash flow view
// =============================================================================

type FlowKind string

const (
	FlowReceived FlowKind = "received"
	FlowGiven    FlowKind = "given"
)

// CollectionFilter narrows the view. Empty Days means every day of the
// line. Date wins over From/To.
type CollectionFilter struct {
	Days []string
	Date Date
	From Date
	To   Date
}

func (f CollectionFilter) match(d Date) bool {
	if !f.Date.IsZero() {
		return d.Equal(f.Date)
	}
	return d.InRange(f.From, f.To)
}

type CollectionEntry struct {
	ID           string          `json:"id"`
	Kind         FlowKind        `json:"kind"`
	Type         TxType          `json:"type"`
	Day          string          `json:"day"`
	Date         Date            `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	CustomerID   string          `json:"customerId"`
	CustomerName string          `json:"customerName"`
	InternalID   string          `json:"internalId"`
	Comment      string          `json:"comment,omitempty"`
	Source       Source          `json:"source,omitempty"`
	Deleted      bool            `json:"isDeleted"`
	Restored     bool            `json:"isRestored"`
}

type CollectionTotals struct {
	Incoming decimal.Decimal `json:"incoming"`
	Going    decimal.Decimal `json:"going"`
	NetFlow  decimal.Decimal `json:"netFlow"`
}

type Collections struct {
	Incoming    []CollectionEntry `json:"incomingTransactions"`
	Going       []CollectionEntry `json:"goingTransactions"`
	Totals      CollectionTotals  `json:"totals"`
	UniqueDates []Date            `json:"uniqueDates"`
	Days        []string          `json:"days"`
}

// Collections lists money received and given on a line.
//
// Active customers are read live. A soft-deleted internalId that is not
// active again is expanded once, from its latest deletion record and that
// record's archive; earlier deletions of the same internalId are already
// contained in it.
func (e *Engine) Collections(ctx context.Context, lineID string, f CollectionFilter) (Collections, error) {
	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Collections{}, err
	}
	days := f.Days
	if len(days) == 0 {
		days = line.Days
	}
	wanted := make(map[string]bool, len(days))
	for _, d := range days {
		wanted[d] = true
	}

	state, err := e.LoadLineState(ctx, lineID)
	if err != nil {
		return Collections{}, err
	}

	out := Collections{Days: days}
	add := func(ce CollectionEntry) {
		if !f.match(ce.Date) {
			return
		}
		if ce.Kind == FlowReceived {
			out.Incoming = append(out.Incoming, ce)
		} else {
			out.Going = append(out.Going, ce)
		}
	}

	for _, cs := range state.Active {
		if !wanted[cs.Day] {
			continue
		}
		for _, ce := range flows(cs.Customer, cs.Day, cs.Transactions, false) {
			add(ce)
		}
	}

	deleted, err := ReadList[DeletedCustomerRecord](ctx, e.store, DeletedCustomersPath(lineID))
	if err != nil {
		return Collections{}, err
	}
	terminal := make(map[RecordRef]bool, len(state.Archived))
	for _, a := range state.Archived {
		terminal[a.Record] = true
	}
	for _, r := range deleted {
		if !terminal[r.Ref()] || r.IsRestored || !wanted[r.DeletedFrom] {
			continue
		}
		txs, err := ReadList[Transaction](ctx, e.store, ArchivedTransactionsPath(lineID, r.DeletedFrom, r.InternalID))
		if err != nil {
			return Collections{}, err
		}
		for _, ce := range flows(r.Customer, r.DeletedFrom, txs, true) {
			add(ce)
		}
	}

	sortEntries(out.Incoming)
	sortEntries(out.Going)
	out.Totals = totals(out.Incoming, out.Going)
	if f.Date.IsZero() {
		out.UniqueDates = uniqueDates(out.Incoming, out.Going)
	}
	return out, nil
}

// flows expands one customer's records into cash entries. The origin loan
// is reported at its taken amount, as are renewal and restored loans.
func flows(c Customer, day string, txs []Transaction, deleted bool) []CollectionEntry {
	base := CollectionEntry{
		Day:          day,
		CustomerID:   c.ID,
		CustomerName: c.Name,
		InternalID:   c.InternalID,
		Deleted:      deleted,
		Restored:     c.IsRestored(),
	}

	out := make([]CollectionEntry, 0, len(txs)+1)
	origin := base
	origin.ID = "origin_" + c.InternalID
	origin.Kind = FlowGiven
	origin.Type = TxCreation
	origin.Date = c.OriginLoan.Date
	origin.Amount = c.OriginLoan.TakenAmount
	origin.Comment = "Customer created"
	out = append(out, origin)

	for _, tx := range txs {
		ce := base
		ce.ID = tx.ID
		ce.Type = tx.Type
		ce.Date = tx.Date
		ce.Amount = tx.Amount
		ce.Comment = tx.Comment
		ce.Source = tx.Source
		if tx.CustomerName != "" {
			ce.CustomerName = tx.CustomerName
		}
		switch {
		case tx.IsLoanEvent():
			ce.Kind = FlowGiven
			if tx.Loan != nil {
				ce.Amount = tx.Loan.TakenAmount
			}
		case tx.Type == TxCreation:
			// Legacy creation records duplicate the origin entry.
			continue
		default:
			ce.Kind = FlowReceived
		}
		out = append(out, ce)
	}
	return out
}

func sortEntries(entries []CollectionEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })
}

func totals(incoming, going []CollectionEntry) CollectionTotals {
	t := CollectionTotals{Incoming: decimal.Zero, Going: decimal.Zero}
	for _, ce := range incoming {
		t.Incoming = t.Incoming.Add(ce.Amount)
	}
	for _, ce := range going {
		t.Going = t.Going.Add(ce.Amount)
	}
	t.NetFlow = t.Incoming.Sub(t.Going)
	return t
}

func uniqueDates(lists ...[]CollectionEntry) []Date {
	seen := make(map[string]bool)
	var out []Date
	for _, list := range lists {
		for _, ce := range list {
			if key := ce.Date.String(); !seen[key] {
				seen[key] = true
				out = append(out, ce.Date)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
