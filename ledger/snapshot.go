package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SNAPSHOT - Load an explicit LineState from the record store
// =============================================================================

// LoadLineState reads everything Recompute needs for one line.
//
// Active customers are found by listing customers/{lineId}, not from
// Line.Days, so customers on a day later removed from the line still count.
// Soft-deleted internalIds that are not active contribute the frozen net of
// their most recent deletion record; their transaction records are not read.
func (e *Engine) LoadLineState(ctx context.Context, lineID string) (LineState, error) {
	state := LineState{LineID: lineID, InitialAmount: decimal.Zero, AccountNet: decimal.Zero}

	line, found, err := ReadRecord[Line](ctx, e.store, LinePath(lineID))
	if err != nil {
		return state, err
	}
	if found {
		state.LineFound = true
		state.InitialAmount = line.InitialAmount
	}

	active := make(map[string]bool)
	days, err := ListNames(ctx, e.store, JoinPath(CategoryCustomers, lineID))
	if err != nil {
		return state, err
	}
	for _, day := range days {
		customers, err := ReadList[Customer](ctx, e.store, CustomersPath(lineID, day))
		if err != nil {
			return state, err
		}
		for _, c := range customers {
			txs, err := ReadList[Transaction](ctx, e.store, TransactionsPath(lineID, day, c.InternalID))
			if err != nil {
				return state, err
			}
			active[c.InternalID] = true
			state.Active = append(state.Active, CustomerState{Customer: c, Day: day, Transactions: txs})
		}
	}

	deleted, err := ReadList[DeletedCustomerRecord](ctx, e.store, DeletedCustomersPath(lineID))
	if err != nil {
		return state, err
	}
	state.Archived = archivedContributions(deleted, active)

	if e.accounts != nil {
		net, err := e.accounts.NetBalance(ctx, lineID)
		if err != nil {
			return state, fmt.Errorf("account ledger net for line %s: %w", lineID, err)
		}
		state.AccountNet = net
	}
	return state, nil
}

// archivedContributions keeps, per inactive internalId, the record with the
// highest deletionTimestamp. Earlier deletions of the same internalId are
// already folded into it because the transactions record is shared.
func archivedContributions(deleted []DeletedCustomerRecord, active map[string]bool) []ArchivedContribution {
	latest := make(map[string]DeletedCustomerRecord)
	for _, r := range deleted {
		if active[r.InternalID] {
			continue
		}
		if cur, ok := latest[r.InternalID]; !ok || r.DeletionTimestamp > cur.DeletionTimestamp {
			latest[r.InternalID] = r
		}
	}

	out := make([]ArchivedContribution, 0, len(latest))
	for id, r := range latest {
		out = append(out, ArchivedContribution{InternalID: id, Record: r.Ref(), Net: r.NetContribution})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InternalID < out[j].InternalID })
	return out
}
