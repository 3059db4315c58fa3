package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/linebook/collection-ledger/schedule"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CUSTOMER QUERIES
// =============================================================================

// CustomerSummary is an active customer with its current loan status.
type CustomerSummary struct {
	Customer
	Day  string     `json:"day"`
	Loan LoanStatus `json:"loan"`
}

// PendingCustomer is an active customer whose current loan is past due and
// not settled.
type PendingCustomer struct {
	CustomerSummary
	DueDate     Date            `json:"dueDate"`
	DaysOverdue int             `json:"daysOverdue"`
	Expected    decimal.Decimal `json:"expectedPaid"`
}

func (e *Engine) ListCustomers(ctx context.Context, lineID, day string) ([]CustomerSummary, error) {
	if _, err := e.requireLine(ctx, lineID); err != nil {
		return nil, err
	}
	if err := requireSegment("day", day); err != nil {
		return nil, err
	}
	customers, err := ReadList[Customer](ctx, e.store, CustomersPath(lineID, day))
	if err != nil {
		return nil, err
	}
	out := make([]CustomerSummary, 0, len(customers))
	for _, c := range customers {
		s, err := e.summarize(ctx, lineID, day, c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (e *Engine) GetCustomer(ctx context.Context, lineID, day, displayID string) (CustomerSummary, error) {
	if _, err := e.requireLine(ctx, lineID); err != nil {
		return CustomerSummary{}, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return CustomerSummary{}, err
	}
	return e.summarize(ctx, lineID, day, customers[idx])
}

func (e *Engine) summarize(ctx context.Context, lineID, day string, c Customer) (CustomerSummary, error) {
	txs, err := ReadList[Transaction](ctx, e.store, TransactionsPath(lineID, day, c.InternalID))
	if err != nil {
		return CustomerSummary{}, err
	}
	return CustomerSummary{Customer: c, Day: day, Loan: e.loanStatus(c, txs)}, nil
}

// NextCustomerID suggests the next numeric displayId for a day: one past the
// highest numeric id among active and deleted customers of that day.
func (e *Engine) NextCustomerID(ctx context.Context, lineID, day string) (string, error) {
	if _, err := e.requireLine(ctx, lineID); err != nil {
		return "", err
	}
	customers, err := ReadList[Customer](ctx, e.store, CustomersPath(lineID, day))
	if err != nil {
		return "", err
	}
	deleted, err := ReadList[DeletedCustomerRecord](ctx, e.store, DeletedCustomersPath(lineID))
	if err != nil {
		return "", err
	}

	highest := 0
	bump := func(id string) {
		if n, err := strconv.Atoi(id); err == nil && n > highest {
			highest = n
		}
	}
	for _, c := range customers {
		bump(c.ID)
	}
	for _, r := range deleted {
		if r.DeletedFrom == day {
			bump(r.Customer.ID)
		}
	}
	return strconv.Itoa(highest + 1), nil
}

// PendingCustomers lists customers across every day of the line whose
// current loan is past its due date with money still outstanding, most
// overdue first.
func (e *Engine) PendingCustomers(ctx context.Context, lineID string, today time.Time) ([]PendingCustomer, error) {
	if _, err := e.requireLine(ctx, lineID); err != nil {
		return nil, err
	}
	if today.IsZero() {
		today = e.Now()
	}
	days, err := ListNames(ctx, e.store, JoinPath(CategoryCustomers, lineID))
	if err != nil {
		return nil, err
	}

	var out []PendingCustomer
	for _, day := range days {
		list, err := e.ListCustomers(ctx, lineID, day)
		if err != nil {
			return nil, err
		}
		for _, s := range list {
			if s.Loan.Settled() {
				continue
			}
			loan := s.Loan.Current
			due := schedule.DueDate(loan.Date.Time(), loan.Weeks)
			overdue := schedule.DaysOverdue(due, today)
			if overdue == 0 {
				continue
			}
			out = append(out, PendingCustomer{
				CustomerSummary: s,
				DueDate:         DateOf(due),
				DaysOverdue:     overdue,
				Expected:        schedule.ExpectedBy(loan.TakenAmount, loan.Date.Time(), loan.Weeks, today),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysOverdue > out[j].DaysOverdue })
	return out, nil
}

// =============================================================================
// RECORD QUERIES
// =============================================================================

func (e *Engine) ListTransactions(ctx context.Context, lineID, day, displayID string) ([]Transaction, error) {
	if _, err := e.requireLine(ctx, lineID); err != nil {
		return nil, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return nil, err
	}
	return ReadList[Transaction](ctx, e.store, TransactionsPath(lineID, day, customers[idx].InternalID))
}

// ListRenewals returns the renewal records of a customer, oldest first.
func (e *Engine) ListRenewals(ctx context.Context, lineID, day, displayID string) ([]Transaction, error) {
	txs, err := e.ListTransactions(ctx, lineID, day, displayID)
	if err != nil {
		return nil, err
	}
	var out []Transaction
	for _, tx := range txs {
		if tx.Type == TxRenewal {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (e *Engine) ListChat(ctx context.Context, lineID, day, displayID string) ([]ChatMessage, error) {
	if _, err := e.requireLine(ctx, lineID); err != nil {
		return nil, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return nil, err
	}
	return ReadList[ChatMessage](ctx, e.store, ChatPath(lineID, day, customers[idx].InternalID))
}

// =============================================================================
// DELETED CUSTOMERS
// =============================================================================

// DeletedCustomers lists deletion records, newest first. Restored records
// are included only when includeRestored is set.
func (e *Engine) DeletedCustomers(ctx context.Context, lineID string, includeRestored bool) ([]DeletedCustomerRecord, error) {
	if _, err := e.requireLine(ctx, lineID); err != nil {
		return nil, err
	}
	deleted, err := ReadList[DeletedCustomerRecord](ctx, e.store, DeletedCustomersPath(lineID))
	if err != nil {
		return nil, err
	}
	out := make([]DeletedCustomerRecord, 0, len(deleted))
	for _, r := range deleted {
		if r.IsRestored && !includeRestored {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DeletionTimestamp > out[j].DeletionTimestamp })
	return out, nil
}

// GetDeletedCustomer finds one deletion record. A zero timestamp selects the
// latest record for the displayId, restored or not.
func (e *Engine) GetDeletedCustomer(ctx context.Context, lineID, displayID, day string, ts int64) (DeletedCustomerRecord, error) {
	if _, err := e.requireLine(ctx, lineID); err != nil {
		return DeletedCustomerRecord{}, err
	}
	deleted, err := ReadList[DeletedCustomerRecord](ctx, e.store, DeletedCustomersPath(lineID))
	if err != nil {
		return DeletedCustomerRecord{}, err
	}
	i := lookupDeleted(deleted, displayID, day, ts)
	if i < 0 {
		return DeletedCustomerRecord{}, fmt.Errorf("%s on line %s: %w", displayID, lineID, ErrDeletedCustomerNotFound)
	}
	return deleted[i], nil
}

func lookupDeleted(deleted []DeletedCustomerRecord, displayID, day string, ts int64) int {
	if ts != 0 {
		return findDeleted(deleted, displayID, day, ts)
	}
	best := -1
	for i, r := range deleted {
		if r.Customer.ID != displayID || (day != "" && r.DeletedFrom != day) {
			continue
		}
		if best < 0 || r.DeletionTimestamp > deleted[best].DeletionTimestamp {
			best = i
		}
	}
	return best
}
