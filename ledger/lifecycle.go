/*
lifecycle.go - Customer lifecycle: create, pay, renew, delete, restore

PURPOSE:
  Enforces the identity rules of a customer and produces the record
  mutations for each transition, then moves the cached BF by the
  operation's closed-form delta (balance.go).

STATES (per internalId):
  Active -> Deleted -> Active (restored) -> Deleted -> ...
  A deleted record becomes Invalidated when a new customer claims the
  displayId it was restored from.

IDENTITY:
  displayId   typed by people, reusable once the customer is deleted
  internalId  minted at creation, reused by every restore, never by a new
              customer; all transactions and chat are filed under it

ORDER OF WRITES:
  Every operation validates first (NotFound, Conflict, Invalid) and writes
  nothing when validation fails. Writes then land in this order:
    1. transactions / chat record
    2. customers / deleted_customers records
    3. line record with the new BF
  An I/O failure between writes leaves the earlier writes in place. BF is
  written last, so it never reflects half an operation; RefreshBalance
  repairs it from whatever did land.

SEE ALSO:
  - balance.go: BalanceEvent deltas
  - timeline.go: reading the history these operations produce
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// INPUTS
// =============================================================================

type CustomerInput struct {
	ID          string
	Name        string
	Village     string
	Phone       string
	TakenAmount decimal.Decimal
	Interest    decimal.Decimal
	PC          decimal.Decimal
	Date        Date
	Weeks       int
}

// CustomerUpdate changes the fields that are set. Loan fields edit the
// customer's current loan.
type CustomerUpdate struct {
	Name        *string
	Village     *string
	Phone       *string
	TakenAmount *decimal.Decimal
	Interest    *decimal.Decimal
	PC          *decimal.Decimal
	Date        *Date
	Weeks       *int
}

func (u CustomerUpdate) touchesLoan() bool {
	return u.TakenAmount != nil || u.Interest != nil || u.PC != nil || u.Date != nil || u.Weeks != nil
}

type PaymentInput struct {
	Amount  decimal.Decimal
	Date    Date
	Comment string
	Source  Source
}

type RenewalInput struct {
	TakenAmount decimal.Decimal
	Interest    decimal.Decimal
	PC          decimal.Decimal
	Date        Date
	Weeks       int
}

// RestoreInput selects a deleted record and the new loan to restore it with.
// Day and DeletionTimestamp narrow the match; a zero timestamp picks the
// latest unrestored record for DisplayID. Nil Interest/PC reuse the
// deleted customer's values.
type RestoreInput struct {
	DisplayID         string
	Day               string
	DeletionTimestamp int64
	NewDisplayID      string
	TakenAmount       decimal.Decimal
	Interest          *decimal.Decimal
	PC                *decimal.Decimal
	Date              Date
	Weeks             int
}

type TransactionUpdate struct {
	Amount  *decimal.Decimal
	Comment *string
	Date    *Date
}

// =============================================================================
// CREATE
// =============================================================================

// CreateCustomer opens a new customer with a new internalId.
func (e *Engine) CreateCustomer(ctx context.Context, lineID, day string, in CustomerInput) (Customer, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	if err := requireSegment("day", day); err != nil {
		return Customer{}, err
	}
	if err := requireSegment("id", in.ID); err != nil {
		return Customer{}, err
	}
	if in.Name == "" {
		return Customer{}, invalid("name", "is required")
	}
	terms := e.loanTerms(in.TakenAmount, in.Interest, in.PC, in.Date, in.Weeks)
	if err := terms.Validate(); err != nil {
		return Customer{}, err
	}

	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireDay(ctx, lineID, day)
	if err != nil {
		return Customer{}, err
	}
	customers, err := ReadList[Customer](ctx, e.store, CustomersPath(lineID, day))
	if err != nil {
		return Customer{}, err
	}
	if findCustomer(customers, in.ID) >= 0 {
		return Customer{}, &DuplicateIDError{LineID: lineID, Day: day, DisplayID: in.ID}
	}
	deleted, err := ReadList[DeletedCustomerRecord](ctx, e.store, DeletedCustomersPath(lineID))
	if err != nil {
		return Customer{}, err
	}

	now := e.Now()
	c := Customer{
		ID:         in.ID,
		InternalID: e.newInternalID(),
		Name:       in.Name,
		Village:    strings.TrimSpace(in.Village),
		Phone:      strings.TrimSpace(in.Phone),
		LoanTerms:  terms,
		OriginLoan: terms,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := WriteRecord(ctx, e.store, CustomersPath(lineID, day), append(customers, c)); err != nil {
		return Customer{}, err
	}

	// A new identity claiming the displayId severs the chain it was restored from.
	if invalidated := invalidateRestorations(deleted, in.ID, day, now); invalidated > 0 {
		if err := WriteRecord(ctx, e.store, DeletedCustomersPath(lineID), deleted); err != nil {
			return Customer{}, err
		}
		e.logger.Info("restoration chain invalidated",
			zap.String("line_id", lineID), zap.String("day", day),
			zap.String("customer_id", in.ID), zap.Int("records", invalidated))
	}

	if err := e.applyToLine(ctx, &line, BalanceEvent{Kind: EventLoanCreated, Loan: terms}); err != nil {
		return Customer{}, err
	}

	e.logMutation("customer created", line, day, c)
	return c, nil
}

func invalidateRestorations(deleted []DeletedCustomerRecord, displayID, day string, now time.Time) int {
	n := 0
	for i := range deleted {
		r := &deleted[i]
		if r.Customer.ID != displayID || r.DeletedFrom != day || !r.IsRestored || r.RestorationInvalidated {
			continue
		}
		at := now
		r.RestorationInvalidated = true
		r.InvalidatedAt = &at
		r.InvalidatedReason = fmt.Sprintf("customer id %s reused by a new customer", displayID)
		n++
	}
	return n
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateCustomer edits contact fields and the terms of the current loan: the
// latest renewal or restored loan if one exists, otherwise the origin loan.
func (e *Engine) UpdateCustomer(ctx context.Context, lineID, day, displayID string, upd CustomerUpdate) (Customer, error) {
	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Customer{}, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return Customer{}, err
	}
	c := customers[idx]

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Customer{}, invalid("name", "is required")
		}
		c.Name = name
	}
	if upd.Village != nil {
		c.Village = strings.TrimSpace(*upd.Village)
	}
	if upd.Phone != nil {
		c.Phone = strings.TrimSpace(*upd.Phone)
	}

	var (
		txs     []Transaction
		eventAt = -1
		oldLoan LoanTerms
		newLoan LoanTerms
	)
	if upd.touchesLoan() {
		txs, err = ReadList[Transaction](ctx, e.store, TransactionsPath(lineID, day, c.InternalID))
		if err != nil {
			return Customer{}, err
		}
		oldLoan = c.OriginLoan
		if eventAt = e.latestLoanEvent(txs); eventAt >= 0 {
			oldLoan = *txs[eventAt].Loan
		}
		newLoan = applyLoanUpdate(oldLoan, upd)
		if err := newLoan.Validate(); err != nil {
			return Customer{}, err
		}
	}

	now := e.Now()
	if upd.touchesLoan() {
		if eventAt >= 0 {
			loan := newLoan
			txs[eventAt].Loan = &loan
			txs[eventAt].Amount = newLoan.TakenAmount
			txs[eventAt].Date = newLoan.Date
			txs[eventAt].IsEdited = true
			txs[eventAt].EditedAt = &now
			if err := WriteRecord(ctx, e.store, TransactionsPath(lineID, day, c.InternalID), txs); err != nil {
				return Customer{}, err
			}
		} else {
			c.OriginLoan = newLoan
		}
		c.LoanTerms = newLoan
	}
	c.UpdatedAt = now
	customers[idx] = c
	if err := WriteRecord(ctx, e.store, CustomersPath(lineID, day), customers); err != nil {
		return Customer{}, err
	}

	if upd.touchesLoan() && !oldLoan.Principal().Equal(newLoan.Principal()) {
		ev := BalanceEvent{Kind: EventLoanEdited, Loan: newLoan, OldLoan: oldLoan}
		if err := e.applyToLine(ctx, &line, ev); err != nil {
			return Customer{}, err
		}
	}

	e.logMutation("customer updated", line, day, c)
	return c, nil
}

func applyLoanUpdate(t LoanTerms, u CustomerUpdate) LoanTerms {
	if u.TakenAmount != nil {
		t.TakenAmount = *u.TakenAmount
	}
	if u.Interest != nil {
		t.Interest = *u.Interest
	}
	if u.PC != nil {
		t.PC = *u.PC
	}
	if u.Date != nil {
		t.Date = *u.Date
	}
	if u.Weeks != nil {
		t.Weeks = *u.Weeks
	}
	return t
}

// =============================================================================
// PAYMENTS AND COMMENTS
// =============================================================================

// RecordPayment files a payment under the customer's internalId.
func (e *Engine) RecordPayment(ctx context.Context, lineID, day, displayID string, in PaymentInput) (Transaction, error) {
	if !in.Amount.IsPositive() {
		return Transaction{}, invalid("amount", "must be greater than zero")
	}
	switch in.Source {
	case "":
		in.Source = SourceQuick
	case SourceQuick, SourceChat:
	default:
		return Transaction{}, invalid("source", "must be quick or chat")
	}

	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Transaction{}, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return Transaction{}, err
	}
	c := customers[idx]

	path := TransactionsPath(lineID, day, c.InternalID)
	txs, err := ReadList[Transaction](ctx, e.store, path)
	if err != nil {
		return Transaction{}, err
	}

	now := e.Now()
	tx := Transaction{
		ID:           newRecordID(),
		Type:         TxPayment,
		Amount:       in.Amount,
		Date:         e.dateOrToday(in.Date),
		Comment:      strings.TrimSpace(in.Comment),
		CustomerName: c.Name,
		Source:       in.Source,
		CreatedAt:    now,
	}
	if err := WriteRecord(ctx, e.store, path, append(txs, tx)); err != nil {
		return Transaction{}, err
	}
	if err := e.applyToLine(ctx, &line, BalanceEvent{Kind: EventPaymentAdded, Amount: in.Amount}); err != nil {
		return Transaction{}, err
	}

	e.logMutation("payment recorded", line, day, c, zap.String("amount", in.Amount.String()))
	return tx, nil
}

// AddComment files a chat comment. Comments never move BF.
func (e *Engine) AddComment(ctx context.Context, lineID, day, displayID, message string, date Date) (ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatMessage{}, invalid("message", "is required")
	}

	unlock := e.lockLine(lineID)
	defer unlock()

	if _, err := e.requireLine(ctx, lineID); err != nil {
		return ChatMessage{}, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return ChatMessage{}, err
	}
	path := ChatPath(lineID, day, customers[idx].InternalID)
	chat, err := ReadList[ChatMessage](ctx, e.store, path)
	if err != nil {
		return ChatMessage{}, err
	}

	msg := ChatMessage{
		ID:        newRecordID(),
		Type:      "comment",
		Message:   message,
		Date:      e.dateOrToday(date),
		CreatedAt: e.Now(),
	}
	if err := WriteRecord(ctx, e.store, path, append(chat, msg)); err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}

// =============================================================================
// RENEWAL
// =============================================================================

// CreateRenewal replaces the current loan once it is fully settled. The
// renewal is filed in the transactions record alongside payments.
func (e *Engine) CreateRenewal(ctx context.Context, lineID, day, displayID string, in RenewalInput) (Transaction, error) {
	terms := e.loanTerms(in.TakenAmount, in.Interest, in.PC, in.Date, in.Weeks)
	if err := terms.Validate(); err != nil {
		return Transaction{}, err
	}

	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Transaction{}, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return Transaction{}, err
	}
	c := customers[idx]

	path := TransactionsPath(lineID, day, c.InternalID)
	txs, err := ReadList[Transaction](ctx, e.store, path)
	if err != nil {
		return Transaction{}, err
	}
	status := e.loanStatus(c, txs)
	if status.Remaining.IsPositive() {
		return Transaction{}, &OutstandingBalanceError{
			DisplayID: displayID,
			TotalOwed: status.TotalOwed,
			TotalPaid: status.TotalPaid,
			Remaining: status.Remaining,
		}
	}

	now := e.Now()
	loan := terms
	tx := Transaction{
		ID:           newRecordID(),
		Type:         TxRenewal,
		Amount:       terms.TakenAmount,
		Date:         terms.Date,
		Comment:      "Renewal",
		CustomerName: c.Name,
		Loan:         &loan,
		CreatedAt:    now,
	}
	if err := WriteRecord(ctx, e.store, path, append(txs, tx)); err != nil {
		return Transaction{}, err
	}

	c.LoanTerms = terms
	c.UpdatedAt = now
	customers[idx] = c
	if err := WriteRecord(ctx, e.store, CustomersPath(lineID, day), customers); err != nil {
		return Transaction{}, err
	}
	if err := e.applyToLine(ctx, &line, BalanceEvent{Kind: EventLoanRenewed, Loan: terms}); err != nil {
		return Transaction{}, err
	}

	e.logMutation("renewal created", line, day, c, zap.String("taken_amount", terms.TakenAmount.String()))
	return tx, nil
}

// =============================================================================
// SOFT DELETE
// =============================================================================

// SoftDelete deactivates a customer. Transactions and chat stay where they
// are; copies go to the deleted_* archive under the same internalId. BF is
// not touched.
func (e *Engine) SoftDelete(ctx context.Context, lineID, day, displayID string) (DeletedCustomerRecord, error) {
	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return DeletedCustomerRecord{}, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return DeletedCustomerRecord{}, err
	}
	c := customers[idx]

	txs, err := ReadList[Transaction](ctx, e.store, TransactionsPath(lineID, day, c.InternalID))
	if err != nil {
		return DeletedCustomerRecord{}, err
	}
	deleted, err := ReadList[DeletedCustomerRecord](ctx, e.store, DeletedCustomersPath(lineID))
	if err != nil {
		return DeletedCustomerRecord{}, err
	}

	if err := copyRecord(ctx, e.store,
		TransactionsPath(lineID, day, c.InternalID),
		ArchivedTransactionsPath(lineID, day, c.InternalID)); err != nil {
		return DeletedCustomerRecord{}, err
	}
	if err := copyRecord(ctx, e.store,
		ChatPath(lineID, day, c.InternalID),
		ArchivedChatPath(lineID, day, c.InternalID)); err != nil {
		return DeletedCustomerRecord{}, err
	}

	now := e.Now()
	rec := DeletedCustomerRecord{
		Customer:            c,
		InternalID:          c.InternalID,
		DeletedFrom:         day,
		DeletionTimestamp:   nextDeletionTimestamp(deleted, now.UnixMilli()),
		DeletedAt:           now,
		NetContribution:     Contribution(CustomerState{Customer: c, Day: day, Transactions: txs}),
		RemainingAtDeletion: e.loanStatus(c, txs).Remaining,
	}
	if c.Restored != nil {
		pred := c.Restored.Record
		rec.Predecessor = &pred
	}

	if err := WriteRecord(ctx, e.store, DeletedCustomersPath(lineID), append(deleted, rec)); err != nil {
		return DeletedCustomerRecord{}, err
	}
	customers = append(customers[:idx], customers[idx+1:]...)
	if err := WriteRecord(ctx, e.store, CustomersPath(lineID, day), customers); err != nil {
		return DeletedCustomerRecord{}, err
	}

	e.logMutation("customer soft-deleted", line, day, c, zap.Int64("deletion_timestamp", rec.DeletionTimestamp))
	return rec, nil
}

// nextDeletionTimestamp keeps deletion timestamps unique within a line.
func nextDeletionTimestamp(deleted []DeletedCustomerRecord, candidate int64) int64 {
	for _, r := range deleted {
		if r.DeletionTimestamp >= candidate {
			candidate = r.DeletionTimestamp + 1
		}
	}
	return candidate
}

// =============================================================================
// RESTORE
// =============================================================================

// Restore reactivates a deleted record's internalId under a new displayId
// with a new loan. Only the new loan's principal leaves the till; the old
// cycles are already reflected in BF.
func (e *Engine) Restore(ctx context.Context, lineID string, in RestoreInput) (Customer, error) {
	in.NewDisplayID = strings.TrimSpace(in.NewDisplayID)
	if err := requireSegment("newId", in.NewDisplayID); err != nil {
		return Customer{}, err
	}
	if strings.TrimSpace(in.DisplayID) == "" {
		return Customer{}, invalid("id", "is required")
	}

	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Customer{}, err
	}
	deleted, err := ReadList[DeletedCustomerRecord](ctx, e.store, DeletedCustomersPath(lineID))
	if err != nil {
		return Customer{}, err
	}
	ri := findDeleted(deleted, in.DisplayID, in.Day, in.DeletionTimestamp)
	if ri < 0 {
		return Customer{}, fmt.Errorf("%s on line %s: %w", in.DisplayID, lineID, ErrDeletedCustomerNotFound)
	}
	rec := deleted[ri]
	if rec.IsRestored {
		return Customer{}, &AlreadyRestoredError{Ref: rec.Ref(), RestoredAs: rec.RestoredAs, RestoredDate: rec.RestoredDate}
	}

	prev := rec.Customer.LoanTerms
	interest, pc := prev.Interest, prev.PC
	if in.Interest != nil {
		interest = *in.Interest
	}
	if in.PC != nil {
		pc = *in.PC
	}
	terms := e.loanTerms(in.TakenAmount, interest, pc, in.Date, in.Weeks)
	if err := terms.Validate(); err != nil {
		return Customer{}, err
	}

	day := rec.DeletedFrom
	customers, err := ReadList[Customer](ctx, e.store, CustomersPath(lineID, day))
	if err != nil {
		return Customer{}, err
	}
	if findCustomer(customers, in.NewDisplayID) >= 0 {
		return Customer{}, &DuplicateIDError{LineID: lineID, Day: day, DisplayID: in.NewDisplayID}
	}
	if active, err := e.internalIDActive(ctx, lineID, rec.InternalID); err != nil {
		return Customer{}, err
	} else if active {
		return Customer{}, fmt.Errorf("internal id %s is already active: %w", rec.InternalID, ErrConflict)
	}

	now := e.Now()
	path := TransactionsPath(lineID, day, rec.InternalID)
	txs, err := ReadList[Transaction](ctx, e.store, path)
	if err != nil {
		return Customer{}, err
	}
	loan := terms
	tx := Transaction{
		ID:           newRecordID(),
		Type:         TxRestored,
		Amount:       terms.TakenAmount,
		Date:         terms.Date,
		Comment:      fmt.Sprintf("Restored from customer %s", rec.Customer.ID),
		CustomerName: rec.Customer.Name,
		Loan:         &loan,
		CreatedAt:    now,
	}
	if err := WriteRecord(ctx, e.store, path, append(txs, tx)); err != nil {
		return Customer{}, err
	}

	c := rec.Customer
	c.ID = in.NewDisplayID
	c.LoanTerms = terms
	c.Restored = &Provenance{FromDisplayID: rec.Customer.ID, Record: rec.Ref(), RestoredAt: now}
	c.UpdatedAt = now
	if err := WriteRecord(ctx, e.store, CustomersPath(lineID, day), append(customers, c)); err != nil {
		return Customer{}, err
	}

	deleted[ri].IsRestored = true
	deleted[ri].RestoredAs = in.NewDisplayID
	deleted[ri].RestoredDate = &now
	if err := WriteRecord(ctx, e.store, DeletedCustomersPath(lineID), deleted); err != nil {
		return Customer{}, err
	}

	if err := e.applyToLine(ctx, &line, BalanceEvent{Kind: EventLoanRestored, Loan: terms}); err != nil {
		return Customer{}, err
	}

	e.logMutation("customer restored", line, day, c,
		zap.String("restored_from", rec.Customer.ID), zap.Int64("deletion_timestamp", rec.DeletionTimestamp))
	return c, nil
}

// findDeleted matches (displayId, day, deletionTimestamp). With a zero
// timestamp it returns the latest unrestored record for the displayId.
func findDeleted(deleted []DeletedCustomerRecord, displayID, day string, ts int64) int {
	best := -1
	for i, r := range deleted {
		if r.Customer.ID != displayID || (day != "" && r.DeletedFrom != day) {
			continue
		}
		if ts != 0 {
			if r.DeletionTimestamp == ts {
				return i
			}
			continue
		}
		if r.IsRestored {
			continue
		}
		if best < 0 || r.DeletionTimestamp > deleted[best].DeletionTimestamp {
			best = i
		}
	}
	return best
}

// =============================================================================
// TRANSACTION EDITS
// =============================================================================

// UpdateTransaction edits a payment. Loan records are edited through
// UpdateCustomer so their principal stays consistent with the customer.
func (e *Engine) UpdateTransaction(ctx context.Context, lineID, day, displayID, txID string, upd TransactionUpdate) (Transaction, error) {
	if upd.Amount != nil && !upd.Amount.IsPositive() {
		return Transaction{}, invalid("amount", "must be greater than zero")
	}

	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Transaction{}, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return Transaction{}, err
	}
	path := TransactionsPath(lineID, day, customers[idx].InternalID)
	txs, ti, err := e.payment(ctx, path, txID)
	if err != nil {
		return Transaction{}, err
	}

	now := e.Now()
	tx := txs[ti]
	old := tx.Amount
	if upd.Amount != nil {
		tx.Amount = *upd.Amount
	}
	if upd.Comment != nil {
		tx.Comment = strings.TrimSpace(*upd.Comment)
	}
	if upd.Date != nil && !upd.Date.IsZero() {
		tx.Date = *upd.Date
	}
	tx.IsEdited = true
	tx.EditedAt = &now
	txs[ti] = tx
	if err := WriteRecord(ctx, e.store, path, txs); err != nil {
		return Transaction{}, err
	}

	if !old.Equal(tx.Amount) {
		ev := BalanceEvent{Kind: EventPaymentEdited, Amount: tx.Amount, OldAmount: old}
		if err := e.applyToLine(ctx, &line, ev); err != nil {
			return Transaction{}, err
		}
	}
	e.logMutation("payment edited", line, day, customers[idx], zap.String("transaction_id", txID))
	return tx, nil
}

// DeleteTransaction physically removes a payment.
func (e *Engine) DeleteTransaction(ctx context.Context, lineID, day, displayID, txID string) error {
	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return err
	}
	path := TransactionsPath(lineID, day, customers[idx].InternalID)
	txs, ti, err := e.payment(ctx, path, txID)
	if err != nil {
		return err
	}
	amount := txs[ti].Amount

	txs = append(txs[:ti], txs[ti+1:]...)
	if err := WriteRecord(ctx, e.store, path, txs); err != nil {
		return err
	}
	if err := e.applyToLine(ctx, &line, BalanceEvent{Kind: EventPaymentDeleted, Amount: amount}); err != nil {
		return err
	}
	e.logMutation("payment deleted", line, day, customers[idx], zap.String("transaction_id", txID))
	return nil
}

func (e *Engine) payment(ctx context.Context, path, txID string) ([]Transaction, int, error) {
	txs, err := ReadList[Transaction](ctx, e.store, path)
	if err != nil {
		return nil, -1, err
	}
	for i, tx := range txs {
		if tx.ID != txID {
			continue
		}
		if tx.Type != TxPayment {
			return nil, -1, invalid("transaction", fmt.Sprintf("%s is a %s record; edit loan terms through the customer", txID, tx.Type))
		}
		return txs, i, nil
	}
	return nil, -1, fmt.Errorf("transaction %s: %w", txID, ErrTransactionNotFound)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) loanTerms(taken, interest, pc decimal.Decimal, date Date, weeks int) LoanTerms {
	if weeks == 0 {
		weeks = e.defaultWeeks
	}
	return LoanTerms{
		TakenAmount: taken,
		Interest:    interest,
		PC:          pc,
		Date:        e.dateOrToday(date),
		Weeks:       weeks,
	}
}

func (e *Engine) dateOrToday(d Date) Date {
	if d.IsZero() {
		return DateOf(e.Now())
	}
	return d
}

// requireDay loads the line and checks day is one of its sub-ledgers.
func (e *Engine) requireDay(ctx context.Context, lineID, day string) (Line, error) {
	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	if !line.HasDay(day) {
		return Line{}, fmt.Errorf("day %s on line %s: %w", day, lineID, ErrDayNotFound)
	}
	return line, nil
}

// activeCustomer loads the day's customers and locates displayID.
func (e *Engine) activeCustomer(ctx context.Context, lineID, day, displayID string) ([]Customer, int, error) {
	if err := requireSegment("day", day); err != nil {
		return nil, -1, err
	}
	customers, err := ReadList[Customer](ctx, e.store, CustomersPath(lineID, day))
	if err != nil {
		return nil, -1, err
	}
	idx := findCustomer(customers, displayID)
	if idx < 0 {
		return nil, -1, fmt.Errorf("customer %s on %s/%s: %w", displayID, lineID, day, ErrCustomerNotFound)
	}
	return customers, idx, nil
}

func findCustomer(customers []Customer, displayID string) int {
	for i, c := range customers {
		if c.ID == displayID {
			return i
		}
	}
	return -1
}

func (e *Engine) internalIDActive(ctx context.Context, lineID, internalID string) (bool, error) {
	days, err := ListNames(ctx, e.store, JoinPath(CategoryCustomers, lineID))
	if err != nil {
		return false, err
	}
	for _, day := range days {
		customers, err := ReadList[Customer](ctx, e.store, CustomersPath(lineID, day))
		if err != nil {
			return false, err
		}
		for _, c := range customers {
			if c.InternalID == internalID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e *Engine) logMutation(msg string, line Line, day string, c Customer, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("line_id", line.ID),
		zap.String("day", day),
		zap.String("customer_id", c.ID),
		zap.String("internal_id", c.InternalID),
		zap.String("bf", line.CurrentBF.String()),
	}, extra...)
	e.logger.Info(msg, fields...)
}
