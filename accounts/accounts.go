/*
Package accounts is the manual accounts ledger of a line.

PURPOSE:
  Besides loans and payments, cash enters and leaves the till for other
  reasons: owner top-ups, collector salary, fuel, bank deposits. Operators
  record those as credit/debit entries on named accounts. The net of all
  entries is one term of the line's BF.

BF EFFECT:
  Credit adds to BF, debit subtracts.
    add entry       BF += credit - debit
    edit entry      BF += (newCredit - newDebit) - (oldCredit - oldDebit)
    delete entry    BF -= credit - debit
    delete account  BF -= account net
  Full recompute reads NetBalance (sum over every account of the line).

RECORDS:
  accounts/{lineId}                        []Account
  account_entries/{lineId}/{accountId}     []Entry

CONCURRENCY:
  Every mutation runs inside ledger.Engine.Mutate, under the same per-line
  lock as customer operations, so entry writes and BF updates cannot
  interleave with a recompute.

EXAMPLE FLOW:
  1. Line BF is 40000
  2. "Owner" account: credit 10000 (top-up)        BF 50000
  3. "Expenses" account: debit 500 (fuel)          BF 49500
  4. Delete the fuel entry                         BF 50000

SEE ALSO:
  - ledger/balance.go: AccountNet term of Recompute
*/
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/linebook/collection-ledger/ledger"
)

const (
	CategoryAccounts = "accounts"
	CategoryEntries  = "account_entries"
)

var (
	ErrAccountNotFound = fmt.Errorf("account not found: %w", ledger.ErrNotFound)
	ErrEntryNotFound   = fmt.Errorf("account entry not found: %w", ledger.ErrNotFound)
)

// =============================================================================
// TYPES
// =============================================================================

type Account struct {
	ID        string    `json:"id"`
	LineID    string    `json:"lineId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Entry struct {
	ID          string          `json:"id"`
	Date        ledger.Date     `json:"date"`
	Description string          `json:"name"`
	Credit      decimal.Decimal `json:"creditAmount"`
	Debit       decimal.Decimal `json:"debitAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
}

func (e Entry) Net() decimal.Decimal { return e.Credit.Sub(e.Debit) }

type EntryInput struct {
	Date        ledger.Date
	Description string
	Credit      decimal.Decimal
	Debit       decimal.Decimal
}

func (in EntryInput) validate() error {
	switch {
	case in.Credit.IsNegative():
		return &ledger.ValidationError{Field: "creditAmount", Message: "must not be negative"}
	case in.Debit.IsNegative():
		return &ledger.ValidationError{Field: "debitAmount", Message: "must not be negative"}
	case in.Credit.IsZero() && in.Debit.IsZero():
		return &ledger.ValidationError{Field: "creditAmount", Message: "either credit or debit amount is required"}
	}
	return nil
}

type Totals struct {
	Credit decimal.Decimal `json:"credit"`
	Debit  decimal.Decimal `json:"debit"`
	Net    decimal.Decimal `json:"netBalance"`
}

func totalsOf(entries []Entry) Totals {
	t := Totals{Credit: decimal.Zero, Debit: decimal.Zero}
	for _, e := range entries {
		t.Credit = t.Credit.Add(e.Credit)
		t.Debit = t.Debit.Add(e.Debit)
	}
	t.Net = t.Credit.Sub(t.Debit)
	return t
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	engine *ledger.Engine
	store  ledger.RecordStore
	logger *zap.Logger
}

var (
	_ ledger.AccountLedger = (*Ledger)(nil)
	_ ledger.LineDeleter   = (*Ledger)(nil)
)

// New creates the accounts ledger and registers it as the engine's
// AccountLedger.
func New(engine *ledger.Engine, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{engine: engine, store: engine.Store(), logger: logger}
	engine.SetAccountLedger(l)
	return l
}

func accountsPath(lineID string) string {
	return ledger.JoinPath(CategoryAccounts, lineID)
}

func entriesPath(lineID, accountID string) string {
	return ledger.JoinPath(CategoryEntries, lineID, accountID)
}

// NetBalance sums credit - debit across every account of the line.
func (l *Ledger) NetBalance(ctx context.Context, lineID string) (decimal.Decimal, error) {
	accounts, err := ledger.ReadList[Account](ctx, l.store, accountsPath(lineID))
	if err != nil {
		return decimal.Zero, err
	}
	net := decimal.Zero
	for _, a := range accounts {
		entries, err := ledger.ReadList[Entry](ctx, l.store, entriesPath(lineID, a.ID))
		if err != nil {
			return decimal.Zero, err
		}
		net = net.Add(totalsOf(entries).Net)
	}
	return net, nil
}

// DeleteLineAccounts removes every account record of a line. Called by
// Engine.DeleteLine under the line lock.
func (l *Ledger) DeleteLineAccounts(ctx context.Context, lineID string) error {
	if err := ledger.DeleteTree(ctx, l.store, ledger.JoinPath(CategoryEntries, lineID)); err != nil {
		return err
	}
	return ledger.DeleteRecord(ctx, l.store, accountsPath(lineID))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (l *Ledger) ListAccounts(ctx context.Context, lineID string) ([]Account, error) {
	if _, err := l.engine.CachedBalance(ctx, lineID); err != nil {
		return nil, err
	}
	return ledger.ReadList[Account](ctx, l.store, accountsPath(lineID))
}

func (l *Ledger) CreateAccount(ctx context.Context, lineID, name string) (Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Account{}, &ledger.ValidationError{Field: "name", Message: "is required"}
	}

	var created Account
	_, err := l.engine.Mutate(ctx, lineID, func(ctx context.Context) (*ledger.BalanceEvent, error) {
		accounts, err := ledger.ReadList[Account](ctx, l.store, accountsPath(lineID))
		if err != nil {
			return nil, err
		}
		now := l.engine.Now()
		created = Account{ID: uuid.NewString(), LineID: lineID, Name: name, CreatedAt: now, UpdatedAt: now}
		return nil, ledger.WriteRecord(ctx, l.store, accountsPath(lineID), append(accounts, created))
	})
	if err != nil {
		return Account{}, err
	}
	l.logger.Info("account created", zap.String("line_id", lineID), zap.String("account_id", created.ID))
	return created, nil
}

func (l *Ledger) RenameAccount(ctx context.Context, lineID, accountID, name string) (Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Account{}, &ledger.ValidationError{Field: "name", Message: "is required"}
	}

	var updated Account
	_, err := l.engine.Mutate(ctx, lineID, func(ctx context.Context) (*ledger.BalanceEvent, error) {
		accounts, i, err := l.account(ctx, lineID, accountID)
		if err != nil {
			return nil, err
		}
		accounts[i].Name = name
		accounts[i].UpdatedAt = l.engine.Now()
		updated = accounts[i]
		return nil, ledger.WriteRecord(ctx, l.store, accountsPath(lineID), accounts)
	})
	return updated, err
}

// DeleteAccount removes the account and its entries; BF loses the
// account's net.
func (l *Ledger) DeleteAccount(ctx context.Context, lineID, accountID string) (ledger.Line, error) {
	return l.engine.Mutate(ctx, lineID, func(ctx context.Context) (*ledger.BalanceEvent, error) {
		accounts, i, err := l.account(ctx, lineID, accountID)
		if err != nil {
			return nil, err
		}
		entries, err := ledger.ReadList[Entry](ctx, l.store, entriesPath(lineID, accountID))
		if err != nil {
			return nil, err
		}
		accounts = append(accounts[:i], accounts[i+1:]...)
		if err := ledger.WriteRecord(ctx, l.store, accountsPath(lineID), accounts); err != nil {
			return nil, err
		}
		if err := ledger.DeleteRecord(ctx, l.store, entriesPath(lineID, accountID)); err != nil {
			return nil, err
		}
		return accountEvent(totalsOf(entries).Net.Neg()), nil
	})
}

// =============================================================================
// ENTRIES
// =============================================================================

func (l *Ledger) ListEntries(ctx context.Context, lineID, accountID string) ([]Entry, Totals, error) {
	if _, _, err := l.account(ctx, lineID, accountID); err != nil {
		return nil, Totals{}, err
	}
	entries, err := ledger.ReadList[Entry](ctx, l.store, entriesPath(lineID, accountID))
	if err != nil {
		return nil, Totals{}, err
	}
	return entries, totalsOf(entries), nil
}

func (l *Ledger) AddEntry(ctx context.Context, lineID, accountID string, in EntryInput) (Entry, ledger.Line, error) {
	if err := in.validate(); err != nil {
		return Entry{}, ledger.Line{}, err
	}

	var entry Entry
	line, err := l.engine.Mutate(ctx, lineID, func(ctx context.Context) (*ledger.BalanceEvent, error) {
		if _, _, err := l.account(ctx, lineID, accountID); err != nil {
			return nil, err
		}
		entries, err := ledger.ReadList[Entry](ctx, l.store, entriesPath(lineID, accountID))
		if err != nil {
			return nil, err
		}
		now := l.engine.Now()
		date := in.Date
		if date.IsZero() {
			date = ledger.DateOf(now)
		}
		entry = Entry{
			ID:          uuid.NewString(),
			Date:        date,
			Description: strings.TrimSpace(in.Description),
			Credit:      in.Credit,
			Debit:       in.Debit,
			CreatedAt:   now,
		}
		if err := ledger.WriteRecord(ctx, l.store, entriesPath(lineID, accountID), append(entries, entry)); err != nil {
			return nil, err
		}
		return accountEvent(entry.Net()), nil
	})
	if err != nil {
		return Entry{}, ledger.Line{}, err
	}
	return entry, line, nil
}

func (l *Ledger) UpdateEntry(ctx context.Context, lineID, accountID, entryID string, in EntryInput) (Entry, ledger.Line, error) {
	if err := in.validate(); err != nil {
		return Entry{}, ledger.Line{}, err
	}

	var entry Entry
	line, err := l.engine.Mutate(ctx, lineID, func(ctx context.Context) (*ledger.BalanceEvent, error) {
		entries, i, err := l.entry(ctx, lineID, accountID, entryID)
		if err != nil {
			return nil, err
		}
		old := entries[i].Net()
		now := l.engine.Now()
		entries[i].Credit = in.Credit
		entries[i].Debit = in.Debit
		entries[i].Description = strings.TrimSpace(in.Description)
		if !in.Date.IsZero() {
			entries[i].Date = in.Date
		}
		entries[i].UpdatedAt = &now
		entry = entries[i]
		if err := ledger.WriteRecord(ctx, l.store, entriesPath(lineID, accountID), entries); err != nil {
			return nil, err
		}
		return accountEvent(entry.Net().Sub(old)), nil
	})
	if err != nil {
		return Entry{}, ledger.Line{}, err
	}
	return entry, line, nil
}

func (l *Ledger) DeleteEntry(ctx context.Context, lineID, accountID, entryID string) (ledger.Line, error) {
	return l.engine.Mutate(ctx, lineID, func(ctx context.Context) (*ledger.BalanceEvent, error) {
		entries, i, err := l.entry(ctx, lineID, accountID, entryID)
		if err != nil {
			return nil, err
		}
		net := entries[i].Net()
		entries = append(entries[:i], entries[i+1:]...)
		if err := ledger.WriteRecord(ctx, l.store, entriesPath(lineID, accountID), entries); err != nil {
			return nil, err
		}
		return accountEvent(net.Neg()), nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func accountEvent(delta decimal.Decimal) *ledger.BalanceEvent {
	if delta.IsZero() {
		return nil
	}
	return &ledger.BalanceEvent{Kind: ledger.EventAccountEntry, Amount: delta}
}

func (l *Ledger) account(ctx context.Context, lineID, accountID string) ([]Account, int, error) {
	accounts, err := ledger.ReadList[Account](ctx, l.store, accountsPath(lineID))
	if err != nil {
		return nil, -1, err
	}
	for i, a := range accounts {
		if a.ID == accountID {
			return accounts, i, nil
		}
	}
	return nil, -1, fmt.Errorf("%s on line %s: %w", accountID, lineID, ErrAccountNotFound)
}

func (l *Ledger) entry(ctx context.Context, lineID, accountID, entryID string) ([]Entry, int, error) {
	if _, _, err := l.account(ctx, lineID, accountID); err != nil {
		return nil, -1, err
	}
	entries, err := ledger.ReadList[Entry](ctx, l.store, entriesPath(lineID, accountID))
	if err != nil {
		return nil, -1, err
	}
	for i, e := range entries {
		if e.ID == entryID {
			return entries, i, nil
		}
	}
	return nil, -1, fmt.Errorf("%s: %w", entryID, ErrEntryNotFound)
}

// IsNotFound reports whether err is a missing account or entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrEntryNotFound)
}
