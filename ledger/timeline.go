/*
timeline.go - Merged, tagged history of one customer identity

PURPOSE:
  Builds the chronological view of everything that happened to an
  internalId: loans, payments and comments, each tagged for display.

TAGS:
  NEW LOAN       origin loan of the internalId
  RESTORED LOAN  loan issued by a restore
  RENEWAL        loan issued by a renewal
  PAYMENT        payment (quick entry or chat)
  COMMENT        chat comment

DELETED CUSTOMERS:
  A deleted record can be the last link of a restoration chain:
    record C --predecessor--> record B --predecessor--> record A
  The walk follows predecessors on the same day and stops at an unknown
  record, an invalidated record or a record already visited, so malformed
  chains always terminate. Each archive path is read at most once and each
  transaction or comment id appears at most once, which keeps a chain whose
  records share an internalId from repeating history. Events recorded
  after the requested record's deletion belong to later cycles and are cut.

SEE ALSO:
  - lifecycle.go: SoftDelete writes the predecessor link
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type EventTag string

const (
	TagNewLoan      EventTag = "NEW LOAN"
	TagRestoredLoan EventTag = "RESTORED LOAN"
	TagRenewal      EventTag = "RENEWAL"
	TagPayment      EventTag = "PAYMENT"
	TagComment      EventTag = "COMMENT"
)

type TimelineEvent struct {
	ID      string          `json:"id"`
	Tag     EventTag        `json:"tag"`
	At      time.Time       `json:"timestamp"`
	Date    Date            `json:"date"`
	Amount  decimal.Decimal `json:"amount"`
	Loan    *LoanTerms      `json:"loan,omitempty"`
	Message string          `json:"message,omitempty"`
	Source  Source          `json:"source,omitempty"`
	Edited  bool            `json:"isEdited,omitempty"`
}

// Cycle summarizes one deletion record of a chain.
type Cycle struct {
	Record      RecordRef       `json:"record"`
	DisplayID   string          `json:"customerId"`
	DeletedAt   time.Time       `json:"deletedAt"`
	Loan        LoanTerms       `json:"loan"`
	Net         decimal.Decimal `json:"netContribution"`
	Remaining   decimal.Decimal `json:"remainingAtDeletion"`
	RestoredAs  string          `json:"restoredAs,omitempty"`
	Invalidated bool            `json:"restorationInvalidated,omitempty"`
}

type Timeline struct {
	LineID     string          `json:"lineId"`
	Day        string          `json:"day"`
	DisplayID  string          `json:"customerId"`
	InternalID string          `json:"internalId"`
	Deleted    bool            `json:"deleted"`
	Customer   Customer        `json:"customer"`
	Loan       *LoanStatus     `json:"loan,omitempty"`
	Events     []TimelineEvent `json:"events"`
	Cycles     []Cycle         `json:"cycles,omitempty"`
}

// CustomerTimeline is the history of an active customer.
func (e *Engine) CustomerTimeline(ctx context.Context, lineID, day, displayID string) (Timeline, error) {
	if _, err := e.requireLine(ctx, lineID); err != nil {
		return Timeline{}, err
	}
	customers, idx, err := e.activeCustomer(ctx, lineID, day, displayID)
	if err != nil {
		return Timeline{}, err
	}
	c := customers[idx]
	txs, err := ReadList[Transaction](ctx, e.store, TransactionsPath(lineID, day, c.InternalID))
	if err != nil {
		return Timeline{}, err
	}
	chat, err := ReadList[ChatMessage](ctx, e.store, ChatPath(lineID, day, c.InternalID))
	if err != nil {
		return Timeline{}, err
	}

	b := newTimelineBuilder(time.Time{})
	b.origin(c)
	b.transactions(txs)
	b.chat(chat)

	status := e.loanStatus(c, txs)
	return Timeline{
		LineID:     lineID,
		Day:        day,
		DisplayID:  c.ID,
		InternalID: c.InternalID,
		Customer:   c,
		Loan:       &status,
		Events:     b.sorted(),
	}, nil
}

// DeletedCustomerTimeline is the history leading up to one deletion record,
// including every earlier cycle reachable through its restoration chain.
// A zero ts selects the latest record for the displayId.
func (e *Engine) DeletedCustomerTimeline(ctx context.Context, lineID, displayID, day string, ts int64) (Timeline, error) {
	rec, err := e.GetDeletedCustomer(ctx, lineID, displayID, day, ts)
	if err != nil {
		return Timeline{}, err
	}
	deleted, err := ReadList[DeletedCustomerRecord](ctx, e.store, DeletedCustomersPath(lineID))
	if err != nil {
		return Timeline{}, err
	}
	chain := restorationChain(deleted, rec)

	b := newTimelineBuilder(rec.DeletedAt)
	b.origin(chain[0].Customer)
	loaded := make(map[string]bool)
	for _, r := range chain {
		txPath := ArchivedTransactionsPath(lineID, r.DeletedFrom, r.InternalID)
		if !loaded[txPath] {
			loaded[txPath] = true
			txs, err := ReadList[Transaction](ctx, e.store, txPath)
			if err != nil {
				return Timeline{}, err
			}
			b.transactions(txs)
		}
		chatPath := ArchivedChatPath(lineID, r.DeletedFrom, r.InternalID)
		if !loaded[chatPath] {
			loaded[chatPath] = true
			chat, err := ReadList[ChatMessage](ctx, e.store, chatPath)
			if err != nil {
				return Timeline{}, err
			}
			b.chat(chat)
		}
	}

	cycles := make([]Cycle, 0, len(chain))
	for _, r := range chain {
		cycles = append(cycles, Cycle{
			Record:      r.Ref(),
			DisplayID:   r.Customer.ID,
			DeletedAt:   r.DeletedAt,
			Loan:        r.Customer.LoanTerms,
			Net:         r.NetContribution,
			Remaining:   r.RemainingAtDeletion,
			RestoredAs:  r.RestoredAs,
			Invalidated: r.RestorationInvalidated,
		})
	}

	return Timeline{
		LineID:     lineID,
		Day:        rec.DeletedFrom,
		DisplayID:  rec.Customer.ID,
		InternalID: rec.InternalID,
		Deleted:    true,
		Customer:   rec.Customer,
		Events:     b.sorted(),
		Cycles:     cycles,
	}, nil
}

// restorationChain returns start and its reachable predecessors, oldest
// first.
func restorationChain(deleted []DeletedCustomerRecord, start DeletedCustomerRecord) []DeletedCustomerRecord {
	index := make(map[RecordRef]DeletedCustomerRecord, len(deleted))
	for _, r := range deleted {
		index[r.Ref()] = r
	}

	chain := []DeletedCustomerRecord{start}
	visited := map[RecordRef]bool{start.Ref(): true}
	cur := start
	for cur.Predecessor != nil {
		pred, ok := index[*cur.Predecessor]
		if !ok || visited[pred.Ref()] || pred.DeletedFrom != start.DeletedFrom || pred.RestorationInvalidated {
			break
		}
		visited[pred.Ref()] = true
		chain = append(chain, pred)
		cur = pred
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// =============================================================================
// BUILDER
// =============================================================================

type timelineBuilder struct {
	cutoff time.Time
	seen   map[string]bool
	events []TimelineEvent
}

func newTimelineBuilder(cutoff time.Time) *timelineBuilder {
	return &timelineBuilder{cutoff: cutoff, seen: make(map[string]bool)}
}

func (b *timelineBuilder) add(ev TimelineEvent) {
	if !b.cutoff.IsZero() && ev.At.After(b.cutoff) {
		return
	}
	if ev.ID != "" {
		if b.seen[ev.ID] {
			return
		}
		b.seen[ev.ID] = true
	}
	b.events = append(b.events, ev)
}

func (b *timelineBuilder) origin(c Customer) {
	loan := c.OriginLoan
	b.add(TimelineEvent{
		ID:     "origin_" + c.InternalID,
		Tag:    TagNewLoan,
		At:     customerStart(c),
		Date:   loan.Date,
		Amount: loan.TakenAmount,
		Loan:   &loan,
	})
}

func (b *timelineBuilder) transactions(txs []Transaction) {
	for _, tx := range txs {
		ev := TimelineEvent{
			ID:      tx.ID,
			At:      tx.Instant(),
			Date:    tx.Date,
			Amount:  tx.Amount,
			Loan:    tx.Loan,
			Message: tx.Comment,
			Source:  tx.Source,
			Edited:  tx.IsEdited,
		}
		switch tx.Type {
		case TxRenewal:
			ev.Tag = TagRenewal
		case TxRestored:
			ev.Tag = TagRestoredLoan
		case TxCreation:
			ev.Tag = TagNewLoan
		default:
			ev.Tag = TagPayment
		}
		b.add(ev)
	}
}

func (b *timelineBuilder) chat(msgs []ChatMessage) {
	for _, m := range msgs {
		b.add(TimelineEvent{
			ID:      m.ID,
			Tag:     TagComment,
			At:      m.Instant(),
			Date:    m.Date,
			Amount:  decimal.Zero,
			Message: m.Message,
		})
	}
}

func (b *timelineBuilder) sorted() []TimelineEvent {
	sort.SliceStable(b.events, func(i, j int) bool { return b.events[i].At.Before(b.events[j].At) })
	return b.events
}
