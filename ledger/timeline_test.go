package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linebook/collection-ledger/ledger"
)

// referenceLine replays the delete/restore walk-through and leaves customer
// 2 active with its loan settled.
func referenceLine(t *testing.T, env *testEnv) {
	t.Helper()
	env.createLine(t, "L1", 50000)
	env.createCustomer(t, "L1", "Monday", "1", 12000, 2000)
	env.pay(t, "L1", "Monday", "1", 12000)
	_, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)
	env.restore(t, "L1", "1", "2", 5000, 1000)
	env.pay(t, "L1", "Monday", "2", 5000)
}

func tags(events []ledger.TimelineEvent) []ledger.EventTag {
	out := make([]ledger.EventTag, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Tag)
	}
	return out
}

// =============================================================================
// TIMELINES
// =============================================================================

func TestCustomerTimeline_ActiveRestoredCustomer(t *testing.T) {
	env := newTestEnv(t)
	referenceLine(t, env)

	_, err := env.engine.AddComment(env.ctx, "L1", "Monday", "2", "paid early", ledger.Date{})
	require.NoError(t, err)

	tl, err := env.engine.CustomerTimeline(env.ctx, "L1", "Monday", "2")
	require.NoError(t, err)

	assert.Equal(t, []ledger.EventTag{
		ledger.TagNewLoan,
		ledger.TagPayment,
		ledger.TagRestoredLoan,
		ledger.TagPayment,
		ledger.TagComment,
	}, tags(tl.Events))
	require.NotNil(t, tl.Loan)
	assert.True(t, tl.Loan.Settled())
	assert.False(t, tl.Deleted)
}

func TestDeletedCustomerTimeline_WalksChainOnce(t *testing.T) {
	// GIVEN: the reference line with customer 2 deleted again
	env := newTestEnv(t)
	referenceLine(t, env)
	first, err := env.engine.GetDeletedCustomer(env.ctx, "L1", "1", "Monday", 0)
	require.NoError(t, err)
	_, err = env.engine.SoftDelete(env.ctx, "L1", "Monday", "2")
	require.NoError(t, err)

	// WHEN
	tl, err := env.engine.DeletedCustomerTimeline(env.ctx, "L1", "2", "Monday", 0)

	// THEN: both cycles, every event exactly once
	require.NoError(t, err)
	assert.True(t, tl.Deleted)
	assert.Equal(t, []ledger.EventTag{
		ledger.TagNewLoan,
		ledger.TagPayment,
		ledger.TagRestoredLoan,
		ledger.TagPayment,
	}, tags(tl.Events))
	require.Len(t, tl.Cycles, 2)
	assert.Equal(t, "1", tl.Cycles[0].DisplayID)
	assert.Equal(t, "2", tl.Cycles[0].RestoredAs)
	assert.Equal(t, "2", tl.Cycles[1].DisplayID)

	// AND: the first record alone stops at its own deletion
	early, err := env.engine.DeletedCustomerTimeline(env.ctx, "L1", "1", "Monday", first.DeletionTimestamp)
	require.NoError(t, err)
	assert.Equal(t, []ledger.EventTag{ledger.TagNewLoan, ledger.TagPayment}, tags(early.Events))
	assert.Len(t, early.Cycles, 1)
}

func TestDeletedCustomerTimeline_CyclicPredecessorsTerminate(t *testing.T) {
	// GIVEN: two records that name each other as predecessor
	env := newTestEnv(t)
	env.createLine(t, "L1", 0)
	at := time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC)
	a := ledger.RecordRef{InternalID: "x", DeletionTimestamp: 1}
	b := ledger.RecordRef{InternalID: "x", DeletionTimestamp: 2}
	records := []ledger.DeletedCustomerRecord{
		{Customer: ledger.Customer{ID: "5", InternalID: "x"}, InternalID: "x", DeletedFrom: "Monday", DeletionTimestamp: 1, DeletedAt: at, Predecessor: &b},
		{Customer: ledger.Customer{ID: "6", InternalID: "x"}, InternalID: "x", DeletedFrom: "Monday", DeletionTimestamp: 2, DeletedAt: at, Predecessor: &a},
	}
	require.NoError(t, ledger.WriteRecord(env.ctx, env.store, ledger.DeletedCustomersPath("L1"), records))

	// WHEN
	tl, err := env.engine.DeletedCustomerTimeline(env.ctx, "L1", "6", "Monday", 2)

	// THEN
	require.NoError(t, err)
	assert.Len(t, tl.Cycles, 2)
}

func TestDeletedCustomerTimeline_UnknownRecord(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 0)

	_, err := env.engine.DeletedCustomerTimeline(env.ctx, "L1", "1", "Monday", 0)
	assert.ErrorIs(t, err, ledger.ErrDeletedCustomerNotFound)
}

// =============================================================================
// COLLECTIONS AND STATEMENTS
// =============================================================================

func TestCollections_ReferenceLine(t *testing.T) {
	env := newTestEnv(t)
	referenceLine(t, env)

	got, err := env.engine.Collections(env.ctx, "L1", ledger.CollectionFilter{})
	require.NoError(t, err)

	assert.True(t, dec(17000).Equal(got.Totals.Going), "origin 12000 + restored 5000")
	assert.True(t, dec(17000).Equal(got.Totals.Incoming))
	assert.True(t, got.Totals.NetFlow.IsZero())
	assert.Len(t, got.Going, 2)
	assert.Len(t, got.Incoming, 2)
	assert.Len(t, got.UniqueDates, 3)

	// A single-date filter returns only that day's flows
	day, err := env.engine.Collections(env.ctx, "L1", ledger.CollectionFilter{Date: loanDate()})
	require.NoError(t, err)
	assert.True(t, dec(12000).Equal(day.Totals.Going))
	assert.True(t, day.Totals.Incoming.IsZero())
	assert.Empty(t, day.UniqueDates)
}

func TestCollections_DeletedCustomerCountedOnce(t *testing.T) {
	env := newTestEnv(t)
	referenceLine(t, env)
	_, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "2")
	require.NoError(t, err)

	got, err := env.engine.Collections(env.ctx, "L1", ledger.CollectionFilter{})
	require.NoError(t, err)

	assert.True(t, dec(17000).Equal(got.Totals.Going))
	assert.True(t, dec(17000).Equal(got.Totals.Incoming))
	for _, ce := range got.Going {
		assert.True(t, ce.Deleted)
	}

	other, err := env.engine.Collections(env.ctx, "L1", ledger.CollectionFilter{Days: []string{"Tuesday"}})
	require.NoError(t, err)
	assert.Empty(t, other.Going)
	assert.Empty(t, other.Incoming)
}

func TestCustomerStatement_RowsByDate(t *testing.T) {
	env := newTestEnv(t)
	referenceLine(t, env)

	st, err := env.engine.CustomerStatement(env.ctx, "L1", "Monday", "2")
	require.NoError(t, err)

	require.Len(t, st.Rows, 3)
	assert.Equal(t, loanDate(), st.Rows[0].Date)
	assert.True(t, dec(12000).Equal(st.Rows[0].Taken))
	assert.True(t, dec(17000).Equal(st.Rows[1].Received), "both payments share a date")
	assert.True(t, dec(5000).Equal(st.Rows[2].Taken))
	assert.True(t, dec(17000).Equal(st.Totals.Taken))
	assert.True(t, dec(17000).Equal(st.Totals.Received))
	assert.True(t, st.Totals.Remaining.IsZero())
}

func TestDeletedCustomerStatement_RemainingFromLastCycle(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 10000)
	env.createCustomer(t, "L1", "Monday", "3", 4000, 400)
	env.pay(t, "L1", "Monday", "3", 1500)
	_, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "3")
	require.NoError(t, err)

	st, err := env.engine.DeletedCustomerStatement(env.ctx, "L1", "3", "Monday", 0)
	require.NoError(t, err)

	assert.True(t, st.Deleted)
	assert.True(t, dec(4000).Equal(st.Totals.Taken))
	assert.True(t, dec(1500).Equal(st.Totals.Received))
	assert.True(t, dec(2500).Equal(st.Totals.Remaining))
}

// =============================================================================
// QUERIES
// =============================================================================

func TestPendingCustomers_MostOverdueFirst(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 100000)
	env.createCustomer(t, "L1", "Monday", "1", 12000, 0)
	env.createCustomer(t, "L1", "Monday", "2", 6000, 0)
	env.pay(t, "L1", "Monday", "2", 6000)

	short, err := env.engine.CreateCustomer(env.ctx, "L1", "Tuesday", ledger.CustomerInput{
		ID: "1", Name: "Short", TakenAmount: dec(1000), Date: loanDate(), Weeks: 4,
	})
	require.NoError(t, err)

	today := time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC)
	pending, err := env.engine.PendingCustomers(env.ctx, "L1", today)
	require.NoError(t, err)

	require.Len(t, pending, 2, "settled customer 2 is not pending")
	assert.Equal(t, short.InternalID, pending[0].InternalID)
	assert.Equal(t, "Tuesday", pending[0].Day)
	assert.Equal(t, "1", pending[1].ID)
	assert.Equal(t, 10, pending[1].DaysOverdue)
	assert.True(t, dec(12000).Equal(pending[1].Expected))
}

func TestNextCustomerID_SkipsDeletedIDs(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 100000)

	id, err := env.engine.NextCustomerID(env.ctx, "L1", "Monday")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	env.createCustomer(t, "L1", "Monday", "1", 1000, 0)
	env.createCustomer(t, "L1", "Monday", "4", 1000, 0)
	_, err = env.engine.SoftDelete(env.ctx, "L1", "Monday", "4")
	require.NoError(t, err)

	id, err = env.engine.NextCustomerID(env.ctx, "L1", "Monday")
	require.NoError(t, err)
	assert.Equal(t, "5", id)
}
