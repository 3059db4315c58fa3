package ledger_test

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linebook/collection-ledger/ledger"
)

// =============================================================================
// BALANCE FORWARD
// =============================================================================

func TestReferenceScenario_IncrementalMatchesRecompute(t *testing.T) {
	// GIVEN: line L1 starting with 50000 in the till
	env := newTestEnv(t)
	env.createLine(t, "L1", 50000)
	env.requireBF(t, "L1", 50000)

	// WHEN: customer 1 takes 12000 with 2000 interest (principal 10000)
	env.createCustomer(t, "L1", "Monday", "1", 12000, 2000)
	env.requireBF(t, "L1", 40000)

	// AND: pays back 12000
	env.pay(t, "L1", "Monday", "1", 12000)
	env.requireBF(t, "L1", 52000)

	// AND: is soft-deleted (BF does not move)
	_, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)
	env.requireBF(t, "L1", 52000)

	// AND: is restored as customer 2 with 5000 taken, 1000 interest
	env.restore(t, "L1", "1", "2", 5000, 1000)
	env.requireBF(t, "L1", 48000)

	// AND: customer 2 pays 5000
	env.pay(t, "L1", "Monday", "2", 5000)

	// THEN: both paths agree at 53000
	env.requireBF(t, "L1", 53000)
}

func TestSoftDelete_IsNeutralAtAnyRemaining(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 10000)
	env.createCustomer(t, "L1", "Monday", "7", 3000, 300)
	env.pay(t, "L1", "Monday", "7", 1000)
	env.requireBF(t, "L1", 8300)

	rec, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "7")
	require.NoError(t, err)

	env.requireBF(t, "L1", 8300)
	assert.True(t, dec(-1700).Equal(rec.NetContribution), "net = 1000 paid - 2700 principal")
	assert.True(t, dec(2000).Equal(rec.RemainingAtDeletion))
}

func TestRepeatedDeleteRestore_CountsSharedInternalIDOnce(t *testing.T) {
	// GIVEN: a customer deleted, restored and deleted again; both deletion
	// records share one internalId
	env := newTestEnv(t)
	env.createLine(t, "L1", 20000)
	first := env.createCustomer(t, "L1", "Monday", "1", 5000, 500)
	env.pay(t, "L1", "Monday", "1", 5000)
	_, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)

	restored := env.restore(t, "L1", "1", "2", 4000, 400)
	env.pay(t, "L1", "Monday", "2", 1000)
	second, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "2")
	require.NoError(t, err)

	// THEN: identity is stable across both cycles
	assert.Equal(t, first.InternalID, restored.InternalID)
	assert.Equal(t, first.InternalID, second.InternalID)
	require.NotNil(t, second.Predecessor)
	assert.Equal(t, first.InternalID, second.Predecessor.InternalID)

	// AND: 20000 - 4500 + 5000 - 3600 + 1000
	env.requireBF(t, "L1", 17900)

	all, err := env.engine.DeletedCustomers(env.ctx, "L1", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.NotEqual(t, all[0].DeletionTimestamp, all[1].DeletionTimestamp)

	pending, err := env.engine.DeletedCustomers(env.ctx, "L1", false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2", pending[0].DisplayID())
}

func TestPaymentEditAndDelete_MoveBF(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 10000)
	env.createCustomer(t, "L1", "Monday", "1", 5000, 500)
	tx := env.pay(t, "L1", "Monday", "1", 1000)
	env.requireBF(t, "L1", 6500)

	amount := dec(1500)
	comment := "corrected"
	edited, err := env.engine.UpdateTransaction(env.ctx, "L1", "Monday", "1", tx.ID, ledger.TransactionUpdate{
		Amount:  &amount,
		Comment: &comment,
	})
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)
	env.requireBF(t, "L1", 7000)

	require.NoError(t, env.engine.DeleteTransaction(env.ctx, "L1", "Monday", "1", tx.ID))
	env.requireBF(t, "L1", 5500)

	err = env.engine.DeleteTransaction(env.ctx, "L1", "Monday", "1", tx.ID)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestUpdateCustomer_LoanEditMovesBF(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 10000)
	env.createCustomer(t, "L1", "Monday", "1", 5000, 500)
	env.requireBF(t, "L1", 5500)

	taken := dec(6000)
	name := "Renamed"
	c, err := env.engine.UpdateCustomer(env.ctx, "L1", "Monday", "1", ledger.CustomerUpdate{
		Name:        &name,
		TakenAmount: &taken,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", c.Name)
	assert.True(t, taken.Equal(c.OriginLoan.TakenAmount))

	env.requireBF(t, "L1", 4500)
}

func TestConcurrentPayments_KeepBFConsistent(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 0)
	env.createCustomer(t, "L1", "Monday", "1", 50000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.RecordPayment(env.ctx, "L1", "Monday", "1", ledger.PaymentInput{Amount: dec(100)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	env.requireBF(t, "L1", -50000+2000)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestCreateCustomer_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 10000)

	tests := []struct {
		name     string
		taken    int64
		interest int64
		pc       int64
	}{
		{"zero taken", 0, 0, 0},
		{"interest equals taken", 1000, 1000, 0},
		{"interest and pc exceed taken", 1000, 600, 600},
		{"negative pc", 1000, 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.CreateCustomer(env.ctx, "L1", "Monday", ledger.CustomerInput{
				ID:          "1",
				Name:        "A",
				TakenAmount: dec(tt.taken),
				Interest:    dec(tt.interest),
				PC:          dec(tt.pc),
			})
			require.Error(t, err)
			assert.True(t, ledger.IsInvalid(err))
			assert.ErrorIs(t, err, ledger.ErrInvalidLoan)
		})
	}

	list, err := env.engine.ListCustomers(env.ctx, "L1", "Monday")
	require.NoError(t, err)
	assert.Empty(t, list, "rejected loans write nothing")
	env.requireBF(t, "L1", 10000)
}

func TestCreateCustomer_DuplicateDisplayID(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 10000)
	env.createCustomer(t, "L1", "Monday", "1", 1000, 100)

	_, err := env.engine.CreateCustomer(env.ctx, "L1", "Monday", ledger.CustomerInput{
		ID: "1", Name: "Again", TakenAmount: dec(1000),
	})
	var dup *ledger.DuplicateIDError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "1", dup.DisplayID)
	assert.True(t, ledger.IsConflict(err))

	// Same displayId on another day is fine
	env.createCustomer(t, "L1", "Tuesday", "1", 1000, 100)
}

func TestCreateCustomer_UnknownLineOrDay(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.CreateCustomer(env.ctx, "nope", "Monday", ledger.CustomerInput{
		ID: "1", Name: "A", TakenAmount: dec(1000),
	})
	assert.ErrorIs(t, err, ledger.ErrLineNotFound)

	env.createLine(t, "L1", 0)
	_, err = env.engine.CreateCustomer(env.ctx, "L1", "Someday", ledger.CustomerInput{
		ID: "1", Name: "A", TakenAmount: dec(1000),
	})
	assert.ErrorIs(t, err, ledger.ErrDayNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// RENEWAL
// =============================================================================

func TestRenewal_RequiresSettledLoan(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 20000)
	env.createCustomer(t, "L1", "Monday", "1", 5000, 500)
	env.pay(t, "L1", "Monday", "1", 4999)

	renewal := ledger.RenewalInput{TakenAmount: dec(8000), Interest: dec(800), Date: loanDate().AddDays(70)}

	// WHEN: 1 is still owed
	_, err := env.engine.CreateRenewal(env.ctx, "L1", "Monday", "1", renewal)

	// THEN: conflict naming the outstanding amount
	var out *ledger.OutstandingBalanceError
	require.True(t, errors.As(err, &out))
	assert.True(t, dec(1).Equal(out.Remaining))
	assert.ErrorIs(t, err, ledger.ErrConflict)

	// WHEN: remaining reaches exactly zero
	env.pay(t, "L1", "Monday", "1", 1)
	tx, err := env.engine.CreateRenewal(env.ctx, "L1", "Monday", "1", renewal)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxRenewal, tx.Type)

	// THEN: the new cycle owes the renewal amount and starts fresh
	summary, err := env.engine.GetCustomer(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxRenewal, summary.Loan.EventType)
	assert.True(t, dec(8000).Equal(summary.Loan.Remaining))
	assert.True(t, dec(8000).Equal(summary.TakenAmount), "customer mirrors the current loan")

	// AND: 20000 - 4500 + 5000 - 7200
	env.requireBF(t, "L1", 13300)

	renewals, err := env.engine.ListRenewals(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)
	assert.Len(t, renewals, 1)
}

func TestRenewal_EditThroughCustomerUpdatesCurrentLoan(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 20000)
	env.createCustomer(t, "L1", "Monday", "1", 5000, 500)
	env.pay(t, "L1", "Monday", "1", 5000)
	_, err := env.engine.CreateRenewal(env.ctx, "L1", "Monday", "1", ledger.RenewalInput{TakenAmount: dec(8000), Interest: dec(800)})
	require.NoError(t, err)
	env.requireBF(t, "L1", 13300)

	taken := dec(9000)
	_, err = env.engine.UpdateCustomer(env.ctx, "L1", "Monday", "1", ledger.CustomerUpdate{TakenAmount: &taken})
	require.NoError(t, err)

	// Origin loan untouched, renewal principal 7200 -> 8200
	env.requireBF(t, "L1", 12300)

	txs, err := env.engine.ListTransactions(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)
	var renewal ledger.Transaction
	for _, tx := range txs {
		if tx.Type == ledger.TxRenewal {
			renewal = tx
		}
	}
	require.NotNil(t, renewal.Loan)
	assert.True(t, taken.Equal(renewal.Loan.TakenAmount))
	assert.True(t, renewal.IsEdited)

	// Loan records cannot be edited as payments
	_, err = env.engine.UpdateTransaction(env.ctx, "L1", "Monday", "1", renewal.ID, ledger.TransactionUpdate{Amount: &taken})
	assert.True(t, ledger.IsInvalid(err))
}

// =============================================================================
// RESTORE
// =============================================================================

func TestRestore_Rules(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 20000)
	env.createCustomer(t, "L1", "Monday", "1", 5000, 500)
	env.createCustomer(t, "L1", "Monday", "9", 1000, 100)
	rec, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)

	t.Run("new display id must be free", func(t *testing.T) {
		_, err := env.engine.Restore(env.ctx, "L1", ledger.RestoreInput{
			DisplayID: "1", NewDisplayID: "9", TakenAmount: dec(1000),
		})
		var dup *ledger.DuplicateIDError
		assert.True(t, errors.As(err, &dup))
	})

	t.Run("unknown record", func(t *testing.T) {
		_, err := env.engine.Restore(env.ctx, "L1", ledger.RestoreInput{
			DisplayID: "1", DeletionTimestamp: rec.DeletionTimestamp + 1, NewDisplayID: "3", TakenAmount: dec(1000),
		})
		assert.ErrorIs(t, err, ledger.ErrDeletedCustomerNotFound)
	})

	t.Run("interest and pc default to the deleted loan", func(t *testing.T) {
		c, err := env.engine.Restore(env.ctx, "L1", ledger.RestoreInput{
			DisplayID: "1", DeletionTimestamp: rec.DeletionTimestamp, NewDisplayID: "2", TakenAmount: dec(6000),
		})
		require.NoError(t, err)
		assert.True(t, dec(500).Equal(c.Interest))
		require.NotNil(t, c.Restored)
		assert.Equal(t, "1", c.Restored.FromDisplayID)
		assert.Equal(t, rec.Ref(), c.Restored.Record)
		assert.Equal(t, rec.InternalID, c.InternalID)
	})

	t.Run("a record restores only once", func(t *testing.T) {
		_, err := env.engine.Restore(env.ctx, "L1", ledger.RestoreInput{
			DisplayID: "1", DeletionTimestamp: rec.DeletionTimestamp, NewDisplayID: "4", TakenAmount: dec(1000),
		})
		var already *ledger.AlreadyRestoredError
		require.True(t, errors.As(err, &already))
		assert.Equal(t, "2", already.RestoredAs)
		assert.True(t, ledger.IsConflict(err))
	})

	// 20000 - 4500 - 900 - 5500
	env.requireBF(t, "L1", 9100)
}

func TestReusedDisplayID_GetsNewIdentityAndInvalidatesChain(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 20000)
	original := env.createCustomer(t, "L1", "Monday", "1", 5000, 500)
	_, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)
	env.restore(t, "L1", "1", "2", 3000, 300)

	// WHEN: a brand-new customer claims displayId 1
	fresh := env.createCustomer(t, "L1", "Monday", "1", 2000, 200)

	// THEN: it gets its own internalId
	assert.NotEqual(t, original.InternalID, fresh.InternalID)
	assert.False(t, fresh.IsRestored())

	// AND: the old restoration link is invalidated
	rec, err := env.engine.GetDeletedCustomer(env.ctx, "L1", "1", "Monday", 0)
	require.NoError(t, err)
	assert.True(t, rec.RestorationInvalidated)
	assert.NotNil(t, rec.InvalidatedAt)

	txs, err := env.engine.ListTransactions(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)
	assert.Empty(t, txs, "history of the old identity stays with it")

	// 20000 - 4500 - 2700 - 1800
	env.requireBF(t, "L1", 11000)
}

// =============================================================================
// LINES
// =============================================================================

func TestDeleteLine_RemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 1000)
	env.createCustomer(t, "L1", "Monday", "1", 500, 50)
	env.pay(t, "L1", "Monday", "1", 100)
	_, err := env.engine.SoftDelete(env.ctx, "L1", "Monday", "1")
	require.NoError(t, err)

	require.NoError(t, env.engine.DeleteLine(env.ctx, "L1"))

	_, err = env.engine.GetLine(env.ctx, "L1")
	assert.ErrorIs(t, err, ledger.ErrLineNotFound)

	for _, category := range ledger.LineScopedCategories {
		names, err := env.store.List(env.ctx, ledger.JoinPath(category, "L1"))
		require.NoError(t, err)
		assert.Empty(t, names, category)
	}

	// Missing line recomputes from zero
	b, err := env.engine.RecomputeBalance(env.ctx, "L1")
	require.NoError(t, err)
	assert.True(t, b.BF.IsZero())
}

func TestLines_DaysAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	line := env.createLine(t, "L1", 0)
	assert.Len(t, line.Days, 7)

	weekly, err := env.engine.CreateLine(env.ctx, ledger.LineInput{Name: "Hills", Type: ledger.LineWeekly})
	require.NoError(t, err)
	assert.Empty(t, weekly.Days)
	assert.NotEmpty(t, weekly.ID)

	_, err = env.engine.AddDay(env.ctx, weekly.ID, "Village A")
	require.NoError(t, err)
	_, err = env.engine.AddDay(env.ctx, weekly.ID, "Village A")
	assert.ErrorIs(t, err, ledger.ErrDuplicateDay)

	_, err = env.engine.CreateLine(env.ctx, ledger.LineInput{ID: "L1", Name: "dup"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateLine)

	lines, err := env.engine.ListLines(env.ctx)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestRefreshBalance_RepairsDrift(t *testing.T) {
	env := newTestEnv(t)
	env.createLine(t, "L1", 1000)
	env.createCustomer(t, "L1", "Monday", "1", 500, 0)

	// GIVEN: the cached BF was overwritten by something outside the engine
	line, found, err := ledger.ReadRecord[ledger.Line](env.ctx, env.store, ledger.LinePath("L1"))
	require.NoError(t, err)
	require.True(t, found)
	line.CurrentBF = decimal.NewFromInt(9999)
	require.NoError(t, ledger.WriteRecord(env.ctx, env.store, ledger.LinePath("L1"), line))

	// WHEN
	r, err := env.engine.RefreshBalance(env.ctx, "L1")

	// THEN
	require.NoError(t, err)
	assert.True(t, r.Drifted())
	assert.True(t, dec(500-9999).Equal(r.Drift), fmt.Sprintf("drift %s", r.Drift))
	env.requireBF(t, "L1", 500)
}

func TestUpdateLine_InitialAmountMovesBF(t *testing.T) {
	// GIVEN a line of 10000 with one loan of 4500 principal
	env := newTestEnv(t)
	env.createLine(t, "L1", 10000)
	env.createCustomer(t, "L1", "Monday", "1", 5000, 500)
	env.requireBF(t, "L1", 5500)

	// WHEN the opening amount and the name change
	name := "  East Route "
	amount := dec(12000)
	line, err := env.engine.UpdateLine(env.ctx, "L1", ledger.LineUpdate{Name: &name, InitialAmount: &amount})
	require.NoError(t, err)

	// THEN BF follows the new opening amount
	assert.Equal(t, "East Route", line.Name)
	assert.True(t, line.CurrentBF.Equal(dec(7500)), "bf %s", line.CurrentBF)
	env.requireBF(t, "L1", 7500)

	blank := " "
	_, err = env.engine.UpdateLine(env.ctx, "L1", ledger.LineUpdate{Name: &blank})
	assert.True(t, ledger.IsInvalid(err))

	_, err = env.engine.UpdateLine(env.ctx, "nope", ledger.LineUpdate{Name: &name})
	assert.ErrorIs(t, err, ledger.ErrLineNotFound)
}

// =============================================================================
// RANDOM SEQUENCES
// =============================================================================

// randomOps drives one line through a seeded mix of lifecycle operations.
// Rejected operations are fine as long as they are client errors.
type randomOps struct {
	t    *testing.T
	env  *testEnv
	rng  *rand.Rand
	line string
	next int
}

var randomDays = []string{"Monday", "Thursday"}

func (r *randomOps) amount(max int64) decimal.Decimal {
	return dec(100 * (1 + r.rng.Int63n(max/100)))
}

func (r *randomOps) day() string { return randomDays[r.rng.Intn(len(randomDays))] }

// customer picks an active customer, or ok=false when the day is empty.
func (r *randomOps) customer() (day, id string, ok bool) {
	day = r.day()
	list, err := r.env.engine.ListCustomers(r.env.ctx, r.line, day)
	require.NoError(r.t, err)
	if len(list) == 0 {
		return day, "", false
	}
	return day, list[r.rng.Intn(len(list))].ID, true
}

// payment picks one payment of an active customer.
func (r *randomOps) payment() (day, id, txID string, ok bool) {
	day, id, ok = r.customer()
	if !ok {
		return day, id, "", false
	}
	txs, err := r.env.engine.ListTransactions(r.env.ctx, r.line, day, id)
	require.NoError(r.t, err)
	var payments []string
	for _, tx := range txs {
		if tx.Type == ledger.TxPayment {
			payments = append(payments, tx.ID)
		}
	}
	if len(payments) == 0 {
		return day, id, "", false
	}
	return day, id, payments[r.rng.Intn(len(payments))], true
}

func (r *randomOps) step() (string, error) {
	ctx, e := r.env.ctx, r.env.engine
	date := loanDate().AddDays(r.rng.Intn(60))

	switch r.rng.Intn(8) {
	case 0:
		r.next++
		id := fmt.Sprintf("%d", r.next)
		taken := r.amount(5000)
		_, err := e.CreateCustomer(ctx, r.line, r.day(), ledger.CustomerInput{
			ID: id, Name: "Customer " + id, TakenAmount: taken,
			Interest: taken.Div(dec(10)).Floor(), PC: dec(r.rng.Int63n(3) * 50),
			Date: date, Weeks: 12,
		})
		return "create " + id, err
	case 1:
		day, id, ok := r.customer()
		if !ok {
			return "pay (no customer)", nil
		}
		_, err := e.RecordPayment(ctx, r.line, day, id, ledger.PaymentInput{Amount: r.amount(2000), Date: date})
		return "pay " + id, err
	case 2:
		day, id, ok := r.customer()
		if !ok {
			return "delete (no customer)", nil
		}
		_, err := e.SoftDelete(ctx, r.line, day, id)
		return "delete " + id, err
	case 3:
		deleted, err := e.DeletedCustomers(ctx, r.line, false)
		require.NoError(r.t, err)
		if len(deleted) == 0 {
			return "restore (nothing deleted)", nil
		}
		rec := deleted[r.rng.Intn(len(deleted))]
		r.next++
		newID := fmt.Sprintf("%d", r.next)
		_, err = e.Restore(ctx, r.line, ledger.RestoreInput{
			DisplayID: rec.Customer.ID, Day: rec.DeletedFrom, DeletionTimestamp: rec.DeletionTimestamp,
			NewDisplayID: newID, TakenAmount: r.amount(5000), Date: date, Weeks: 10,
		})
		return "restore " + rec.Customer.ID + " as " + newID, err
	case 4:
		day, id, ok := r.customer()
		if !ok {
			return "renew (no customer)", nil
		}
		taken := r.amount(5000)
		_, err := e.CreateRenewal(ctx, r.line, day, id, ledger.RenewalInput{
			TakenAmount: taken, Interest: taken.Div(dec(10)).Floor(), Date: date, Weeks: 12,
		})
		return "renew " + id, err
	case 5:
		day, id, txID, ok := r.payment()
		if !ok {
			return "edit payment (none)", nil
		}
		amount := r.amount(2000)
		_, err := e.UpdateTransaction(ctx, r.line, day, id, txID, ledger.TransactionUpdate{Amount: &amount})
		return "edit payment " + txID, err
	case 6:
		day, id, txID, ok := r.payment()
		if !ok {
			return "delete payment (none)", nil
		}
		return "delete payment " + txID, e.DeleteTransaction(ctx, r.line, day, id, txID)
	default:
		day, id, ok := r.customer()
		if !ok {
			return "update customer (no customer)", nil
		}
		taken := r.amount(5000)
		_, err := e.UpdateCustomer(ctx, r.line, day, id, ledger.CustomerUpdate{TakenAmount: &taken})
		return "update customer " + id, err
	}
}

func TestRandomOperations_CachedBFMatchesRecompute(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 2025} {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			// GIVEN: a fresh line and a seeded sequence of operations
			env := newTestEnv(t)
			env.createLine(t, "L1", 100000)
			ops := &randomOps{t: t, env: env, rng: rand.New(rand.NewSource(seed)), line: "L1"}

			for i := 0; i < 150; i++ {
				// WHEN: one operation runs
				name, err := ops.step()
				if err != nil {
					require.True(t, ledger.IsClientError(err), "step %d %s: %v", i, name, err)
				}

				// THEN: the stored BF equals a full recompute
				cached, err := env.engine.CachedBalance(env.ctx, "L1")
				require.NoError(t, err)
				b, err := env.engine.RecomputeBalance(env.ctx, "L1")
				require.NoError(t, err)
				require.True(t, b.BF.Equal(cached), "step %d %s: cached %s, recomputed %s", i, name, cached, b.BF)
			}
		})
	}
}
