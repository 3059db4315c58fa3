package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linebook/collection-ledger/ledger"
	"github.com/linebook/collection-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// stepClock advances one minute on every call so that records written by
// consecutive operations never share an instant.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2025, time.January, 6, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

type testEnv struct {
	ctx    context.Context
	store  *store.Memory
	engine *ledger.Engine
}

func newTestEnv(t *testing.T, opts ...ledger.Option) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	clock := newStepClock()
	opts = append([]ledger.Option{ledger.WithClock(clock.Now)}, opts...)
	return &testEnv{
		ctx:    context.Background(),
		store:  mem,
		engine: ledger.NewEngine(mem, opts...),
	}
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func loanDate() ledger.Date { return ledger.NewDate(2025, time.January, 6) }

func (env *testEnv) createLine(t *testing.T, id string, amount int64) ledger.Line {
	t.Helper()
	line, err := env.engine.CreateLine(env.ctx, ledger.LineInput{
		ID:            id,
		Name:          "Line " + id,
		Type:          ledger.LineDaily,
		InitialAmount: dec(amount),
	})
	require.NoError(t, err)
	return line
}

func (env *testEnv) createCustomer(t *testing.T, lineID, day, id string, taken, interest int64) ledger.Customer {
	t.Helper()
	c, err := env.engine.CreateCustomer(env.ctx, lineID, day, ledger.CustomerInput{
		ID:          id,
		Name:        "Customer " + id,
		Village:     "Village",
		TakenAmount: dec(taken),
		Interest:    dec(interest),
		PC:          decimal.Zero,
		Date:        loanDate(),
		Weeks:       12,
	})
	require.NoError(t, err)
	return c
}

func (env *testEnv) pay(t *testing.T, lineID, day, id string, amount int64) ledger.Transaction {
	t.Helper()
	tx, err := env.engine.RecordPayment(env.ctx, lineID, day, id, ledger.PaymentInput{
		Amount: dec(amount),
		Date:   loanDate().AddDays(7),
	})
	require.NoError(t, err)
	return tx
}

func (env *testEnv) restore(t *testing.T, lineID, from, to string, taken, interest int64) ledger.Customer {
	t.Helper()
	i := dec(interest)
	c, err := env.engine.Restore(env.ctx, lineID, ledger.RestoreInput{
		DisplayID:    from,
		NewDisplayID: to,
		TakenAmount:  dec(taken),
		Interest:     &i,
		Date:         loanDate().AddDays(14),
		Weeks:        10,
	})
	require.NoError(t, err)
	return c
}

// requireBF checks the cached BF and a full recompute against want.
func (env *testEnv) requireBF(t *testing.T, lineID string, want int64) {
	t.Helper()
	cached, err := env.engine.CachedBalance(env.ctx, lineID)
	require.NoError(t, err)
	b, err := env.engine.RecomputeBalance(env.ctx, lineID)
	require.NoError(t, err)

	assert.True(t, dec(want).Equal(cached), "cached BF: want %d, got %s", want, cached)
	assert.True(t, dec(want).Equal(b.BF), "recomputed BF: want %d, got %s", want, b.BF)
}
