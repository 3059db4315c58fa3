package accounts_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linebook/collection-ledger/accounts"
	"github.com/linebook/collection-ledger/ledger"
	"github.com/linebook/collection-ledger/ledger/store"
)

type testEnv struct {
	ctx      context.Context
	engine   *ledger.Engine
	accounts *accounts.Ledger
}

func newTestEnv(t *testing.T, initial int64) *testEnv {
	t.Helper()
	ctx := context.Background()
	engine := ledger.NewEngine(store.NewMemory())
	l := accounts.New(engine, nil)
	_, err := engine.CreateLine(ctx, ledger.LineInput{ID: "L1", Name: "Line 1", InitialAmount: decimal.NewFromInt(initial)})
	require.NoError(t, err)
	return &testEnv{ctx: ctx, engine: engine, accounts: l}
}

func (env *testEnv) requireBF(t *testing.T, want int64) {
	t.Helper()
	cached, err := env.engine.CachedBalance(env.ctx, "L1")
	require.NoError(t, err)
	b, err := env.engine.RecomputeBalance(env.ctx, "L1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(want).Equal(cached), "cached BF %s", cached)
	assert.True(t, decimal.NewFromInt(want).Equal(b.BF), "recomputed BF %s", b.BF)
}

func credit(n int64) accounts.EntryInput {
	return accounts.EntryInput{Description: "top-up", Credit: decimal.NewFromInt(n)}
}

func debit(n int64) accounts.EntryInput {
	return accounts.EntryInput{Description: "expense", Debit: decimal.NewFromInt(n)}
}

func TestEntries_MoveBF(t *testing.T) {
	// GIVEN: a line at 40000 with two accounts
	env := newTestEnv(t, 40000)
	owner, err := env.accounts.CreateAccount(env.ctx, "L1", "Owner")
	require.NoError(t, err)
	expenses, err := env.accounts.CreateAccount(env.ctx, "L1", "Expenses")
	require.NoError(t, err)

	// WHEN: the owner tops up and fuel is paid
	_, line, err := env.accounts.AddEntry(env.ctx, "L1", owner.ID, credit(10000))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50000).Equal(line.CurrentBF))

	fuel, _, err := env.accounts.AddEntry(env.ctx, "L1", expenses.ID, debit(500))
	require.NoError(t, err)

	// THEN
	env.requireBF(t, 49500)

	// WHEN: the fuel entry is corrected, then removed
	_, _, err = env.accounts.UpdateEntry(env.ctx, "L1", expenses.ID, fuel.ID, debit(800))
	require.NoError(t, err)
	env.requireBF(t, 49200)

	_, err = env.accounts.DeleteEntry(env.ctx, "L1", expenses.ID, fuel.ID)
	require.NoError(t, err)
	env.requireBF(t, 50000)

	entries, totals, err := env.accounts.ListEntries(env.ctx, "L1", owner.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.True(t, decimal.NewFromInt(10000).Equal(totals.Net))
}

func TestDeleteAccount_RemovesItsNet(t *testing.T) {
	env := newTestEnv(t, 1000)
	acc, err := env.accounts.CreateAccount(env.ctx, "L1", "Owner")
	require.NoError(t, err)
	_, _, err = env.accounts.AddEntry(env.ctx, "L1", acc.ID, credit(700))
	require.NoError(t, err)
	_, _, err = env.accounts.AddEntry(env.ctx, "L1", acc.ID, debit(200))
	require.NoError(t, err)
	env.requireBF(t, 1500)

	_, err = env.accounts.DeleteAccount(env.ctx, "L1", acc.ID)
	require.NoError(t, err)

	env.requireBF(t, 1000)
	list, err := env.accounts.ListAccounts(env.ctx, "L1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEntries_Validation(t *testing.T) {
	env := newTestEnv(t, 0)
	acc, err := env.accounts.CreateAccount(env.ctx, "L1", "Owner")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   accounts.EntryInput
	}{
		{"no amounts", accounts.EntryInput{Description: "x"}},
		{"negative credit", accounts.EntryInput{Credit: decimal.NewFromInt(-1)}},
		{"negative debit", accounts.EntryInput{Debit: decimal.NewFromInt(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.accounts.AddEntry(env.ctx, "L1", acc.ID, tt.in)
			assert.True(t, ledger.IsInvalid(err))
		})
	}

	_, err = env.accounts.CreateAccount(env.ctx, "L1", "  ")
	assert.True(t, ledger.IsInvalid(err))
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, 0)

	_, _, err := env.accounts.AddEntry(env.ctx, "L1", "missing", credit(1))
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
	assert.True(t, ledger.IsNotFound(err))

	acc, err := env.accounts.CreateAccount(env.ctx, "L1", "Owner")
	require.NoError(t, err)
	_, err = env.accounts.DeleteEntry(env.ctx, "L1", acc.ID, "missing")
	assert.True(t, accounts.IsNotFound(err))

	_, err = env.accounts.CreateAccount(env.ctx, "L2", "Owner")
	assert.ErrorIs(t, err, ledger.ErrLineNotFound)
}

func TestRenameAccount(t *testing.T) {
	env := newTestEnv(t, 0)
	acc, err := env.accounts.CreateAccount(env.ctx, "L1", "Owner")
	require.NoError(t, err)

	renamed, err := env.accounts.RenameAccount(env.ctx, "L1", acc.ID, "Partner")
	require.NoError(t, err)
	assert.Equal(t, "Partner", renamed.Name)
	assert.Equal(t, acc.ID, renamed.ID)
}

func TestDeleteLine_RemovesAccounts(t *testing.T) {
	env := newTestEnv(t, 0)
	acc, err := env.accounts.CreateAccount(env.ctx, "L1", "Owner")
	require.NoError(t, err)
	_, _, err = env.accounts.AddEntry(env.ctx, "L1", acc.ID, credit(100))
	require.NoError(t, err)

	require.NoError(t, env.engine.DeleteLine(env.ctx, "L1"))

	net, err := env.accounts.NetBalance(env.ctx, "L1")
	require.NoError(t, err)
	assert.True(t, net.IsZero())
}
