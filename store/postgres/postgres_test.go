package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linebook/collection-ledger/store/postgres"
)

func newMockStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.New(db), mock
}

func TestRead(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stored document", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM ledger_records WHERE path = $1`)).
			WithArgs("lines/L1").
			WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"L1"}`)))

		data, err := store.Read(ctx, "lines/L1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"L1"}`, string(data))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent path is nil without error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM ledger_records WHERE path = $1`)).
			WithArgs("lines/missing").
			WillReturnRows(sqlmock.NewRows([]string{"data"}))

		data, err := store.Read(ctx, "lines/missing")
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("driver errors are wrapped", func(t *testing.T) {
		store, mock := newMockStore(t)
		boom := errors.New("connection reset")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM ledger_records`)).
			WillReturnError(boom)

		_, err := store.Read(ctx, "lines/L1")
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})
}

func TestWrite_UpsertsWithParentDir(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ledger_records`)).
		WithArgs("customers/L1/Monday", "customers/L1", "customers", `[{"id":"1"}]`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Write(context.Background(), "customers/L1/Monday", []byte(`[{"id":"1"}]`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_ReturnsDistinctChildren(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT path FROM ledger_records WHERE dir = $1 OR dir LIKE $2`)).
		WithArgs("transactions/L1", `transactions/L1/%`).
		WillReturnRows(sqlmock.NewRows([]string{"path"}).
			AddRow("transactions/L1/Tuesday/b").
			AddRow("transactions/L1/Monday/a").
			AddRow("transactions/L1/Monday/c"))

	names, err := store.List(context.Background(), "transactions/L1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Monday", "Tuesday"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM ledger_records WHERE path = $1`)).
		WithArgs("lines/L1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "lines/L1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
