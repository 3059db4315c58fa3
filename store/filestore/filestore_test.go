package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linebook/collection-ledger/store/filestore"
)

func newTestStore(t *testing.T) *filestore.Store {
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	data, err := store.Read(ctx, "lines/L1")
	require.NoError(t, err)
	assert.Nil(t, data, "absent record reads as nil")

	require.NoError(t, store.Write(ctx, "lines/L1", []byte(`{"id":"L1"}`)))
	data, err = store.Read(ctx, "lines/L1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"L1"}`, string(data))

	_, err = os.Stat(filepath.Join(store.Root(), "lines", "L1.json"))
	require.NoError(t, err, "record lives at {root}/{path}.json")

	require.NoError(t, store.Delete(ctx, "lines/L1"))
	require.NoError(t, store.Delete(ctx, "lines/L1"), "deleting twice is fine")
	data, err = store.Read(ctx, "lines/L1")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Write(ctx, "transactions/L1/Monday/a", []byte(`[]`)))
	require.NoError(t, store.Write(ctx, "transactions/L1/Tuesday/b", []byte(`[]`)))
	require.NoError(t, store.Write(ctx, "customers/L1/Monday", []byte(`[]`)))

	days, err := store.List(ctx, "transactions/L1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Monday", "Tuesday"}, days)

	ids, err := store.List(ctx, "transactions/L1/Monday")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	custDays, err := store.List(ctx, "customers/L1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Monday"}, custDays)

	none, err := store.List(ctx, "chat/L1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDelete_RemovesEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Write(ctx, "chat/L1/Monday/a", []byte(`[]`)))
	require.NoError(t, store.Delete(ctx, "chat/L1/Monday/a"))
	require.NoError(t, store.Delete(ctx, "chat/L1/Monday"))

	days, err := store.List(ctx, "chat/L1")
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestDelete_KeepsDirectoryWithChildren(t *testing.T) {
	// GIVEN: a record "chat/L1" and records filed beneath it
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Write(ctx, "chat/L1", []byte(`{}`)))
	require.NoError(t, store.Write(ctx, "chat/L1/Monday/a", []byte(`[]`)))

	// WHEN: the parent record is deleted
	require.NoError(t, store.Delete(ctx, "chat/L1"))

	// THEN: its file is gone and the children survive
	data, err := store.Read(ctx, "chat/L1")
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = store.Read(ctx, "chat/L1/Monday/a")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))

	days, err := store.List(ctx, "chat/L1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Monday"}, days)
}
