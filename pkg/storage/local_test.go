package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStoragePutGet(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "invoices/company-1/batch-1/item-1/invoice.pdf"

	returned, err := store.Put(ctx, key, []byte("%PDF-1.4 test"), "application/pdf")
	require.NoError(t, err)
	require.Equal(t, key, returned)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.4 test"), data)

	ok, err := store.Exists(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocalStorageGetMissing(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "invoices/none/missing.pdf")
	require.Error(t, err)
}

func TestLocalStorageDeleteIdempotent(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Put(ctx, "a/b.pdf", []byte("x"), "application/pdf")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "a/b.pdf"))
	require.NoError(t, store.Delete(ctx, "a/b.pdf"))
}
