package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfblock/hackagotchi/internal/store"
	"github.com/rfblock/hackagotchi/internal/store/storetest"
	"github.com/rfblock/hackagotchi/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	s, err := Open(OpenOptions{InMemory: true}, logger.NewLogger("test", "info"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(OpenOptions{}, logger.NewLogger("test", "info"))
	assert.Error(t, err)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(OpenOptions{Path: dir}, logger.NewLogger("test", "info"))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, storetest.Item("gotchi", "g-1", store.Record{"price": store.Uint(3)})))
	require.NoError(t, s.Close())

	s, err = Open(OpenOptions{Path: dir}, logger.NewLogger("test", "info"))
	require.NoError(t, err)
	defer s.Close()

	out, err := s.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "gotchi"})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "3", *out.Items[0]["price"].N)
}

func TestQueryPriceOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for id, price := range map[string]uint64{"x": 900, "y": 5, "z": 70} {
		require.NoError(t, s.Put(ctx, storetest.Item("misc", id, store.Record{"price": store.Uint(price)})))
	}

	out, err := s.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "misc"})
	require.NoError(t, err)
	require.Len(t, out.Items, 3)
	assert.Equal(t, "y", *out.Items[0]["id"].S)
	assert.Equal(t, "z", *out.Items[1]["id"].S)
	assert.Equal(t, "x", *out.Items[2]["id"].S)
}

func TestDeleteDropsIndexEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := store.Key{Category: "land", ID: "l-1"}

	require.NoError(t, s.Put(ctx, storetest.Item(key.Category, key.ID, store.Record{"price": store.Uint(8)})))
	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))

	out, err := s.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "land"})
	require.NoError(t, err)
	assert.Empty(t, out.Items)
}

func TestRejectsSlashInKey(t *testing.T) {
	s := openTestStore(t)
	err := s.Put(context.Background(), storetest.Item("a/b", "1", nil))
	assert.ErrorIs(t, err, store.ErrInvalidKey)
}
