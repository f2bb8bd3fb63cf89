// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfblock/hackagotchi/internal/store"
)

// Item builds a stored item record with the given extra attributes.
func Item(category, id string, extra store.Record) store.Record {
	rec := store.Key{Category: category, ID: id}.Attributes()
	rec.Apply(extra, nil)
	return rec
}

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("PutGetDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec := Item("gotchi", "g-1", store.Record{"steader": store.String("U1")})
		require.NoError(t, s.Put(ctx, rec))

		got, err := s.Get(ctx, store.Key{Category: "gotchi", ID: "g-1"})
		require.NoError(t, err)
		assert.Equal(t, rec, got)

		require.NoError(t, s.Delete(ctx, store.Key{Category: "gotchi", ID: "g-1"}))
		_, err = s.Get(ctx, store.Key{Category: "gotchi", ID: "g-1"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("PutRejectsInvalidKey", func(t *testing.T) {
		s := newStore(t)
		err := s.Put(context.Background(), store.Record{"cat": store.String("gotchi")})
		assert.ErrorIs(t, err, store.ErrInvalidKey)
	})

	t.Run("UpdateSetLeavesOtherFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.Key{Category: "misc", ID: "m-1"}

		require.NoError(t, s.Put(ctx, Item(key.Category, key.ID, store.Record{
			"steader": store.String("U1"),
			"name":    store.String("Egg"),
		})))

		require.NoError(t, s.Update(ctx, store.UpdateInput{
			Key: key,
			Set: store.Record{"price": store.Uint(500), "market_name": store.String("Golden Egg")},
		}))

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "500", *got["price"].N)
		assert.Equal(t, "Golden Egg", *got["market_name"].S)
		assert.Equal(t, "U1", *got["steader"].S)
		assert.Equal(t, "Egg", *got["name"].S)
	})

	t.Run("UpdateRemove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.Key{Category: "misc", ID: "m-2"}

		require.NoError(t, s.Put(ctx, Item(key.Category, key.ID, store.Record{
			"steader":     store.String("U1"),
			"price":       store.Uint(10),
			"market_name": store.String("Spoon"),
		})))

		in := store.UpdateInput{Key: key, Remove: []string{"price", "market_name"}}
		require.NoError(t, s.Update(ctx, in))
		require.NoError(t, s.Update(ctx, in))

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.NotContains(t, got, "price")
		assert.NotContains(t, got, "market_name")
		assert.Equal(t, "U1", *got["steader"].S)
	})

	t.Run("UpdateMissingRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.Key{Category: "misc", ID: "nope"}

		err := s.Update(ctx, store.UpdateInput{Key: key, Set: store.Record{"price": store.Uint(1)}})
		assert.ErrorIs(t, err, store.ErrNotFound)

		assert.NoError(t, s.Update(ctx, store.UpdateInput{Key: key, Remove: []string{"price"}}))
		_, err = s.Get(ctx, key)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UpdateRejectsKeyAttributes", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(context.Background(), store.UpdateInput{
			Key: store.Key{Category: "misc", ID: "m-3"},
			Set: store.Record{"cat": store.String("land")},
		})
		assert.ErrorIs(t, err, store.ErrInvalidKey)
	})

	t.Run("QueryCategoryIndex", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		records := []store.Record{
			Item("gotchi", "a", store.Record{"price": store.Uint(300), "market_name": store.String("A")}),
			Item("gotchi", "b", store.Record{"price": store.Uint(100), "market_name": store.String("B")}),
			Item("gotchi", "unlisted", store.Record{"steader": store.String("U1")}),
			Item("gotchi", "bad", store.Record{"price": store.String("cheap")}),
			Item("misc", "c", store.Record{"price": store.Uint(50), "market_name": store.String("C")}),
		}
		for _, rec := range records {
			require.NoError(t, s.Put(ctx, rec))
		}

		out, err := s.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "gotchi"})
		require.NoError(t, err)
		require.NotNil(t, out.Items)
		assert.ElementsMatch(t, []string{"a", "b", "bad"}, ids(out.Items))
	})

	t.Run("QueryTracksUpdates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.Key{Category: "land", ID: "l-1"}

		require.NoError(t, s.Put(ctx, Item(key.Category, key.ID, nil)))

		out, err := s.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "land"})
		require.NoError(t, err)
		assert.Empty(t, out.Items)

		require.NoError(t, s.Update(ctx, store.UpdateInput{Key: key, Set: store.Record{"price": store.Uint(9)}}))
		require.NoError(t, s.Update(ctx, store.UpdateInput{Key: key, Set: store.Record{"price": store.Uint(19)}}))
		out, err = s.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "land"})
		require.NoError(t, err)
		require.Len(t, out.Items, 1)
		assert.Equal(t, "19", *out.Items[0]["price"].N)

		require.NoError(t, s.Update(ctx, store.UpdateInput{Key: key, Remove: []string{"price"}}))
		out, err = s.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "land"})
		require.NoError(t, err)
		assert.NotNil(t, out.Items)
		assert.Empty(t, out.Items)
	})

	t.Run("ConcurrentUpdatesLastWriteWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.Key{Category: "gotchi", ID: "g-race"}
		require.NoError(t, s.Put(ctx, Item(key.Category, key.ID, store.Record{"steader": store.String("U1")})))

		const writers = 32
		errs := make(chan error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Update(ctx, store.UpdateInput{Key: key, Set: store.Record{
					"price":       store.Uint(uint64(i + 1)),
					"market_name": store.String(fmt.Sprintf("n%d", i+1)),
				}})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got["price"].N)
		require.NotNil(t, got["market_name"].S)
		price, err := strconv.ParseUint(*got["price"].N, 10, 64)
		require.NoError(t, err)
		assert.True(t, price >= 1 && price <= writers)
		// Both attributes come from the same write
		assert.Equal(t, fmt.Sprintf("n%d", price), *got["market_name"].S)
		assert.Equal(t, "U1", *got["steader"].S)

		out, err := s.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "gotchi"})
		require.NoError(t, err)
		require.Len(t, out.Items, 1)
		assert.Equal(t, *got["price"].N, *out.Items[0]["price"].N)
	})

	t.Run("QueryKeepsExactLargePrices", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		prices := map[string]uint64{
			"big":    1 << 53,
			"bigger": 1<<53 + 1,
			"max":    1<<64 - 1,
		}
		for id, price := range prices {
			require.NoError(t, s.Put(ctx, Item("land", id, store.Record{"price": store.Uint(price)})))
		}

		out, err := s.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "land"})
		require.NoError(t, err)
		require.Len(t, out.Items, len(prices))
		for _, rec := range out.Items {
			id := *rec["id"].S
			assert.Equal(t, strconv.FormatUint(prices[id], 10), *rec["price"].N, id)
		}
	})

	t.Run("QueryEmptyCategory", func(t *testing.T) {
		s := newStore(t)
		out, err := s.Query(context.Background(), store.QueryInput{Index: store.CategoryPriceIndex, Category: "profile"})
		require.NoError(t, err)
		assert.NotNil(t, out.Items)
		assert.Empty(t, out.Items)
	})

	t.Run("QueryUnknownIndex", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Query(context.Background(), store.QueryInput{Index: "owner_index", Category: "gotchi"})
		assert.ErrorIs(t, err, store.ErrUnknownIndex)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func ids(items []store.Record) []string {
	out := make([]string, 0, len(items))
	for _, rec := range items {
		if v, ok := rec[store.IDAttr]; ok && v.S != nil {
			out = append(out, *v.S)
		}
	}
	sort.Strings(out)
	return out
}
