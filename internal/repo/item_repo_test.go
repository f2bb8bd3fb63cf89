package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/rfblock/hackagotchi/internal/db"
	"github.com/rfblock/hackagotchi/internal/store"
	"github.com/rfblock/hackagotchi/internal/store/storetest"
	"github.com/rfblock/hackagotchi/pkg/logger"
)

func setupTestDB(t *testing.T) *db.DB {
	database, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	// Run migrations
	err = db.RunMigrations(database)
	require.NoError(t, err)

	return database
}

func setupTestRepo(t *testing.T) *ItemRepository {
	log := logger.NewLogger("test", "info")
	return NewItemRepository(setupTestDB(t), log)
}

func TestItemRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return setupTestRepo(t)
	})
}

func TestQueryOrdersByPrice(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for id, price := range map[string]uint64{"x": 900, "y": 5, "z": 70} {
		rec := storetest.Item("gotchi", id, store.Record{"price": store.Uint(price), "market_name": store.String(id)})
		require.NoError(t, repo.Put(ctx, rec))
	}

	out, err := repo.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "gotchi"})
	require.NoError(t, err)
	require.Len(t, out.Items, 3)
	assert.Equal(t, "5", *out.Items[0]["price"].N)
	assert.Equal(t, "70", *out.Items[1]["price"].N)
	assert.Equal(t, "900", *out.Items[2]["price"].N)
}

func TestPutKeepsIndexColumnsInSync(t *testing.T) {
	database := setupTestDB(t)
	repo := NewItemRepository(database, logger.NewLogger("test", "info"))
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, storetest.Item("misc", "m-1", store.Record{"price": store.Uint(25)})))

	var row db.Item
	require.NoError(t, database.Where("category = ? AND id = ?", "misc", "m-1").First(&row).Error)
	assert.True(t, row.Listed)
	require.NotNil(t, row.Price)
	assert.Equal(t, int64(25), *row.Price)

	// Replacing the record without a price drops it from the index
	require.NoError(t, repo.Put(ctx, storetest.Item("misc", "m-1", nil)))
	require.NoError(t, database.Where("category = ? AND id = ?", "misc", "m-1").First(&row).Error)
	assert.False(t, row.Listed)
	assert.Nil(t, row.Price)
}

func TestQueryUndecodableAttributes(t *testing.T) {
	database := setupTestDB(t)
	repo := NewItemRepository(database, logger.NewLogger("test", "info"))
	ctx := context.Background()

	price := int64(10)
	require.NoError(t, database.Create(&db.Item{
		Category:   "land",
		ID:         "broken",
		Listed:     true,
		Price:      &price,
		Attributes: datatypes.JSON(`{"price": 10}`),
	}).Error)

	out, err := repo.Query(ctx, store.QueryInput{Index: store.CategoryPriceIndex, Category: "land"})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "broken", *out.Items[0]["id"].S)
	assert.NotContains(t, out.Items[0], "price")
}
