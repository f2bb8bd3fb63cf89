package repo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rfblock/hackagotchi/internal/db"
	"github.com/rfblock/hackagotchi/internal/store"
)

// ItemRepository is the SQL-backed item store
type ItemRepository struct {
	db  *db.DB
	log *zap.Logger
}

var _ store.Store = (*ItemRepository)(nil)

// NewItemRepository creates a new item repository
func NewItemRepository(database *db.DB, logger *zap.Logger) *ItemRepository {
	return &ItemRepository{
		db:  database,
		log: logger,
	}
}

// Query returns every listed item in a category, cheapest first
func (r *ItemRepository) Query(ctx context.Context, in store.QueryInput) (*store.QueryOutput, error) {
	if err := store.CheckIndex(in.Index); err != nil {
		return nil, err
	}

	var rows []*db.Item
	err := r.db.WithContext(ctx).
		Where("category = ? AND listed = ?", in.Category, true).
		Order("price ASC").
		Find(&rows).Error
	if err != nil {
		r.log.Error("Failed to query items", zap.String("category", in.Category), zap.Error(err))
		return nil, fmt.Errorf("failed to query items: %w", err)
	}

	items := make([]store.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Record()
		if err != nil {
			// Hand the codec the key alone so it rejects the record
			r.log.Warn("Failed to decode item attributes",
				zap.String("category", row.Category),
				zap.String("id", row.ID),
				zap.Error(err),
			)
			rec = store.Key{Category: row.Category, ID: row.ID}.Attributes()
		}
		items = append(items, rec)
	}

	return &store.QueryOutput{Items: items}, nil
}

// Update applies a partial update inside a transaction
func (r *ItemRepository) Update(ctx context.Context, in store.UpdateInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var row db.Item
		err := query.Where("category = ? AND id = ?", in.Key.Category, in.Key.ID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if len(in.Set) == 0 {
				return nil
			}
			return fmt.Errorf("%w: %s", store.ErrNotFound, in.Key)
		}
		if err != nil {
			r.log.Error("Failed to load item for update", zap.Stringer("key", in.Key), zap.Error(err))
			return fmt.Errorf("failed to load item: %w", err)
		}

		rec, err := row.Record()
		if err != nil {
			return err
		}
		rec.Apply(in.Set, in.Remove)
		if err := row.SetRecord(rec); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"attributes": row.Attributes,
			"listed":     row.Listed,
			"price":      row.Price,
		}
		err = tx.Model(&db.Item{}).
			Where("category = ? AND id = ?", in.Key.Category, in.Key.ID).
			Updates(updates).Error
		if err != nil {
			r.log.Error("Failed to update item", zap.Stringer("key", in.Key), zap.Error(err))
			return fmt.Errorf("failed to update item: %w", err)
		}

		return nil
	})
}

// Put creates or replaces a whole item record
func (r *ItemRepository) Put(ctx context.Context, rec store.Record) error {
	row, err := db.NewItem(rec)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"listed", "price", "attributes", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		r.log.Error("Failed to put item", zap.String("category", row.Category), zap.String("id", row.ID), zap.Error(err))
		return fmt.Errorf("failed to put item: %w", err)
	}

	return nil
}

// Get retrieves an item record by key
func (r *ItemRepository) Get(ctx context.Context, key store.Key) (store.Record, error) {
	var row db.Item
	err := r.db.WithContext(ctx).Where("category = ? AND id = ?", key.Category, key.ID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
		}
		r.log.Error("Failed to get item", zap.Stringer("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return row.Record()
}

// Delete removes an item record; deleting a missing item is not an error
func (r *ItemRepository) Delete(ctx context.Context, key store.Key) error {
	err := r.db.WithContext(ctx).
		Where("category = ? AND id = ?", key.Category, key.ID).
		Delete(&db.Item{}).Error
	if err != nil {
		r.log.Error("Failed to delete item", zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete item: %w", err)
	}

	return nil
}

// Ping checks the database connection
func (r *ItemRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close closes the database connection
func (r *ItemRepository) Close() error {
	return r.db.Close()
}
